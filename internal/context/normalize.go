package context

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// Normalizer converts a raw value into the field's type. ok is false when
// the value cannot be used.
type Normalizer func(v any) (out any, ok bool)

// foldText prepares free text for keyword matching.
func foldText(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
}

// negators cancel a keyword when they appear in the two words before it.
var negators = map[string]bool{
	"not": true, "no": true, "never": true, "without": true,
	"rarely": true, "hardly": true, "seldom": true,
}

var contractions = strings.NewReplacer("n't", " not", "n’t", " not")

// keywordRule maps any of its keywords to value. A keyword of several
// words matches that word sequence.
type keywordRule struct {
	value    string
	keywords []string
}

// matchKeywords scores every rule by its number of non-negated keyword
// hits and returns the best one. Ties go to the earlier rule.
func matchKeywords(rules []keywordRule, text string) (string, bool) {
	ws := words(contractions.Replace(foldText(text)))
	if len(ws) == 0 {
		return "", false
	}
	best, bestScore := "", 0
	for _, r := range rules {
		score := 0
		for _, kw := range r.keywords {
			score += countWords(ws, words(kw))
		}
		if score > bestScore {
			best, bestScore = r.value, score
		}
	}
	return best, bestScore > 0
}

// countWords counts the occurrences of seq in ws that are not negated.
func countWords(ws, seq []string) int {
	n := 0
	for i := 0; i+len(seq) <= len(ws); i++ {
		if slices.Equal(ws[i:i+len(seq)], seq) && !negated(ws, i) {
			n++
		}
	}
	return n
}

func negated(ws []string, i int) bool {
	for j := max(0, i-2); j < i; j++ {
		if negators[ws[j]] {
			return true
		}
	}
	return false
}

// Rule order breaks ties between equally scored rules.
var seasonKeywords = []keywordRule{
	{pipeline.SeasonYearRound, []string{"year-round", "year round", "all year", "anytime", "evergreen"}},
	{pipeline.SeasonSpring, []string{"spring", "march", "april", "easter", "blossom", "springtime"}},
	{pipeline.SeasonSummer, []string{"summer", "june", "july", "august", "beach", "midsummer", "summertime"}},
	{pipeline.SeasonAutumn, []string{"autumn", "in the fall", "this fall", "fall season", "september", "october", "november", "harvest", "foliage"}},
	{pipeline.SeasonWinter, []string{"winter", "december", "january", "february", "christmas", "ski", "snow", "festive"}},
}

var demandKeywords = []keywordRule{
	{pipeline.DemandLow, []string{"off-peak", "low", "weak", "quiet", "slow", "soft"}},
	{pipeline.DemandHigh, []string{"high", "peak", "strong", "surge", "busy", "hot", "sold"}},
	{pipeline.DemandMedium, []string{"medium", "moderate", "average", "steady", "normal"}},
}

var layoutKeywords = []keywordRule{
	{pipeline.LayoutSingleColumn, []string{"single_column", "single column", "single-column", "one column", "single"}},
	{pipeline.LayoutTwoColumn, []string{"two_column", "two column", "two-column", "split", "two"}},
	{pipeline.LayoutGrid, []string{"grid", "mosaic", "gallery"}},
	{pipeline.LayoutHero, []string{"hero", "banner", "full-bleed"}},
}

var approvalKeywords = []keywordRule{
	{pipeline.ApprovalNeedsChanges, []string{"needs_changes", "needs changes", "changes", "revise", "revision", "rework"}},
	{pipeline.ApprovalRejected, []string{"rejected", "reject", "declined", "denied", "fail", "failed"}},
	{pipeline.ApprovalApproved, []string{"approved", "approve", "accepted", "pass", "passed", "ok", "lgtm"}},
}

var channelKeywords = []keywordRule{
	{pipeline.ChannelEmail, []string{"email", "e-mail", "mail", "newsletter"}},
	{pipeline.ChannelSMS, []string{"sms", "text", "mms"}},
	{pipeline.ChannelPush, []string{"push", "notification", "app"}},
}

var deliveryStatusKeywords = []keywordRule{
	{pipeline.DeliverySent, []string{"sent", "delivered", "dispatched"}},
	{pipeline.DeliveryScheduled, []string{"scheduled", "queued", "planned"}},
	{pipeline.DeliveryDraft, []string{"draft", "pending", "new"}},
}

func keywordNormalizer(rules []keywordRule) Normalizer {
	return func(v any) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		return matchKeywords(rules, s)
	}
}

var (
	Season         = keywordNormalizer(seasonKeywords)
	Demand         = keywordNormalizer(demandKeywords)
	Layout         = keywordNormalizer(layoutKeywords)
	ApprovalStatus = keywordNormalizer(approvalKeywords)
	Channel        = keywordNormalizer(channelKeywords)
	DeliveryStatus = keywordNormalizer(deliveryStatusKeywords)
)

// Text accepts non-blank strings and scalars rendered as text.
func Text(v any) (any, bool) {
	switch t := v.(type) {
	case string:
		s := norm.NFC.String(strings.TrimSpace(t))
		return s, s != ""
	case int, int64, float64, bool:
		return fmt.Sprint(t), true
	}
	return nil, false
}

// Upper is Text upper-cased, used for currency and WCAG codes.
func Upper(v any) (any, bool) {
	s, ok := Text(v)
	if !ok {
		return nil, false
	}
	return strings.ToUpper(s.(string)), true
}

// Price accepts numbers and numeric-looking strings. Every character other
// than digits and the decimal point is stripped from strings.
func Price(v any) (any, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), t >= 0
	case int64:
		return float64(t), t >= 0
	case uint64:
		return float64(t), true
	case float64:
		return t, t >= 0 && !math.IsNaN(t) && !math.IsInf(t, 0)
	case string:
		var b strings.Builder
		for _, r := range t {
			if unicode.IsDigit(r) || r == '.' {
				b.WriteRune(r)
			}
		}
		f, err := strconv.ParseFloat(b.String(), 64)
		if err != nil {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

// Int accepts integral numbers and numeric strings.
func Int(v any) (any, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t != math.Trunc(t) {
			return nil, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil, false
		}
		return n, true
	}
	return nil, false
}

// Percent is Int clamped to [0,100].
func Percent(v any) (any, bool) {
	n, ok := Int(v)
	if !ok {
		if f, fok := v.(float64); fok {
			n, ok = int(math.Round(f)), true
		}
	}
	if !ok {
		return nil, false
	}
	return min(max(n.(int), 0), 100), true
}

// Bool accepts booleans and yes/no style strings.
func Bool(v any) (any, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch foldText(t) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0":
			return false, true
		}
	}
	return nil, false
}

// StringList accepts a list of scalars or a single comma separated string.
func StringList(v any) (any, bool) {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, el := range t {
			if s, ok := Text(el); ok {
				out = append(out, s.(string))
			}
		}
	case []string:
		for _, el := range t {
			if s, ok := Text(el); ok {
				out = append(out, s.(string))
			}
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			if s, ok := Text(part); ok {
				out = append(out, s.(string))
			}
		}
	default:
		return nil, false
	}
	return out, len(out) > 0
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02", "02 Jan 2006", "January 2, 2006"}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// Time accepts timestamps and common date strings, normalized to UTC.
func Time(v any) (any, bool) {
	ts, ok := parseTime(v)
	if !ok {
		return nil, false
	}
	return ts, true
}

// Dates accepts a list of dates, either bare values or {date, reason}
// objects. Entries that do not parse are dropped; the result is sorted.
func Dates(v any) (any, bool) {
	list, ok := v.([]any)
	if !ok {
		if _, single := parseTime(v); single {
			list = []any{v}
		} else {
			return nil, false
		}
	}
	var out []pipeline.CandidateDate
	for _, el := range list {
		switch e := el.(type) {
		case map[string]any:
			ts, ok := parseTime(e["date"])
			if !ok {
				continue
			}
			reason, _ := e["reason"].(string)
			out = append(out, pipeline.CandidateDate{Date: ts, Reason: reason})
		default:
			if ts, ok := parseTime(e); ok {
				out = append(out, pipeline.CandidateDate{Date: ts})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, len(out) > 0
}

// CandidateDates derives placeholder dates: the 1st and 15th of each of the
// next months months after now, in UTC.
func CandidateDates(now time.Time, months int) []pipeline.CandidateDate {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	out := make([]pipeline.CandidateDate, 0, months*2)
	for i := 1; i <= months; i++ {
		m := first.AddDate(0, i, 0)
		for _, day := range []int{1, 15} {
			out = append(out, pipeline.CandidateDate{
				Date:      m.AddDate(0, 0, day-1),
				Reason:    "generated: no dates supplied",
				Generated: true,
			})
		}
	}
	return out
}

// Assets accepts a list of asset objects or bare URLs. Entries without an
// id receive a positional one derived from prefix.
func Assets(prefix string) Normalizer {
	return func(v any) (any, bool) {
		list, ok := v.([]any)
		if !ok {
			return nil, false
		}
		out := make([]pipeline.Asset, 0, len(list))
		for i, el := range list {
			var a pipeline.Asset
			switch e := el.(type) {
			case string:
				a.URL = strings.TrimSpace(e)
			case map[string]any:
				a.ID, _ = e["id"].(string)
				a.URL, _ = e["url"].(string)
				a.Alt, _ = e["alt"].(string)
				a.Role, _ = e["role"].(string)
				a.Source, _ = e["source"].(string)
			default:
				continue
			}
			if a.URL == "" && a.ID == "" {
				continue
			}
			if a.ID == "" {
				a.ID = fmt.Sprintf("%s-%d", prefix, i+1)
			}
			out = append(out, a)
		}
		return out, true
	}
}

// RenderingTests accepts a list of {client, passed, notes} objects.
func RenderingTests(v any) (any, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	var out []pipeline.RenderingTest
	for _, el := range list {
		e, ok := el.(map[string]any)
		if !ok {
			continue
		}
		client, _ := e["client"].(string)
		if client == "" {
			continue
		}
		passed, _ := Bool(e["passed"])
		p, _ := passed.(bool)
		notes, _ := e["notes"].(string)
		out = append(out, pipeline.RenderingTest{Client: client, Passed: p, Notes: notes})
	}
	return out, len(out) > 0
}

// Section accepts any non-empty object.
func Section(v any) (any, bool) {
	m, ok := v.(map[string]any)
	return m, ok && len(m) > 0
}
