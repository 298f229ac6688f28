// Package analytics summarizes the pipeline_events table of the sqlite
// backend: how long stages take, how often gates reject, and how many
// campaigns start and reach delivery each week.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// StageDuration holds duration stats for a stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_minutes"`
	P50   float64 `json:"p50_minutes"`
	P95   float64 `json:"p95_minutes"`
}

// timestamp formats to try when parsing timestamps from the database
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// QueryStageDurations returns average and percentile durations per stage.
// Each stage_advanced event is paired with the most recent prior started or
// stage_advanced event of the same campaign; the time in between is
// attributed to the stage that was submitted.
func QueryStageDurations(ctx context.Context, database DB, since string) ([]StageDuration, error) {
	query := `
		SELECT pe1.stage, pe1.timestamp as end_ts,
			(SELECT MAX(pe2.timestamp) FROM pipeline_events pe2
			 WHERE pe2.campaign = pe1.campaign
			 AND pe2.event IN ('started', 'stage_advanced')
			 AND pe2.id < pe1.id) as start_ts
		FROM pipeline_events pe1
		WHERE pe1.event = 'stage_advanced'
		AND pe1.stage != ''`

	args := []any{}
	if since != "" {
		query += ` AND pe1.timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	stageDurations := make(map[string][]float64)
	for rows.Next() {
		var stage, endTS string
		var startTS sql.NullString
		if err := rows.Scan(&stage, &endTS, &startTS); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		if !startTS.Valid {
			continue
		}
		start, err := parseTimestamp(startTS.String)
		if err != nil {
			continue
		}
		end, err := parseTimestamp(endTS)
		if err != nil {
			continue
		}
		if minutes := end.Sub(start).Minutes(); minutes > 0 {
			stageDurations[stage] = append(stageDurations[stage], minutes)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for stage, durations := range stageDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}
	sortByStage(results, func(d StageDuration) string { return d.Stage })
	return results, nil
}

// GateOutcome holds submission outcomes for one stage.
type GateOutcome struct {
	Stage       string  `json:"stage"`
	Submissions int     `json:"submissions"`
	Advanced    int     `json:"advanced"`
	Rejected    int     `json:"rejected"`
	BuildFailed int     `json:"build_failed"`
	AcceptRate  float64 `json:"accept_pct"`
}

// QueryGateOutcomes counts how submissions of each stage ended. Every
// stage_advanced, rejected and build_failed event is one submission.
func QueryGateOutcomes(ctx context.Context, database DB, since string) ([]GateOutcome, error) {
	query := `
		SELECT stage,
			COUNT(*) as total,
			SUM(CASE WHEN event = 'stage_advanced' THEN 1 ELSE 0 END) as advanced,
			SUM(CASE WHEN event = 'rejected' THEN 1 ELSE 0 END) as rejected,
			SUM(CASE WHEN event = 'build_failed' THEN 1 ELSE 0 END) as build_failed
		FROM pipeline_events
		WHERE event IN ('stage_advanced', 'rejected', 'build_failed')
		AND stage != ''`

	args := []any{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY stage`

	rows, err := database.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gate outcomes: %w", err)
	}
	defer rows.Close()

	var results []GateOutcome
	for rows.Next() {
		var g GateOutcome
		if err := rows.Scan(&g.Stage, &g.Submissions, &g.Advanced, &g.Rejected, &g.BuildFailed); err != nil {
			return nil, fmt.Errorf("scan gate outcome: %w", err)
		}
		g.AcceptRate = pct(g.Advanced, g.Submissions)
		results = append(results, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByStage(results, func(g GateOutcome) string { return g.Stage })
	return results, nil
}

// Throughput holds campaign throughput for one week.
type Throughput struct {
	Period      string  `json:"period"`
	Started     int     `json:"started"`
	Delivered   int     `json:"delivered"`
	Rejections  int     `json:"rejections"`
	AvgDuration float64 `json:"avg_duration_hours"`
}

// QueryThroughput returns campaign counts grouped by week, newest first.
// A campaign is delivered when its delivery stage advances.
func QueryThroughput(ctx context.Context, database DB, since string) ([]Throughput, error) {
	query := `
		SELECT
			strftime('%Y-W%W', timestamp) as period,
			SUM(CASE WHEN event = 'started' THEN 1 ELSE 0 END) as started,
			SUM(CASE WHEN event = 'stage_advanced' AND stage = ? THEN 1 ELSE 0 END) as delivered,
			SUM(CASE WHEN event = 'rejected' THEN 1 ELSE 0 END) as rejections
		FROM pipeline_events
		WHERE event IN ('started', 'stage_advanced', 'rejected')`

	args := []any{string(pipeline.StageDelivery)}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY period ORDER BY period DESC LIMIT 10`

	rows, err := database.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query throughput: %w", err)
	}
	defer rows.Close()

	var results []Throughput
	for rows.Next() {
		var tp Throughput
		if err := rows.Scan(&tp.Period, &tp.Started, &tp.Delivered, &tp.Rejections); err != nil {
			return nil, fmt.Errorf("scan throughput: %w", err)
		}
		results = append(results, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Average start-to-delivery time of campaigns delivered in the period.
	durQuery := `
		SELECT AVG((julianday(pe1.timestamp) -
			julianday((SELECT MIN(pe2.timestamp) FROM pipeline_events pe2
			 WHERE pe2.campaign = pe1.campaign AND pe2.event = 'started'))) * 24)
		FROM pipeline_events pe1
		WHERE pe1.event = 'stage_advanced' AND pe1.stage = ?
		AND strftime('%Y-W%W', pe1.timestamp) = ?`
	for i := range results {
		var avgHours sql.NullFloat64
		err := database.Conn().QueryRowContext(ctx, durQuery, string(pipeline.StageDelivery), results[i].Period).Scan(&avgHours)
		if err != nil {
			return nil, fmt.Errorf("query delivery duration: %w", err)
		}
		if avgHours.Valid {
			results[i].AvgDuration = math.Round(avgHours.Float64*10) / 10
		}
	}
	return results, nil
}

// Summary bundles every report.
type Summary struct {
	Since      string          `json:"since,omitempty"`
	Durations  []StageDuration `json:"stage_durations"`
	Gates      []GateOutcome   `json:"gate_outcomes"`
	Throughput []Throughput    `json:"throughput"`
}

// Summarize runs every query with the same since filter.
func Summarize(ctx context.Context, database DB, since string) (*Summary, error) {
	s := &Summary{Since: since}
	var err error
	if s.Durations, err = QueryStageDurations(ctx, database, since); err != nil {
		return nil, err
	}
	if s.Gates, err = QueryGateOutcomes(ctx, database, since); err != nil {
		return nil, err
	}
	if s.Throughput, err = QueryThroughput(ctx, database, since); err != nil {
		return nil, err
	}
	return s, nil
}

// --- helpers ---

// sortByStage orders rows by pipeline position; unknown stages go last.
func sortByStage[T any](rows []T, stage func(T) string) {
	pos := func(s string) int {
		if st, err := pipeline.ParseStage(s); err == nil {
			return st.Index()
		}
		return len(pipeline.ExpectedProgression)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return pos(stage(rows[i])) < pos(stage(rows[j]))
	})
}

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
