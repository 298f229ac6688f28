// Package gateway defines the document store the pipeline persists through
// and the well-known key scheme every backend shares.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

var (
	// ErrNotFound is returned by Get when no document exists under a key.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned by PutIfVersion when the stored version moved.
	ErrConflict = errors.New("document version conflict")
)

// Gateway reads and writes opaque documents by key.
type Gateway interface {
	Put(ctx context.Context, key string, doc []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Versioned is implemented by gateways that can compare-and-swap. Versions
// start at 1 on first write; expected 0 means "must not exist yet".
type Versioned interface {
	Gateway
	GetVersioned(ctx context.Context, key string) ([]byte, int64, error)
	PutIfVersion(ctx context.Context, key string, doc []byte, expected int64) (int64, error)
}

// Lister is implemented by gateways that can enumerate keys.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

var campaignIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateCampaignID rejects ids that cannot be used as a key namespace.
func ValidateCampaignID(id string) error {
	if !campaignIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid campaign id %q", id)
	}
	return nil
}

// StateKey is where the workflow state of a campaign lives.
func StateKey(campaign string) string {
	return campaign + "/workflow-state"
}

// ContextKey is where the latest context of a stage lives.
func ContextKey(campaign string, stage pipeline.Stage) string {
	return fmt.Sprintf("%s/%s-context", campaign, stage)
}

// HandoffKey is where the envelope of one transition lives.
func HandoffKey(campaign string, source, target pipeline.Stage) string {
	return fmt.Sprintf("%s/handoffs/%s-to-%s", campaign, source, target)
}

// ArtifactKey is where an upstream data artifact lives.
func ArtifactKey(campaign, name string) string {
	return campaign + "/artifacts/" + name
}

// CampaignIDs lists campaigns that have a persisted workflow state.
func CampaignIDs(ctx context.Context, l Lister) ([]string, error) {
	keys, err := l.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, k := range keys {
		if id, ok := strings.CutSuffix(k, "/workflow-state"); ok && !strings.Contains(id, "/") {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
