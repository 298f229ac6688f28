package checks

import (
	"context"
	"strings"

	"github.com/lucasnoah/campaignflow/internal/gateway"
	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// RequiredKeys expands the configured dependencies of stage into gateway
// keys. Entries containing "{campaign}" are key templates; bare names are
// upstream artifacts of the campaign.
func (c *Checker) RequiredKeys(stage pipeline.Stage, campaign string) []string {
	names := c.opts.RequiredArtifacts[stage]
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, 0, len(names))
	for _, n := range names {
		if strings.Contains(n, "{campaign}") {
			keys = append(keys, strings.ReplaceAll(n, "{campaign}", campaign))
			continue
		}
		keys = append(keys, gateway.ArtifactKey(campaign, n))
	}
	return keys
}

// ResolveAvailable asks the gateway whether each key exists. A failed lookup is a
// persistence error, not a missing artifact.
func ResolveAvailable(ctx context.Context, gw gateway.Gateway, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		ok, err := gw.Exists(ctx, k)
		if err != nil {
			return nil, &pipeline.PersistenceError{Op: "exists", Key: k, Err: err}
		}
		out[k] = ok
	}
	return out, nil
}

// artifactName shortens key for violation paths.
func artifactName(campaign, key string) string {
	rest := strings.TrimPrefix(key, campaign+"/")
	return strings.TrimPrefix(rest, "artifacts/")
}
