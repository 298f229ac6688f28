package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lucasnoah/campaignflow/internal/orchestrator"
)

// resetFlags restores every flag in the tree to its default. The commands
// are package-level, so values parsed by one run (--help included) would
// otherwise leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func executeCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(nil)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// executeSplit keeps stdout apart from logs and cobra's error output, and
// feeds stdin.
func executeSplit(stdin io.Reader, args ...string) (string, string, error) {
	resetFlags(rootCmd)
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetIn(stdin)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

// writeCLIConfig writes a file-backed configuration rooted in a temp dir.
func writeCLIConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`storage:
  backend: file
  dir: %s
logging:
  level: error
`, filepath.Join(dir, "state"))
	path := filepath.Join(dir, "campaignflow.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{"campaign", "artifact", "config", "db", "serve", "analytics", "version"}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestCampaignSubcommands(t *testing.T) {
	subcmds := []string{"start", "submit", "status", "audit", "validate", "handoff"}
	for _, sub := range subcmds {
		out, err := executeCommand("campaign", sub, "--help")
		if err != nil {
			t.Errorf("campaign %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("campaign %s --help produced no output", sub)
		}
	}
}

func TestArtifactAndDBSubcommands(t *testing.T) {
	for _, args := range [][]string{
		{"artifact", "put"}, {"artifact", "list"},
		{"db", "migrate"}, {"db", "reset"},
		{"config", "validate"}, {"config", "show"},
	} {
		out, err := executeCommand(append(args, "--help")...)
		if err != nil {
			t.Errorf("%v --help failed: %v", args, err)
		}
		if out == "" {
			t.Errorf("%v --help produced no output", args)
		}
	}
}

func TestHelpDoesNotLeakIntoNextRun(t *testing.T) {
	if _, err := executeCommand("config", "validate", "--help"); err != nil {
		t.Fatalf("help: %v", err)
	}
	out, _, err := executeSplit(nil, "config", "validate", "--config", writeCLIConfig(t))
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("second run printed %q, want validation output", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}

func TestConfigShowAndValidate(t *testing.T) {
	path := writeCLIConfig(t)

	out, _, err := executeSplit(nil, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "backend: file") {
		t.Errorf("config show missing backend, got:\n%s", out)
	}
	if !strings.Contains(out, "hard_gate_score:") {
		t.Errorf("config show should include defaults, got:\n%s", out)
	}

	out, _, err = executeSplit(nil, "config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("config validate output = %q", out)
	}
}

func TestConfigValidateReportsErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  backend: redis\n"), 0644); err != nil {
		t.Fatal(err)
	}
	out, _, err := executeSplit(nil, "config", "validate", "--config", path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(out, "storage.backend") {
		t.Errorf("expected storage.backend in output, got %q", out)
	}
}

func TestDBResetRequiresConfirmation(t *testing.T) {
	_, _, err := executeSplit(nil, "db", "reset", "--yes=false", "--config", writeCLIConfig(t))
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Errorf("err = %v, want refusal without --yes", err)
	}
}

func TestDBMigrateRejectsFileBackend(t *testing.T) {
	_, _, err := executeSplit(nil, "db", "migrate", "--config", writeCLIConfig(t))
	if err == nil || !strings.Contains(err.Error(), "has no database") {
		t.Errorf("err = %v, want backend error", err)
	}
}

func TestArtifactPutRejectsUnknownName(t *testing.T) {
	_, _, err := executeSplit(strings.NewReader("a: 1\n"),
		"artifact", "put", "lisbon-autumn", "weather-report", "--config", writeCLIConfig(t))
	if err == nil || !strings.Contains(err.Error(), "unknown artifact") {
		t.Errorf("err = %v, want unknown artifact", err)
	}
}

func TestCampaignFlow(t *testing.T) {
	cfg := writeCLIConfig(t)
	const campaign = "lisbon-autumn"

	artifacts := map[string]string{
		"destination-analysis": "destination: Lisbon\nhighlights: [alfama, belem]\n",
		"market-intelligence":  `{"demand": "high", "competitors": 4}`,
		"emotional-profile":    "mood: nostalgic\n",
		"trend-analysis":       "trend: rising\n",
	}
	for name, doc := range artifacts {
		if _, _, err := executeSplit(strings.NewReader(doc), "artifact", "put", campaign, name, "-", "--config", cfg); err != nil {
			t.Fatalf("artifact put %s: %v", name, err)
		}
	}

	out, _, err := executeSplit(nil, "artifact", "list", campaign, "--config", cfg)
	if err != nil {
		t.Fatalf("artifact list: %v", err)
	}
	if !strings.Contains(out, "trend-analysis") || !strings.Contains(out, "present") {
		t.Errorf("artifact list = %q", out)
	}
	if !strings.Contains(out, "missing") {
		t.Errorf("pricing-intelligence should be missing, got %q", out)
	}

	out, _, err = executeSplit(nil, "campaign", "start", campaign, "--format", "text", "--config", cfg)
	if err != nil {
		t.Fatalf("campaign start: %v", err)
	}
	if !strings.Contains(out, "at data_collection (version 1)") {
		t.Errorf("campaign start output = %q", out)
	}

	content := filepath.Join("testdata", "content.yaml")
	out, _, err = executeSplit(nil, "campaign", "submit", campaign, "content", content,
		"--format", "text", "--trace-id", "cli-trace", "--config", cfg)
	if err != nil {
		t.Fatalf("campaign submit: %v\n%s", err, out)
	}
	if !strings.Contains(out, "content: advanced") {
		t.Errorf("submit output = %q", out)
	}
	if !strings.Contains(out, "handoff ") {
		t.Errorf("submit output should report the handoff, got %q", out)
	}

	out, _, err = executeSplit(nil, "campaign", "status", campaign, "--format", "json", "--config", cfg)
	if err != nil {
		t.Fatalf("campaign status: %v", err)
	}
	var infos []orchestrator.StatusInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if len(infos) != 1 || infos[0].Stage != "content" || infos[0].Version != 2 {
		t.Errorf("status = %+v", infos)
	}

	out, _, err = executeSplit(nil, "campaign", "handoff", campaign, "data_collection", "content", "--config", cfg)
	if err != nil {
		t.Fatalf("campaign handoff: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env["trace_id"] != "cli-trace" || env["target_stage"] != "content" {
		t.Errorf("envelope = %v", env)
	}

	out, _, err = executeSplit(nil, "campaign", "validate", campaign, "--format", "text", "--config", cfg)
	if err != nil {
		t.Fatalf("campaign validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "accumulation is valid") {
		t.Errorf("validate output = %q", out)
	}

	out, _, err = executeSplit(nil, "campaign", "audit", "--format", "text", "--strict=false", "--config", cfg)
	if err != nil {
		t.Fatalf("campaign audit: %v", err)
	}
	if !strings.Contains(out, "CAMPAIGN") || !strings.Contains(out, campaign) {
		t.Errorf("audit output = %q", out)
	}

	// Skipping design is refused and leaves the campaign where it was.
	delivery := filepath.Join("testdata", "delivery.yaml")
	_, _, err = executeSplit(nil, "campaign", "submit", campaign, "delivery", delivery,
		"--format", "text", "--trace-id", "", "--config", cfg)
	if err == nil {
		t.Fatal("expected ordering error when skipping design")
	}
	out, _, err = executeSplit(nil, "campaign", "status", "--format", "text", "--config", cfg)
	if err != nil {
		t.Fatalf("campaign status: %v", err)
	}
	if !strings.Contains(out, "content") || !strings.Contains(out, "design") {
		t.Errorf("campaign should still be at content, got %q", out)
	}
}

func TestCampaignStatusEmpty(t *testing.T) {
	out, _, err := executeSplit(nil, "campaign", "status", "--format", "json", "--config", writeCLIConfig(t))
	if err != nil {
		t.Fatalf("campaign status: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("status of empty store = %q, want []", out)
	}
}

func TestAnalyticsSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "campaignflow.yaml")
	body := fmt.Sprintf("storage:\n  backend: sqlite\n  path: %s\nlogging:\n  level: error\n", filepath.Join(dir, "cf.db"))
	if err := os.WriteFile(cfg, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := executeSplit(strings.NewReader("destination: Lisbon\n"),
		"artifact", "put", "lisbon-autumn", "destination-analysis", "--config", cfg); err != nil {
		t.Fatalf("artifact put: %v", err)
	}
	if _, _, err := executeSplit(nil, "campaign", "start", "lisbon-autumn", "--format", "text", "--config", cfg); err != nil {
		t.Fatalf("campaign start: %v", err)
	}
	if _, _, err := executeSplit(nil, "db", "migrate", "--config", cfg); err != nil {
		t.Fatalf("db migrate: %v", err)
	}

	out, _, err := executeSplit(nil, "analytics", "--format", "json", "--since", "", "--config", cfg)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	var summary struct {
		Throughput []struct {
			Started int `json:"started"`
		} `json:"throughput"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode analytics: %v\n%s", err, out)
	}
	if len(summary.Throughput) != 1 || summary.Throughput[0].Started != 1 {
		t.Errorf("throughput = %+v", summary.Throughput)
	}
}

func TestAnalyticsNeedsSQLite(t *testing.T) {
	_, _, err := executeSplit(nil, "analytics", "--format", "text", "--config", writeCLIConfig(t))
	if err == nil || !strings.Contains(err.Error(), "sqlite") {
		t.Errorf("err = %v, want sqlite requirement", err)
	}
}
