package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/campaignflow/internal/analytics"
	"github.com/lucasnoah/campaignflow/internal/db"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Stage durations, gate outcomes and weekly throughput (sqlite backend)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage.Backend != "sqlite" {
			return fmt.Errorf("analytics needs the sqlite backend, have %q", cfg.Storage.Backend)
		}
		path := cfg.Storage.Path
		if path == "" {
			if path, err = db.DefaultDBPath(); err != nil {
				return err
			}
		}
		d, err := db.Open(path)
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		since, _ := cmd.Flags().GetString("since")
		summary, err := analytics.Summarize(cmd.Context(), d, since)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, summary)
		}
		return printAnalytics(cmd.OutOrStdout(), summary)
	},
}

func printAnalytics(out io.Writer, s *analytics.Summary) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "STAGE\tRUNS\tAVG MIN\tP50\tP95")
	for _, d := range s.Durations {
		fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.1f\n", d.Stage, d.Count, d.Avg, d.P50, d.P95)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "STAGE\tSUBMITTED\tADVANCED\tREJECTED\tBUILD FAILED\tACCEPT %")
	for _, g := range s.Gates {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.1f\n", g.Stage, g.Submissions, g.Advanced, g.Rejected, g.BuildFailed, g.AcceptRate)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "WEEK\tSTARTED\tDELIVERED\tREJECTIONS\tAVG HOURS")
	for _, tp := range s.Throughput {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f\n", tp.Period, tp.Started, tp.Delivered, tp.Rejections, tp.AvgDuration)
	}
	return w.Flush()
}

func init() {
	analyticsCmd.Flags().String("since", "", "Only count events at or after this timestamp (e.g. 2026-01-01)")
	addFormatFlag(analyticsCmd)
}
