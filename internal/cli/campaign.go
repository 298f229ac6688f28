package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/campaignflow/internal/continuity"
	appctx "github.com/lucasnoah/campaignflow/internal/context"
	"github.com/lucasnoah/campaignflow/internal/orchestrator"
	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Start, advance and inspect campaigns",
}

var campaignStartCmd = &cobra.Command{
	Use:   "start [campaign]",
	Short: "Collect upstream artifacts and create the workflow state",
	Long: `Reads the campaign's upstream artifacts (see "artifact put"), builds the
data collection context and creates the workflow state at data_collection.
Starting a campaign that already exists recovers it unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.orch.Start(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, s)
		}
		dc := s.Contexts.DataCollection
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Campaign %s at %s (version %d)\n", s.CampaignID, s.CurrentStage, s.Version)
		if dc != nil {
			fmt.Fprintf(w, "Data collection: %s, quality %d, sources %s\n",
				dc.CollectionStatus, dc.DataQualityScore, strings.Join(dc.SourcesPresent, ", "))
			if len(dc.SourcesMissing) > 0 {
				fmt.Fprintf(w, "Missing sources: %s\n", strings.Join(dc.SourcesMissing, ", "))
			}
		}
		return nil
	},
}

var campaignSubmitCmd = &cobra.Command{
	Use:   "submit [campaign] [stage] [file]",
	Short: "Submit a stage's raw output and advance on success",
	Long: `Decodes the stage output (YAML or JSON; "-" or no file reads stdin), builds
and checks its context, and when the gate passes hands it off and advances
the campaign. A rejected output leaves the campaign unchanged.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, err := pipeline.ParseStage(args[1])
		if err != nil {
			return err
		}
		var data []byte
		if len(args) == 3 && args[2] != "-" {
			data, err = os.ReadFile(args[2])
		} else {
			data, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("read stage output: %w", err)
		}
		raw, err := appctx.DecodeRaw(stage, data)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		traceID, _ := cmd.Flags().GetString("trace-id")
		res, submitErr := a.orch.Submit(cmd.Context(), args[0], stage, raw, traceID)
		if res == nil {
			return submitErr
		}
		if jsonOutput(cmd) {
			if err := writeJSON(cmd, res); err != nil {
				return err
			}
			return submitErr
		}
		printSubmit(cmd.OutOrStdout(), res)
		return submitErr
	},
}

func printSubmit(w io.Writer, res *orchestrator.SubmitResult) {
	fmt.Fprintf(w, "%s %s: %s (quality %d)\n", res.Campaign, res.Stage, res.Action, res.Check.QualityScore)
	for _, v := range res.Check.Violations {
		fmt.Fprintf(w, "  [%s] %s: %s\n", v.Class, v.Path, v.Message)
	}
	for _, warn := range res.Check.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	if len(res.Defaults) > 0 {
		fmt.Fprintf(w, "  defaulted: %s\n", strings.Join(res.Defaults, ", "))
	}
	if res.Envelope != nil {
		fmt.Fprintf(w, "  handoff %s (%s -> %s)\n", res.Envelope.HandoffID, res.Envelope.SourceStage, res.Envelope.TargetStage)
	}
	if res.Audit != nil {
		fmt.Fprintf(w, "  continuity %d\n", res.Audit.Overall)
		for _, t := range res.Audit.Fired() {
			fmt.Fprintf(w, "  ! %s\n", t.Action)
		}
	}
}

var campaignStatusCmd = &cobra.Command{
	Use:   "status [campaign]",
	Short: "Show the status of one or all campaigns",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		var infos []orchestrator.StatusInfo
		if len(args) == 1 {
			info, err := a.orch.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			infos = append(infos, *info)
		} else if infos, err = a.orch.StatusAll(cmd.Context()); err != nil {
			return err
		}

		if jsonOutput(cmd) {
			if infos == nil {
				infos = []orchestrator.StatusInfo{}
			}
			return writeJSON(cmd, infos)
		}
		if len(infos) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No campaigns found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CAMPAIGN\tSTAGE\tNEXT\tVERSION\tPROCESSING")
		for _, info := range infos {
			next := string(info.NextStage)
			if next == "" {
				next = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%dms\n", info.Campaign, info.Stage, next, info.Version, info.ProcessingMS)
		}
		return w.Flush()
	},
}

var campaignAuditCmd = &cobra.Command{
	Use:   "audit [campaign...]",
	Short: "Score the continuity of campaigns",
	Long: `Scores transition quality and information preservation of each campaign
and reports rollback recommendations. With no campaign every stored campaign
is audited. Audits never modify stored state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		reports, err := a.orch.AuditAll(cmd.Context(), args)
		if err != nil {
			return err
		}

		if jsonOutput(cmd) {
			if err := writeJSON(cmd, reports); err != nil {
				return err
			}
		} else if err := printAudits(cmd.OutOrStdout(), reports); err != nil {
			return err
		}

		strict, _ := cmd.Flags().GetBool("strict")
		if !strict {
			return nil
		}
		var failing []string
		for _, r := range reports {
			if !r.Compliant {
				failing = append(failing, r.CampaignID)
			}
		}
		if len(failing) > 0 {
			return fmt.Errorf("continuity below threshold: %s", strings.Join(failing, ", "))
		}
		return nil
	},
}

func printAudits(out io.Writer, reports []continuity.Report) error {
	if len(reports) == 0 {
		fmt.Fprintln(out, "No campaigns found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CAMPAIGN\tSTAGE\tOVERALL\tTRANSITIONS\tPRESERVATION\tHIGH\tCOMPLIANT")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%t\n",
			r.CampaignID, r.CurrentStage, r.Overall, r.TransitionQuality, r.PreservationScore, r.HighSeverityIssues, r.Compliant)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, r := range reports {
		for _, t := range r.Fired() {
			fmt.Fprintf(out, "%s: %s %d < %d, %s\n", r.CampaignID, t.Metric, t.Value, t.Threshold, t.Action)
		}
	}
	return nil
}

var campaignValidateCmd = &cobra.Command{
	Use:   "validate [campaign]",
	Short: "Check the accumulation invariants of a stored campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.orch.Validate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			if err := writeJSON(cmd, report); err != nil {
				return err
			}
		} else {
			w := cmd.OutOrStdout()
			if report.IsValid {
				fmt.Fprintf(w, "%s: accumulation is valid\n", args[0])
			}
			for _, is := range report.Issues {
				fmt.Fprintf(w, "  - %s\n", is)
			}
			for _, rec := range report.Recommendations {
				fmt.Fprintf(w, "  > %s\n", rec)
			}
		}
		if !report.IsValid {
			return errors.New("accumulation is invalid")
		}
		return nil
	},
}

var campaignHandoffCmd = &cobra.Command{
	Use:   "handoff [campaign] [source] [target]",
	Short: "Print the persisted envelope of a transition",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := pipeline.ParseStage(args[1])
		if err != nil {
			return err
		}
		target, err := pipeline.ParseStage(args[2])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		env, err := a.orch.Handoff(cmd.Context(), args[0], source, target)
		if err != nil {
			return err
		}
		return writeJSON(cmd, env)
	},
}

func init() {
	campaignSubmitCmd.Flags().String("trace-id", "", "Trace identifier recorded on the handoff envelope")
	campaignAuditCmd.Flags().Bool("strict", false, "Exit non-zero when any campaign is not compliant")
	addFormatFlag(campaignStartCmd, campaignSubmitCmd, campaignStatusCmd, campaignAuditCmd, campaignValidateCmd)

	campaignCmd.AddCommand(campaignStartCmd)
	campaignCmd.AddCommand(campaignSubmitCmd)
	campaignCmd.AddCommand(campaignStatusCmd)
	campaignCmd.AddCommand(campaignAuditCmd)
	campaignCmd.AddCommand(campaignValidateCmd)
	campaignCmd.AddCommand(campaignHandoffCmd)
}
