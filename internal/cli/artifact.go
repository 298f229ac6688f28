package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	appctx "github.com/lucasnoah/campaignflow/internal/context"
	"github.com/lucasnoah/campaignflow/internal/gateway"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Store and list upstream research artifacts",
}

var artifactPutCmd = &cobra.Command{
	Use:   "put [campaign] [name] [file]",
	Short: "Store an upstream artifact for a campaign",
	Long: `Stores a YAML or JSON research document ("-" or no file reads stdin).
Known names: ` + strings.Join(appctx.ArtifactNames, ", ") + `.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		campaign, name := args[0], args[1]
		if err := gateway.ValidateCampaignID(campaign); err != nil {
			return err
		}
		var (
			data []byte
			err  error
		)
		if len(args) == 3 && args[2] != "-" {
			data, err = os.ReadFile(args[2])
		} else {
			data, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("read artifact: %w", err)
		}
		if _, err := appctx.ParseArtifact(name, data); err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		key := gateway.ArtifactKey(campaign, name)
		if err := a.store.gw.Put(cmd.Context(), key, data); err != nil {
			return fmt.Errorf("store artifact: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", key)
		return nil
	},
}

var artifactListCmd = &cobra.Command{
	Use:   "list [campaign]",
	Short: "List which upstream artifacts a campaign has",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		w := cmd.OutOrStdout()
		for _, name := range appctx.ArtifactNames {
			ok, err := a.store.gw.Exists(cmd.Context(), gateway.ArtifactKey(args[0], name))
			if err != nil {
				return err
			}
			mark := "missing"
			if ok {
				mark = "present"
			}
			fmt.Fprintf(w, "%-22s %s\n", name, mark)
		}
		return nil
	},
}

func init() {
	artifactCmd.AddCommand(artifactPutCmd)
	artifactCmd.AddCommand(artifactListCmd)
}
