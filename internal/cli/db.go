package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/campaignflow/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management for the sqlite and postgres backends",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		switch cfg.Storage.Backend {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("storage backend %q has no database", cfg.Storage.Backend)
		}
		// openStorage migrates on open.
		s, err := openStorage(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}
		defer s.close()
		fmt.Fprintf(cmd.OutOrStdout(), "Migrated %s database.\n", cfg.Storage.Backend)
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate all tables (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("refusing to reset without --yes")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		switch cfg.Storage.Backend {
		case "sqlite":
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
			if err := d.Reset(); err != nil {
				return err
			}
		case "postgres":
			pg, err := db.OpenPostgres(cmd.Context(), cfg.Storage.DSN)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.Reset(cmd.Context()); err != nil {
				return err
			}
		default:
			return fmt.Errorf("storage backend %q has no database", cfg.Storage.Backend)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset %s database.\n", cfg.Storage.Backend)
		return nil
	},
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "Confirm the destructive reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
