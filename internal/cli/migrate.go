package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gitflow-ai/gitflow-mcp/internal/config"
	"github.com/gitflow-ai/gitflow-mcp/internal/database"
	"github.com/gitflow-ai/gitflow-mcp/internal/logging"
)

// NewMigrateCmd creates the migrate command. It needs only DATABASE_URL,
// not the full server configuration.
func NewMigrateCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ran, err := m.Run(cmd.Context(), dryRun)
			for _, version := range ran {
				if dryRun {
					color.Yellow("would apply %s", version)
				} else {
					color.Green("applied %s", version)
				}
			}
			if err != nil {
				return err
			}
			if len(ran) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List pending migrations without applying them")

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}
			for _, st := range statuses {
				if st.Applied {
					color.Green("applied  %s  (%s, %dms)", st.Version, st.AppliedAt.Format("2006-01-02 15:04:05"), st.ExecutionTimeMs)
				} else {
					color.Yellow("pending  %s", st.Version)
				}
			}
			return nil
		},
	})

	return cmd
}

func openMigrator(cmd *cobra.Command) (*database.Migrator, func(), error) {
	logging.Init("info")

	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}

	db, err := database.Open(cmd.Context(), config.DatabaseConfig{URL: dsn, PoolMin: 1, PoolMax: 2})
	if err != nil {
		return nil, nil, err
	}
	m, err := database.NewMigrator(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return m, func() { _ = db.Close() }, nil
}
