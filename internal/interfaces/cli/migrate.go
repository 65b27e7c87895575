package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinforge/cohortd/internal/config"
	"github.com/clinforge/cohortd/internal/domain/tenant"
	"github.com/clinforge/cohortd/internal/infrastructure/database/postgres"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
)

// NewMigrateCmd builds the migrate command: it creates (or upgrades) the
// schema for one or more tenants.
func NewMigrateCmd(opts *RootOptions) *cobra.Command {
	var tenants []string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for tenant schemas",
		Long: "Creates each tenant's PostgreSQL schema if missing and applies\n" +
			"pending migrations inside it.  Tenants migrate independently, so a\n" +
			"failure in one leaves the others untouched.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(tenants) == 0 {
				return fmt.Errorf("at least one --tenant is required")
			}
			for _, id := range tenants {
				if !tenant.ValidID(id) {
					return fmt.Errorf("invalid tenant ID %q", id)
				}
			}

			cfg, err := loadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(logging.Config{
				Level:  cfg.Log.Level,
				Format: "console",
			})
			if err != nil {
				return err
			}

			conn, err := postgres.NewConnection(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			for _, id := range tenants {
				if err := conn.MigrateTenant(id); err != nil {
					return fmt.Errorf("migrate tenant %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s migrated\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&tenants, "tenant", nil, "tenant ID to migrate (repeatable)")
	return cmd
}

// loadConfig resolves configuration from the given path, falling back to
// environment variables when no file is named.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}
