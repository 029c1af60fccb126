package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/spec-kit/property-service/internal/persistence"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := bootstrap()
			defer logger.Sync() //nolint:errcheck

			pg, err := persistence.NewPostgres(cmd.Context(), cfg.Postgres, logger)
			if err != nil {
				return err
			}
			defer pg.Close()
			if !pg.Enabled() {
				return errors.New("POSTGRES_DSN is required to migrate")
			}
			return persistence.RunMigrations(cmd.Context(), pg.PoolHandle(), logger)
		},
	}
}
