package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/pkg/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, done, err := setup()
		if err != nil {
			return err
		}
		defer done()
		defer zap.S().Info("Db migrated")

		s, db, err := openStore(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}
		defer s.Close()

		if cfg.Database.Type != "pgsql" {
			return s.InitialMigration(cmd.Context())
		}

		pool, err := pgxpool.New(context.Background(), store.PostgresDSN(cfg))
		if err != nil {
			zap.S().Fatalw("creating queue pool", "error", err)
		}
		defer pool.Close()

		if err := migrations.MigrateStore(db, cfg.Service.MigrationFolder, pool); err != nil {
			zap.S().Fatalw("running migrations", "error", err)
		}
		return nil
	},
}
