package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	apiserver "github.com/kubev2v/proxmox-manager/internal/api_server"
	"github.com/kubev2v/proxmox-manager/internal/config"
	"github.com/kubev2v/proxmox-manager/internal/connection"
	handlers "github.com/kubev2v/proxmox-manager/internal/handlers/v1alpha1"
	"github.com/kubev2v/proxmox-manager/internal/inventory/collector"
	"github.com/kubev2v/proxmox-manager/internal/queue"
	"github.com/kubev2v/proxmox-manager/internal/refresh"
	"github.com/kubev2v/proxmox-manager/internal/service"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/task"
	"github.com/kubev2v/proxmox-manager/pkg/metrics"
	"github.com/kubev2v/proxmox-manager/pkg/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the proxmox manager api and workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, done, err := setup()
		if err != nil {
			return err
		}
		defer done()

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

		s, db, err := openStore(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}
		defer s.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		mux := queue.NewMux()
		q, err := newQueue(ctx, cfg, s, db, mux)
		if err != nil {
			zap.S().Fatalw("initializing queue", "error", err)
		}

		dial := connection.NewDialer(cfg.Proxmox.HTTPTimeout, zap.S().Named("proxmox"))
		pool := connection.NewPool(s, dial, zap.S().Named("connection"))

		machine := task.NewMachine(s, q,
			func(ctx context.Context, id uuid.UUID) (task.API, error) { return pool.Client(ctx, id) },
			task.WithDelays(cfg.Queue.InitialDelay, cfg.Queue.PollDelay),
			task.WithLease(cfg.Queue.Lease),
			task.WithLogger(zap.S().Named("task")),
		)
		refresher := refresh.NewRefresher(s,
			func(ctx context.Context, id uuid.UUID) (collector.Client, error) { return pool.Client(ctx, id) },
			cfg.Proxmox.DefaultBridge,
			zap.S().Named("refresh"),
		)
		mux.Handle(queue.HandlerTaskStep, machine.Handler())
		mux.Handle(queue.HandlerRefresh, refresher.Handler())

		if err := q.Start(ctx); err != nil {
			zap.S().Fatalw("starting queue", "error", err)
		}
		defer func() {
			if err := q.Stop(context.Background()); err != nil {
				zap.S().Errorw("stopping queue", "error", err)
			}
		}()

		remote := func(ctx context.Context, id uuid.UUID) (service.Remote, error) { return pool.Client(ctx, id) }
		wait := service.WaitConfig{Interval: cfg.Proxmox.WaitInterval, Timeout: cfg.Proxmox.WaitTimeout}

		managers := service.NewManagerService(s, q, dial, pool, zap.S().Named("manager_service"))
		handler := handlers.NewServiceHandler(handlers.Services{
			Managers:    managers,
			Inventory:   service.NewInventoryService(s, managers),
			Snapshots:   service.NewSnapshotService(s, q, machine, remote, wait, zap.S().Named("snapshot_service")),
			Reconfigure: service.NewReconfigureService(s, q, machine, remote, zap.S().Named("reconfigure_service")),
			Console:     service.NewConsoleService(s, managers, remote, zap.S().Named("console_service")),
			Tasks:       service.NewTaskService(s),
		}, zap.S().Named("handlers"))

		metrics.RegisterInventoryCollector(s)

		go refresh.NewScheduler(s, q, cfg.Refresh.Interval, cfg.Refresh.Jitter, zap.S().Named("scheduler")).Run(ctx)

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				zap.S().Fatalw("creating listener", "error", err)
			}

			server := apiserver.New(cfg, handler, listener)
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalw("Error running server", "error", err)
			}
		}()

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.MetricsAddress)
			if err != nil {
				zap.S().Fatalw("creating listener", "error", err)
			}

			metricsServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener)
			if err := metricsServer.Run(ctx); err != nil {
				zap.S().Fatalw("failed to run metrics server", "error", err)
			}
		}()

		<-ctx.Done()
		return nil
	},
}

// newQueue picks the durable river queue on postgres and the in-process queue
// otherwise. Postgres schemas are migrated before the queue starts.
func newQueue(ctx context.Context, cfg *config.Config, s store.Store, db *gorm.DB, mux *queue.Mux) (queue.Queue, error) {
	if cfg.Database.Type != "pgsql" {
		if err := s.InitialMigration(ctx); err != nil {
			return nil, err
		}
		return queue.NewLocal(mux,
			queue.WithMaxWorkers(cfg.Queue.MaxWorkers),
			queue.WithLogger(zap.S().Named("queue")),
		), nil
	}

	pool, err := pgxpool.New(ctx, store.PostgresDSN(cfg))
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateStore(db, cfg.Service.MigrationFolder, pool); err != nil {
		return nil, err
	}
	return queue.NewRiver(pool, mux, cfg.Queue.MaxWorkers, zap.S().Named("queue"))
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
