package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/connection"
	"github.com/kubev2v/proxmox-manager/internal/inventory/collector"
	"github.com/kubev2v/proxmox-manager/internal/refresh"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	refreshManager string
	refreshVMs     []string
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one inventory refresh of a manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		managerID, err := uuid.Parse(refreshManager)
		if err != nil {
			return fmt.Errorf("invalid manager id %q: %w", refreshManager, err)
		}

		cfg, done, err := setup()
		if err != nil {
			return err
		}
		defer done()

		s, _, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		pool := connection.NewPool(s, connection.NewDialer(cfg.Proxmox.HTTPTimeout, nil), nil)
		refresher := refresh.NewRefresher(s,
			func(ctx context.Context, id uuid.UUID) (collector.Client, error) { return pool.Client(ctx, id) },
			cfg.Proxmox.DefaultBridge,
			zap.S().Named("refresh"),
		)

		result, err := refresher.Refresh(cmd.Context(), managerID, refreshVMs...)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "hosts: %d\nstorages: %d\nvms: %d\nsnapshots: %d\narchived: %d\ndeleted: %d\n",
			result.Hosts, result.Storages, result.VMs, result.Snapshots, result.Archived, result.Deleted)
		return nil
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshManager, "manager", "", "Id of the manager to refresh")
	refreshCmd.Flags().StringSliceVar(&refreshVMs, "vm", nil, "Restrict the refresh to the given vm ids")
	_ = refreshCmd.MarkFlagRequired("manager")
}
