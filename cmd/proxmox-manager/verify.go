package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/connection"
	"github.com/kubev2v/proxmox-manager/internal/queue"
	"github.com/kubev2v/proxmox-manager/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var verifyManager string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that the stored credentials of a manager are accepted",
	RunE: func(cmd *cobra.Command, args []string) error {
		managerID, err := uuid.Parse(verifyManager)
		if err != nil {
			return fmt.Errorf("invalid manager id %q: %w", verifyManager, err)
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

		// verification never enqueues, the queue is not started
		q := queue.NewLocal(queue.NewMux())
		managers := service.NewManagerService(s, q, connection.NewDialer(cfg.Proxmox.HTTPTimeout, nil), nil, zap.S().Named("manager_service"))
		if err := managers.Verify(cmd.Context(), managerID); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "credentials verified")
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyManager, "manager", "", "Id of the manager to verify")
	_ = verifyCmd.MarkFlagRequired("manager")
}
