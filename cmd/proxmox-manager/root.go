package main

import (
	"github.com/kubev2v/proxmox-manager/internal/config"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/pkg/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

var rootCmd = &cobra.Command{
	Use:          "proxmox-manager",
	Short:        "Manage Proxmox VE clusters and their inventory",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(verifyCmd)
}

// setup reads the configuration and installs the process logger. The returned
// func restores the previous global logger.
func setup() (*config.Config, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
	if err != nil {
		logLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger := log.InitLog(logLvl, cfg.Service.LogFormat)
	undo := zap.ReplaceGlobals(logger)

	return cfg, func() {
		_ = logger.Sync()
		undo()
	}, nil
}

func openStore(cfg *config.Config) (store.Store, *gorm.DB, error) {
	zap.S().Info("Initializing data store")
	db, err := store.InitDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	return store.NewStore(db), db, nil
}
