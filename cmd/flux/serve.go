package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/flux/pkg/api"
	"github.com/cuemby/flux/pkg/config"
	"github.com/cuemby/flux/pkg/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a Flux process: open the durable log, start the commit pipeline, and serve the admin surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		db, err := api.New(cfg)
		if err != nil {
			return fmt.Errorf("flux: open database: %w", err)
		}
		defer db.Close()

		admin, err := api.NewAdminServer(db, cfg.AdminBindAddr)
		if err != nil {
			return fmt.Errorf("flux: start admin server: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			if err := admin.Serve(); err != nil {
				errCh <- err
			}
		}()
		log.Info(fmt.Sprintf("flux serving on %s (data dir %s)", cfg.AdminBindAddr, cfg.DataDir))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info("shutting down")
		case err := <-errCh:
			log.Errorf("admin server error", err)
		}

		admin.Stop()
		return nil
	},
}

func init() {
	serveCmd.Flags().String("data-dir", "", "Override the configured data directory")
	serveCmd.Flags().String("admin-addr", "", "Override the configured admin bind address")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var cfg config.Config
	var err error
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	} else {
		cfg = config.Default()
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if adminAddr, _ := cmd.Flags().GetString("admin-addr"); adminAddr != "" {
		cfg.AdminBindAddr = adminAddr
	}
	return cfg, nil
}
