/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/accountd/apiserver/config"
	"github.com/accountd/apiserver/internal/logging"
	"github.com/accountd/apiserver/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the accounts HTTP API",
	Long: `Starts the accounts HTTP API. Usage:

	accountd server
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		logger := logging.Setup(cfg.LogLevel)

		srv, err := server.New(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		return serve(cmd.Context(), srv, logger)
	},
}

type lifecycle interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serve runs srv until ctx is done or Start fails, and always shuts it down
// so the connections it owns are released.
func serve(ctx context.Context, srv lifecycle, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	var startErr error
	select {
	case startErr = <-errCh:
		if startErr != nil {
			logger.Error("server stopped", "error", startErr)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(startErr, srv.Shutdown(shutdownCtx))
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
