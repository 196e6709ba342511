/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/accountd/apiserver/config"
	"github.com/accountd/apiserver/internal/logging"
	"github.com/accountd/apiserver/internal/mail"
	"github.com/accountd/apiserver/internal/metrics"
	"github.com/accountd/apiserver/internal/mq"
	"github.com/accountd/apiserver/internal/notify"
	"github.com/spf13/cobra"
)

var workerMetricsAddr string

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Sends notification mails queued by the API",
	Long: `Consumes account notifications from the message queue and delivers
them over SMTP. Usage:

	accountd worker --metrics-addr :9090
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		logger := logging.Setup(cfg.LogLevel)
		ctx := cmd.Context()

		backend, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("open message queue: %w", err)
		}
		if backend == nil {
			return errors.New("MQ_BACKEND is required to run the worker")
		}
		defer backend.Close()

		mailer, err := mail.NewSMTPMailer(cfg.Mail)
		if err != nil {
			return err
		}

		m := metrics.New()
		if workerMetricsAddr != "" {
			metricsServer := &http.Server{
				Addr:              workerMetricsAddr,
				Handler:           m.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server stopped", "error", err)
				}
			}()
			defer metricsServer.Close()
		}

		consumer := notify.NewConsumer(backend, cfg.MQ.NotificationsChannel, mailer, m, logger)
		return consumer.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", ":9090", "address for the Prometheus endpoint, empty to disable")
}
