package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/achievetrack/apiserver/config"
	"github.com/achievetrack/apiserver/internal/db"
	"github.com/achievetrack/apiserver/internal/mq"
	"github.com/achievetrack/apiserver/internal/server"
	"github.com/achievetrack/apiserver/internal/services"
	"github.com/achievetrack/apiserver/internal/store"
	"github.com/spf13/cobra"
)

// notifierCmd consumes achievement events from the broker and writes the
// notifications they call for.
var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Consumes achievement events and writes notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := newLogger(cfg.Log)

		switch cfg.MQ.Backend {
		case config.MQBackendNone, "", config.MQBackendMemory:
			return fmt.Errorf("notifier needs a shared broker, MQ_BACKEND is %q", cfg.MQ.Backend)
		}

		dbConn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer dbConn.Close()

		broker, err := mq.Open(cmd.Context(), cfg.MQ)
		if err != nil {
			return fmt.Errorf("open mq: %w", err)
		}
		defer broker.Close()

		notifications := services.NewNotificationService(
			store.NewNotificationRepository(dbConn),
			store.NewUserRepository(dbConn),
			logger,
		)

		logger.Info("notifier consuming", slog.String("backend", cfg.MQ.Backend), slog.String("channel", cfg.MQ.EventsChannel))
		err = server.ConsumeEvents(cmd.Context(), broker, cfg.MQ.EventsChannel, notifications, logger)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifierCmd)
}
