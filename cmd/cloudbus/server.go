// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudbus/cloudbus/internal/api"
	"github.com/cloudbus/cloudbus/internal/events"
	"github.com/cloudbus/cloudbus/internal/notifier"
	"github.com/cloudbus/cloudbus/internal/notify"
	"github.com/cloudbus/cloudbus/internal/store"
	"github.com/cloudbus/cloudbus/internal/util"
	"github.com/cloudbus/cloudbus/model"
)

func init() {
	serverCmd.PersistentFlags().String("database", "sqlite3://cloudbus.db", "The database backing the event bus.")
	serverCmd.PersistentFlags().String("listen", ":8085", "The interface and port on which to listen.")
	serverCmd.PersistentFlags().String("webhook-url", "", "The base URL events are delivered to; the connection ID is appended as the final path segment.")
	serverCmd.PersistentFlags().String("notify", "", "The notify strategy waking delivery workers: polling, server, or bus. Defaults to the best available.")
	serverCmd.PersistentFlags().String("bus-url", "", "The NATS URL used by the bus notify strategy.")
	serverCmd.PersistentFlags().Int("poll", 5, "The interval in seconds to poll for pending deliveries.")
	serverCmd.PersistentFlags().Int("batch-size", 100, "The maximum number of deliveries claimed per pass.")
	serverCmd.PersistentFlags().Int("deliver-timeout", 30, "The per-connection delivery timeout in seconds.")
	serverCmd.PersistentFlags().Int("max-attempts", 20, "The number of delivery attempts before a delivery is marked failed.")
	serverCmd.PersistentFlags().Bool("debug", false, "Whether to output debug logs.")
	serverCmd.PersistentFlags().Bool("machine-readable-logs", false, "Output the logs in machine readable format.")
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the event bus server.",
	RunE: func(command *cobra.Command, args []string) error {
		command.SilenceUsage = true

		debug, _ := command.Flags().GetBool("debug")
		if debug {
			logger.SetLevel(log.DebugLevel)
		}
		machineLogs, _ := command.Flags().GetBool("machine-readable-logs")
		if machineLogs {
			logger.SetFormatter(&log.JSONFormatter{})
		}

		webhookURL, _ := command.Flags().GetString("webhook-url")
		if webhookURL == "" {
			return errors.New("webhook-url must be set")
		}

		database, _ := command.Flags().GetString("database")
		var sqlStore *store.SQLStore
		connectBackoff := util.NewExponentialBackoff(time.Second, 10*time.Second, time.Minute)
		err := connectBackoff.Retry(func() error {
			var err error
			sqlStore, err = store.New(database, logger)
			return err
		})
		if err != nil {
			return errors.Wrap(err, "failed to connect to database")
		}
		defer sqlStore.Close()

		err = sqlStore.Migrate()
		if err != nil {
			return errors.Wrap(err, "failed to migrate database")
		}
		currentVersion, err := sqlStore.GetCurrentVersion()
		if err != nil {
			return err
		}
		logger.WithField("version", currentVersion.String()).Info("Database schema is current")

		strategyName, _ := command.Flags().GetString("notify")
		busURL, _ := command.Flags().GetString("bus-url")
		poll, _ := command.Flags().GetInt("poll")
		strategy, err := notify.NewStrategy(notify.Config{
			Strategy:     strategyName,
			PollInterval: time.Duration(poll) * time.Second,
			BusURL:       busURL,
		}, sqlStore, logger)
		if err != nil {
			return errors.Wrap(err, "failed to build notify strategy")
		}

		batchSize, _ := command.Flags().GetInt("batch-size")
		deliverTimeout, _ := command.Flags().GetInt("deliver-timeout")
		maxAttempts, _ := command.Flags().GetInt("max-attempts")
		retryPolicy := model.DefaultRetryPolicy()
		retryPolicy.MaxAttempts = maxAttempts

		webhook := notifier.NewWebhook(nil, notifier.StaticURLResolver(webhookURL), logger)

		bus := events.New(sqlStore, webhook, strategy, events.Config{
			BatchSize:      batchSize,
			DeliverTimeout: time.Duration(deliverTimeout) * time.Second,
			RetryPolicy:    retryPolicy,
		}, logger)

		err = bus.Start()
		if err != nil {
			return errors.Wrap(err, "failed to start event bus")
		}
		defer bus.Stop()

		router := mux.NewRouter()
		api.Register(router, &api.Context{
			Bus:    bus,
			Logger: logger,
		})

		listen, _ := command.Flags().GetString("listen")
		srv := &http.Server{
			Addr:           listen,
			Handler:        router,
			ReadTimeout:    180 * time.Second,
			WriteTimeout:   180 * time.Second,
			IdleTimeout:    time.Second * 180,
			MaxHeaderBytes: 1 << 20,
			ErrorLog:       stdlog.New(&logrusWriter{logger}, "", 0),
		}

		go func() {
			logger.WithField("addr", srv.Addr).Info("Listening")
			err := srv.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("Failed to listen and serve")
			}
		}()

		c := make(chan os.Signal, 1)
		// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C)
		// or SIGTERM. SIGKILL and SIGQUIT will not be caught.
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		// Block until we receive our signal.
		<-c
		logger.Info("Shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)

		return nil
	},
}
