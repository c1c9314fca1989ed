package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clinicdesk/clinic-scheduling/internal/booking"
	"github.com/clinicdesk/clinic-scheduling/internal/config"
	"github.com/clinicdesk/clinic-scheduling/internal/db"
	"github.com/clinicdesk/clinic-scheduling/internal/metrics"
	"github.com/clinicdesk/clinic-scheduling/internal/reminder"
	"github.com/clinicdesk/clinic-scheduling/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "reminder-worker")
	logger.Info("starting up", "env", cfg.Env, "interval", cfg.ReminderInterval, "lookahead", cfg.ReminderLookahead)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	var mailer reminder.Mailer
	if sg := reminder.NewSendGridMailer(reminder.SendGridConfig{
		APIKey:   cfg.SendGridAPIKey,
		From:     cfg.EmailFrom,
		FromName: cfg.EmailFromName,
		Location: cfg.ClinicLocation,
	}, logger); sg != nil {
		mailer = sg
	} else {
		logger.Warn("SENDGRID_API_KEY not set, using stub mailer")
		mailer = reminder.NewStubMailer(logger)
	}

	registry := prometheus.NewRegistry()
	reminderMetrics := metrics.NewReminderMetrics(registry)

	repo := booking.NewPgRepository(pgPool)
	dispatcher := reminder.NewDispatcher(repo, mailer, reminderMetrics,
		cfg.ClinicLocation, cfg.ReminderLookahead, cfg.SendTimeout, logger)

	// Run once at startup, then on the configured cadence. Several instances
	// of this process may run at once; the reminder_sent claim keeps each
	// reminder at-most-once across all of them.
	runOnce(rootCtx, dispatcher, logger)

	ticker := time.NewTicker(cfg.ReminderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, dispatcher, logger)
		}
	}
}

func runOnce(ctx context.Context, d *reminder.Dispatcher, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if _, err := d.Run(runCtx); err != nil {
		logger.Error("reminder run error", "error", err)
	}
}
