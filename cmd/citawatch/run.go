package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmrobles/citawatch/internal/history"
	"github.com/jmrobles/citawatch/internal/notification"
	"github.com/jmrobles/citawatch/internal/portal"
	"github.com/jmrobles/citawatch/internal/watch/application"
	"github.com/jmrobles/citawatch/internal/watch/domain"
	"github.com/jmrobles/citawatch/internal/watch/engine"
	"github.com/jmrobles/citawatch/pkg/config"
	"github.com/jmrobles/citawatch/pkg/observability"
)

const (
	historyRetention = 90 * 24 * time.Hour
	cleanupInterval  = 24 * time.Hour
	statsInterval    = 5 * time.Minute
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start watching for an earlier appointment",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func run() error {
	logger := observability.LoggerFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	facility, err := portal.LookupFacility(cfg.Embassy)
	if err != nil {
		return err
	}

	logger.Info("starting citawatch",
		"version", version,
		"embassy", facility.Code,
		"poll_interval_min", cfg.PollIntervalMin,
		"poll_interval_max", cfg.PollIntervalMax,
	)

	metrics := observability.NewInMemoryMetrics()

	httpClient, err := portal.NewHTTPClient(portal.HTTPClientConfig{
		ScheduleID: cfg.ScheduleID,
		Facility:   facility,
		Timeout:    cfg.RequestTimeout,
	}, logger)
	if err != nil {
		return err
	}
	client := portal.NewBreakerClient(httpClient, portal.DefaultBreakerConfig(), logger)

	clock := engine.RealClock{}

	sessConfig := application.DefaultSessionManagerConfig()
	sessConfig.Sleep = clock.Sleep
	sessions := application.NewSessionManager(client,
		portal.Credentials{Username: cfg.Username, Password: cfg.Password},
		sessConfig, logger, metrics)

	// The portal is the source of truth for the booked appointment; prior
	// local state is never trusted across restarts.
	sess, err := sessions.EnsureValid(ctx)
	if err != nil {
		return err
	}
	currentAt, err := client.CurrentAppointment(ctx, sess)
	if err != nil {
		return err
	}
	logger.Info("current appointment fetched", "scheduled_at", currentAt)

	consular, err := domain.NewAppointment(domain.AppointmentConsular, facility.ConsulateID, currentAt)
	if err != nil {
		return err
	}
	var cas *domain.Appointment
	if facility.CASFacilityID != 0 {
		// The portal does not expose the current CAS booking on the
		// reschedule form; the consular date is the usable upper bound.
		cas, err = domain.NewAppointment(domain.AppointmentCAS, facility.CASFacilityID, currentAt)
		if err != nil {
			return err
		}
	}

	dispatcher, err := buildDispatcher(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	attempts, err := openHistory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer attempts.Close()

	policy := domain.NewPolicy(domain.PolicyConfig{
		MinDate:       cfg.MinDate,
		MaxDate:       cfg.MaxDate,
		Excluded:      cfg.ExcludedDates,
		PreferredTime: cfg.PreferredTime,
	})

	rescheduler := application.NewRescheduler(application.ReschedulerDeps{
		Sessions:    sessions,
		Scanner:     application.NewSlotScanner(client, logger, metrics),
		Policy:      policy,
		Client:      client,
		Consular:    consular,
		CAS:         cas,
		CASFacility: facility.CASFacilityID,
		Attempts:    attempts,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Metrics:     metrics,
	})

	controller := engine.NewController(rescheduler, sessions, dispatcher, engine.ControllerConfig{
		PollIntervalMin: cfg.PollIntervalMin,
		PollIntervalMax: cfg.PollIntervalMax,
		MaxRetries:      cfg.MaxRetries,
		BackoffBase:     cfg.BackoffBase,
		BackoffMax:      cfg.BackoffMax,
		BanThreshold:    cfg.BanThreshold,
		BanCooldown:     cfg.BanCooldown,
		WorkLimit:       cfg.WorkLimit,
		WorkCooldown:    cfg.WorkCooldown,
	}, clock, logger, metrics)

	startCleanup(ctx, attempts, logger)
	startStatsLogging(ctx, controller, logger)
	if cfg.StatusAddr != "" {
		startStatusServer(ctx, cfg.StatusAddr, controller, logger)
	}

	err = controller.Run(ctx)
	switch {
	case err == nil:
		logger.Info("run complete, appointment improved",
			"consular", rescheduler.Consular().ScheduledAt())
		return nil
	case errors.Is(err, context.Canceled):
		logger.Info("run cancelled")
		return nil
	default:
		return err
	}
}

// buildDispatcher assembles the configured notification channels. With
// none configured, events are only logged.
func buildDispatcher(cfg *config.Config, logger *slog.Logger, metrics observability.Metrics) (notification.Dispatcher, error) {
	var channels []notification.Dispatcher

	if cfg.PushoverToken != "" && cfg.PushoverUser != "" {
		ch, err := notification.NewPushoverDispatcher(cfg.PushoverToken, cfg.PushoverUser, logger)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
		logger.Info("pushover notifications enabled")
	}

	if cfg.SendGridAPIKey != "" {
		ch, err := notification.NewSendGridDispatcher(cfg.SendGridAPIKey, cfg.Username, logger)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
		logger.Info("sendgrid notifications enabled")
	}

	if cfg.AMQPURL != "" {
		ch, err := notification.NewAMQPDispatcher(cfg.AMQPURL, logger)
		if err != nil {
			if cfg.IsDevelopment() {
				logger.Warn("RabbitMQ not available, skipping AMQP channel", "error", err)
			} else {
				return nil, err
			}
		} else {
			channels = append(channels, ch)
			logger.Info("AMQP notifications enabled")
		}
	}

	if len(channels) == 0 {
		return notification.NewNoopDispatcher(logger), nil
	}
	return notification.NewMultiDispatcher(logger, metrics, channels...), nil
}

func openHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (history.Repository, error) {
	if cfg.HistoryDBPath == "" {
		logger.Info("attempt history disabled")
		return history.NoopRepository{}, nil
	}
	repo, err := history.OpenSQLite(ctx, cfg.HistoryDBPath)
	if err != nil {
		return nil, err
	}
	logger.Info("attempt history enabled", "path", cfg.HistoryDBPath)
	return repo, nil
}

func startCleanup(ctx context.Context, attempts history.Repository, logger *slog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				deleted, err := attempts.DeleteOld(ctx, start.Add(-historyRetention))
				if err != nil {
					logger.Error("history cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					observability.LogDuration(logger, "history_cleanup", start, "deleted", deleted)
				}
			}
		}
	}()
}

func startStatsLogging(ctx context.Context, controller *engine.Controller, logger *slog.Logger) {
	ticker := time.NewTicker(statsInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := controller.Stats()
				logger.Info("watch stats",
					"state", stats.State,
					"cycles", stats.Cycles,
					"consecutive_failures", stats.ConsecutiveFailures,
					"empty_scans", stats.EmptyScans,
					"slots_lost", stats.SlotsLost,
					"last_cycle_at", stats.LastCycleAt,
					"last_error", stats.LastError,
				)
			}
		}
	}()
}

func startStatusServer(ctx context.Context, addr string, controller *engine.Controller, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"stats":  controller.Stats(),
		})
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("status server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown error", "error", err)
		}
	}()
}
