package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/site-monitor/config"
	"github.com/angeloszaimis/site-monitor/internal/admin"
	"github.com/angeloszaimis/site-monitor/internal/alert"
	"github.com/angeloszaimis/site-monitor/internal/circuitbreaker"
	"github.com/angeloszaimis/site-monitor/internal/httpserver"
	"github.com/angeloszaimis/site-monitor/internal/metrics"
	"github.com/angeloszaimis/site-monitor/internal/probe"
	"github.com/angeloszaimis/site-monitor/internal/scheduler"
	"github.com/angeloszaimis/site-monitor/internal/site"
	"github.com/angeloszaimis/site-monitor/internal/storage"
	"github.com/angeloszaimis/site-monitor/pkg/logger"
)

const (
	connectTimeout = 10 * time.Second
	drainTimeout   = 15 * time.Second
	metricsBuffer  = 1000
)

func main() {
	loader, err := config.NewLoader(os.Args[1:])
	if err != nil {
		slog.Error("failed to parse arguments", slog.Any("err", err))
		os.Exit(2)
	}

	cfg, err := loader.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log, logCloser, err := logger.NewWithOptions(logger.Options{
		Level:       cfg.Logging.Level,
		AddSource:   cfg.Logging.Level == config.LogLevelDebug,
		Environment: cfg.Server.Environment,
		File:        cfg.Logging.File,
	})
	if err != nil {
		slog.Error("failed to create logger", slog.Any("err", err))
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collectorCtx, stopCollector := context.WithCancel(context.Background())
	defer stopCollector()
	exporter := metrics.NewExporter(prometheus.NewRegistry())
	collector := metrics.NewCollector(metricsBuffer, log, metrics.WithExporter(exporter))
	collector.Start(collectorCtx)

	fanout := storage.NewFanout(
		circuitbreaker.NewRegistry(cfg.Storage.BreakerThreshold, cfg.Storage.BreakerResetDuration()),
		openSinks(ctx, cfg, log),
		storage.WithEvents(collector.EventChannel()),
		storage.WithLogger(log),
	)
	defer func() {
		if err := fanout.Close(); err != nil {
			log.Error("failed to close storage", slog.Any("err", err))
		}
	}()

	dispatcher := alert.NewDispatcher(log, alert.DefaultTimeout, buildNotifiers(ctx, cfg, log)...)

	sched, err := scheduler.New(newProber(cfg), cfg.SiteConfigs(),
		scheduler.WithLogger(log),
		scheduler.WithSink(fanout),
		scheduler.WithAlerter(dispatcher),
		scheduler.WithEvents(collector.EventChannel()),
		scheduler.WithWriteTimeout(cfg.Storage.WriteTimeoutDuration()),
		scheduler.WithProbeTimeout(cfg.Probe.TimeoutDuration()),
	)
	if err != nil {
		log.Error("failed to create scheduler", slog.Any("err", err))
		os.Exit(1)
	}

	syncSites(ctx, fanout, cfg.SiteConfigs(), cfg.Storage.WriteTimeoutDuration(), log)

	loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			log.Warn("ignoring invalid configuration reload", slog.Any("err", err))
			return
		}
		sites := next.SiteConfigs()
		if err := sched.Reconfigure(sites); err != nil {
			log.Warn("failed to apply site configuration", slog.Any("err", err))
			return
		}
		syncSites(ctx, fanout, sites, cfg.Storage.WriteTimeoutDuration(), log)
	})

	adminHandler := admin.New(sched, cfg.Server.ShutdownPassword,
		admin.WithHistory(fanout),
		admin.WithBreakers(fanout.Breakers),
		admin.WithStopHook(cancel),
		admin.WithLogger(log),
	)
	if cfg.Server.ShutdownPassword == "" {
		log.Warn("no shutdown password configured, /status and /stop are disabled")
	}

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(adminHandler, collector, exporter, log))
	if err != nil {
		log.Error("failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()
	log.Info("admin server listening", slog.String("address", srv.Addr()))

	if err := sched.Start(ctx); err != nil {
		log.Error("failed to start scheduler", slog.Any("err", err))
		os.Exit(1)
	}

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case <-sched.Done():
		log.Info("monitor stopped")
	case err := <-srvErrCh:
		if err != nil {
			log.Error("admin server failed", slog.Any("err", err))
			exitCode = 1
		}
	}

	shutdown(sched, dispatcher, srv, log)
	stopCollector()

	if exitCode != 0 {
		logCloser.Close()
		os.Exit(exitCode)
	}
}

func newProber(cfg *config.Config) *probe.HTTPProber {
	return probe.New(cfg.Probe.TimeoutDuration(),
		probe.WithMaxBodyBytes(cfg.Probe.MaxBodyBytes),
		probe.WithUserAgent(cfg.Probe.UserAgent),
	)
}

// openSinks connects every configured backend. A backend that cannot be
// reached is logged and left out; monitoring runs without it.
func openSinks(ctx context.Context, cfg *config.Config, log *slog.Logger) []storage.Sink {
	var sinks []storage.Sink

	for _, backend := range cfg.Storage.Backends {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)

		var (
			sink storage.Sink
			err  error
		)
		switch backend {
		case config.BackendMySQL:
			m := cfg.Storage.MySQL
			sink, err = storage.OpenMySQL(connectCtx, storage.MySQLConfig{
				Host:     m.Host,
				Port:     m.Port,
				User:     m.User,
				Password: m.Password,
				Database: m.Database,
				DSN:      m.DSN,
			})
		case config.BackendSQLite:
			sink, err = storage.OpenSQLite(connectCtx, cfg.Storage.SQLite.Path)
		case config.BackendMongoDB:
			sink, err = storage.OpenMongo(connectCtx, cfg.Storage.MongoDB.URI, cfg.Storage.MongoDB.Database, connectTimeout)
		case config.BackendPostgres:
			sink, err = storage.OpenPostgres(connectCtx, cfg.Storage.Postgres.URL)
		default:
			log.Warn("unknown storage backend", slog.String("backend", backend))
		}
		cancel()

		if err != nil {
			log.Error("storage backend unavailable, continuing without it",
				slog.String("backend", backend),
				slog.Any("err", err),
			)
			continue
		}
		if sink != nil {
			log.Info("storage backend connected", slog.String("backend", sink.Name()))
			sinks = append(sinks, sink)
		}
	}

	if len(sinks) == 0 {
		log.Warn("no storage backend available, samples will not be persisted")
	}
	return sinks
}

func buildNotifiers(ctx context.Context, cfg *config.Config, log *slog.Logger) []alert.Notifier {
	var notifiers []alert.Notifier

	if cfg.SMTP.Host != "" {
		notifiers = append(notifiers, alert.NewEmailNotifier(alert.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}))
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis not reachable, alert events may be lost",
				slog.String("addr", cfg.Redis.Addr),
				slog.Any("err", err),
			)
		}
		cancel()

		notifiers = append(notifiers, alert.NewRedisNotifier(client,
			alert.WithChannel(cfg.Redis.Channel),
			alert.WithLogger(log),
		))
	}

	if len(notifiers) == 0 {
		log.Warn("no alert notifiers configured, alerts will only be logged")
	}
	return notifiers
}

// syncSites stores the site catalogue. Failure does not block monitoring.
func syncSites(ctx context.Context, recorder storage.SiteRecorder, sites []site.Config, timeout time.Duration, log *slog.Logger) {
	syncCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := recorder.RecordSites(syncCtx, sites); err != nil {
		log.Error("failed to record site catalogue", slog.Any("err", err))
	}
}

func shutdown(sched *scheduler.Scheduler, dispatcher *alert.Dispatcher, srv *httpserver.Server, log *slog.Logger) {
	sched.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := sched.Wait(drainCtx); err != nil {
		log.Warn("in-flight sample did not settle", slog.Any("err", err))
	}
	if err := dispatcher.Wait(drainCtx); err != nil {
		log.Warn("pending alerts not delivered", slog.Any("err", err))
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error("error during shutdown", slog.Any("err", err))
	}
}
