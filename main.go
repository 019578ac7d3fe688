package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"twin-rules/internal/config"
	"twin-rules/internal/observability/logging"
	"twin-rules/internal/observability/metrics"
	ruleapp "twin-rules/internal/rules/application"
	rulerepo "twin-rules/internal/rules/infrastructure/postgres"
	"twin-rules/internal/rules/interfaces/natsbus"
	"twin-rules/internal/rules/notify"
	samplerepo "twin-rules/internal/telemetry/infrastructure/postgres"
	telemetryhttp "twin-rules/internal/telemetry/interfaces/http"
	telemetrykafka "twin-rules/internal/telemetry/interfaces/kafka"
	twinrepo "twin-rules/internal/twins/infrastructure/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "json")
		boot.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("ping db")
	}
	metrics.Init(db, logger)

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("default time zone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	directory := twinrepo.NewDirectory(db)
	samples := samplerepo.NewSampleRepository(db)

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, nats.Name("twin-rules"))
		if err != nil {
			logger.Fatal().Err(err).Msg("connect nats")
		}
		defer natsConn.Drain()
	}

	notifier, err := buildNotifier(cfg, natsConn, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build notifier")
	}
	logger.Info().Int("sinks", notifier.Len()).Msg("insight notifiers ready")

	binder, err := ruleapp.NewBinder(directory,
		ruleapp.WithDefaultLocation(loc),
		ruleapp.WithMaxHops(cfg.Engine.MaxHops),
		ruleapp.WithBinderLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("build binder")
	}
	engine, err := ruleapp.NewEngine(
		rulerepo.NewRuleRepository(db),
		rulerepo.NewGlobalVariableRepository(db),
		rulerepo.NewInsightRepository(db),
		rulerepo.NewMetadataRepository(db),
		directory,
		ruleapp.WithWorkers(cfg.Engine.Workers),
		ruleapp.WithActorOptions(cfg.ActorOptions()),
		ruleapp.WithRuleOptions(cfg.RuleOverrides()),
		ruleapp.WithBinder(binder),
		ruleapp.WithInsightBuilder(ruleapp.NewInsightBuilder(
			ruleapp.WithPresentValues(samples),
			ruleapp.WithInsightLogger(logger),
		)),
		ruleapp.WithInstanceRepository(rulerepo.NewInstanceRepository(db)),
		ruleapp.WithActorRepository(rulerepo.NewActorRepository(db)),
		ruleapp.WithInsightNotifier(notifier),
		ruleapp.WithEngineLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("build engine")
	}
	if err := engine.Prepare(ctx); err != nil {
		logger.Fatal().Err(err).Msg("prepare engine")
	}

	if natsConn != nil {
		subscriber, err := natsbus.NewSubscriber(natsConn, engine, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("build rule subscriber")
		}
		if err := subscriber.Start(); err != nil {
			logger.Fatal().Err(err).Msg("subscribe rule updates")
		}
		defer subscriber.Close()
	}

	if len(cfg.Kafka.Brokers) > 0 {
		source, err := telemetrykafka.NewSource(
			telemetrykafka.NewReader(telemetrykafka.Config{
				Brokers: cfg.Kafka.Brokers,
				Topic:   cfg.Kafka.Topic,
				GroupID: cfg.Kafka.GroupID,
			}),
			telemetrykafka.WithName(cfg.Kafka.GroupID),
			telemetrykafka.WithLogger(logger),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("build kafka source")
		}
		defer source.Close()
		go func() {
			err := engine.Run(ctx, source, cfg.Engine.BatchSize, cfg.Engine.FlushEvery)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("engine stopped")
				stop()
			}
		}()
	} else {
		logger.Info().Msg("KAFKA_BROKERS not set; accepting telemetry over http only")
	}

	ingest, err := telemetryhttp.NewIngestHandler(samples, engine, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build ingest handler")
	}

	mux := http.NewServeMux()
	mux.Handle("/ingest", ingest)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(mux, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.HTTPAddr).Int("workers", cfg.Engine.Workers).Msg("twin-rules listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("http server")
	}
}

func buildNotifier(cfg config.Config, conn *nats.Conn, logger zerolog.Logger) (*notify.MultiNotifier, error) {
	notifiers := []ruleapp.InsightNotifier{notify.NewLogNotifier(logger)}

	if cfg.Notify.WebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.Notify.WebhookURL)
		if err != nil {
			return nil, err
		}
		tpl, err := notify.NewTemplate(cfg.Notify.Template)
		if err != nil {
			return nil, err
		}
		opts := []notify.Option{
			notify.WithCooldown(cfg.Notify.Cooldown),
			notify.WithDedupeWindow(cfg.Notify.DedupeWindow),
			notify.WithLogger(logger),
		}
		if cfg.Notify.OnlyFaulty {
			opts = append(opts, notify.WithOnlyFaulty())
		}
		webhook, err := notify.NewNotifier(channel, tpl, opts...)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, webhook)
	}

	if conn != nil {
		publisher, err := natsbus.NewInsightPublisher(conn,
			natsbus.WithSubjectPrefix(cfg.Notify.SubjectPrefix),
			natsbus.WithPublisherLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, publisher)
	}
	return notify.NewMultiNotifier(notifiers...), nil
}

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", resp.status).
			Dur("elapsed", time.Since(start)).
			Msg("http")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
