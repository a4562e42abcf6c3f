package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"roomwatch/internal/alerts"
	"roomwatch/internal/config"
	"roomwatch/internal/directory"
	"roomwatch/internal/kafka"
	"roomwatch/internal/logger"
	"roomwatch/internal/models"
	"roomwatch/internal/mqtt"
	"roomwatch/internal/notify"
	"roomwatch/internal/processor"
	"roomwatch/internal/secure"
	"roomwatch/internal/state"
	"roomwatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Logger.Fatal().Err(err).Msg("engine exited")
	}
	logger.Logger.Info().Msg("exited")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.WithComponent("main")

	dir, err := directory.Load(cfg.SensorDirectoryFile)
	if err != nil {
		return err
	}
	log.Info().Int("sensors", dir.Len()).Str("file", cfg.SensorDirectoryFile).Msg("sensor directory loaded")

	db, err := storage.OpenPostgres(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	closers := []io.Closer{db}
	checks := map[string]processor.HealthCheck{"postgres": db.PingContext}

	var rules alerts.RuleStore = storage.NewRuleRepository(db)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		closers = append(closers, rdb)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		rules = storage.NewCachedRuleStore(storage.NewRuleRepository(db), rdb, cfg.Redis.RuleCacheTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.RuleCacheTTL).Msg("rule cache enabled")
	}

	var telemetry alerts.TelemetryWriter
	if cfg.Influx.URL != "" {
		influx := storage.NewTelemetryRepository(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		closers = append(closers, closerFunc(influx.Close))
		checks["influx"] = influx.Ping
		telemetry = influx
	}

	var feed alerts.EventPublisher
	var feedStats processor.FeedStats
	if cfg.Transport.AlertFeedTopic != "" {
		producer, err := kafka.NewProducer(cfg.Transport.KafkaBrokers, cfg.Transport.AlertFeedTopic, kafka.ProducerConfig{
			Compression:  cfg.Transport.AlertFeedCompression,
			MaxRetries:   cfg.Transport.AlertFeedMaxRetries,
			RetryBackoff: cfg.Transport.AlertFeedRetryBackoff,
		})
		if err != nil {
			return err
		}
		closers = append(closers, producer)
		feed = producer
		feedStats = producer
	}

	notifier, err := newNotifier(cfg, db, dir)
	if err != nil {
		return err
	}

	coordinator := alerts.NewCoordinator(alerts.Config{
		Rules:        rules,
		Recorder:     storage.NewAlertRepository(db),
		Telemetry:    telemetry,
		Feed:         feed,
		Notifier:     notifier,
		Rooms:        dir,
		Cooldown:     state.NewCooldownStore(cfg.Engine.DedupeWindow()),
		SystemRules:  cfg.Engine.SystemRulesEnabled,
		StoreTimeout: cfg.Engine.StoreTimeout,
	})

	source, err := newSource(cfg)
	if err != nil {
		return err
	}

	p := processor.New(cfg, processor.Deps{
		Normalizer:  models.NewNormalizer(dir),
		Coordinator: coordinator,
		Notifier:    notifier,
		Source:      source,
		Feed:        feedStats,
		Checks:      checks,
		Closers:     closers,
	})
	return p.Run(ctx)
}

func newNotifier(cfg *config.Config, db *sql.DB, dir *directory.Directory) (*notify.Service, error) {
	var phones storage.PhoneDecrypter
	if cfg.PhoneEncryptionKey != "" {
		c, err := secure.NewPhoneCipher(cfg.PhoneEncryptionKey)
		if err != nil {
			return nil, err
		}
		phones = c
	}

	dcfg := notify.DispatcherConfig{
		Enabled:       notify.ParseChannels(cfg.Notify.EnabledChannels),
		RatePerMinute: cfg.Notify.RatePerMinute,
		Subject:       cfg.Notify.MailSubject,
		Rooms:         dir,
		Email: notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.Notify.SMTPHost,
			Port:     cfg.Notify.SMTPPort,
			Username: cfg.Notify.SMTPUsername,
			Password: cfg.Notify.SMTPPassword,
			From:     cfg.Notify.MailFrom,
			Timeout:  cfg.Notify.Timeout,
		}),
	}
	if cfg.Notify.TwilioAccountSID != "" {
		twilio := notify.NewTwilioClient(notify.TwilioConfig{
			AccountSID: cfg.Notify.TwilioAccountSID,
			AuthToken:  cfg.Notify.TwilioAuthToken,
			From:       cfg.Notify.TwilioFrom,
			BaseURL:    cfg.Notify.TwilioBaseURL,
			TwimlURL:   cfg.Notify.VoiceTwimlURL,
			Timeout:    cfg.Notify.Timeout,
		})
		dcfg.SMS = twilio
		dcfg.Voice = twilio
	}

	return notify.NewService(notify.ServiceConfig{
		Contacts:      storage.NewContactRepository(db, phones),
		Dispatcher:    notify.NewDispatcher(dcfg),
		Workers:       cfg.Engine.NotifyWorkers,
		QueueSize:     cfg.Engine.NotifyQueueSize,
		LookupTimeout: cfg.Engine.StoreTimeout,
		Timeout:       2 * cfg.Notify.Timeout,
	}), nil
}

func newSource(cfg *config.Config) (processor.Source, error) {
	t := cfg.Transport
	switch t.Kind {
	case "mqtt":
		return mqtt.NewSubscriber(mqtt.Config{
			Broker:   t.MQTTBroker,
			ClientID: t.MQTTClientID,
			Topics:   t.MQTTTopics,
			QoS:      byte(t.MQTTQoS),
			Username: t.MQTTUsername,
			Password: t.MQTTPassword,
		})
	case "kafka":
		return kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: t.KafkaBrokers,
			Topic:   t.KafkaTopic,
			GroupID: t.KafkaGroupID,
		})
	default:
		// http: messages arrive on POST /v1/telemetry only
		return nil, nil
	}
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
