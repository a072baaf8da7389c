package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatstopic/internal/cache"
	"whatstopic/internal/config"
	"whatstopic/internal/constants"
	"whatstopic/internal/database"
	"whatstopic/internal/extension"
	"whatstopic/internal/media"
	"whatstopic/internal/models"
	"whatstopic/internal/retry"
	"whatstopic/internal/service"
	"whatstopic/internal/store"
	"whatstopic/internal/tracing"
	"whatstopic/pkg/telegram"
	"whatstopic/pkg/whatsapp"
	"whatstopic/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes chat ids and message content)")
	configPath = flag.String("config", "config.json", "Path to configuration file (JSON or YAML)")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("whatstopic %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting whatstopic")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyLogLevel(logger, cfg.LogLevel, *verbose)
	ctx = service.WithVerbose(ctx, *verbose)

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	docs, err := openDocumentStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer docs.Close()

	mappings := store.New(docs, logger)
	if err := mappings.Warm(ctx); err != nil {
		return fmt.Errorf("failed to load mappings: %w", err)
	}

	caches, err := cache.New(ctx, cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize caches: %w", err)
	}
	defer caches.Close()

	waConfig := types.ClientConfig{
		BaseURL:     cfg.WhatsApp.APIBaseURL,
		APIKey:      cfg.WhatsApp.APIKey,
		SessionName: cfg.WhatsApp.SessionName,
		Timeout:     time.Duration(cfg.WhatsApp.TimeoutSec) * time.Second,
	}
	waClient := whatsapp.NewClientWithLogger(waConfig, logger)

	tgClient, err := telegram.NewClient(telegram.Config{
		BaseURL:         cfg.Telegram.APIBaseURL,
		Token:           cfg.Telegram.BotToken,
		Timeout:         time.Duration(cfg.Telegram.PollTimeoutSec+constants.DefaultHTTPTimeoutSec) * time.Second,
		RatePerSecond:   cfg.Telegram.RateLimitPerSec,
		Burst:           cfg.Telegram.RateBurst,
		BreakerFailures: cfg.Telegram.BreakerFailures,
		BreakerTimeout:  time.Duration(cfg.Telegram.BreakerTimeoutSec) * time.Second,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telegram client: %w", err)
	}
	if me, err := tgClient.GetMe(ctx); err != nil {
		logger.WithError(err).Warn("Failed to reach Telegram Bot API, continuing")
	} else {
		logger.WithField("bot", me.Username).Info("Connected to Telegram Bot API")
	}

	pipeline, err := media.NewPipeline(cfg.Media, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize media pipeline: %w", err)
	}
	pipeline.RegisterSource(models.PlatformWhatsApp, media.NewWhatsAppSource(waClient))
	pipeline.RegisterSource(models.PlatformTelegram, media.NewTelegramSource(tgClient))
	pipeline.RegisterPublisher(models.PlatformTelegram, media.NewTopicPublisher(tgClient))
	pipeline.RegisterPublisher(models.PlatformWhatsApp, media.NewChatPublisher(waClient))

	controller := buildController(cfg, mappings, caches, waClient, tgClient, pipeline, logger)

	registry := extension.NewRegistry(controller)
	if cfg.Extensions.KeywordFilter.Enabled {
		if err := registry.Register(ctx, extension.NewKeywordFilter(cfg.Extensions.KeywordFilter.Keywords)); err != nil {
			return fmt.Errorf("failed to register keyword filter: %w", err)
		}
	}
	controller.UseExtensions(registry)

	listener := service.NewSourceListener(controller, logger)
	if cfg.WhatsApp.EventSource == "websocket" {
		stream := whatsapp.NewEventStream(waConfig, logger)
		go listener.Run(ctx, stream.Events(ctx))
		logger.Info("Consuming WhatsApp events from the websocket stream")
	} else {
		logger.Info("Consuming WhatsApp events from the webhook")
	}

	poller := service.NewTelegramPoller(tgClient, controller, cfg.Telegram, cfg.Retry, logger)
	if err := poller.Start(ctx); err != nil {
		logger.Warnf("Failed to start Telegram poller: %v", err)
	}
	defer poller.Stop()

	scheduler := service.NewScheduler(pipeline, cfg.Media.RetentionHours, constants.DefaultMediaCleanupInterval, logger)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	queueMonitor := service.NewQueueMonitor(controller, time.Minute, time.Duration(cfg.Timeouts.MediaSec*2)*time.Second, logger)
	go queueMonitor.Start(ctx)
	defer queueMonitor.Stop()

	sessionMonitor := service.NewSessionMonitor(waClient, logger, 0, 0)
	sessionMonitor.Start(ctx)
	defer sessionMonitor.Stop()

	watcher := config.NewConfigWatcher(*configPath, logger)
	watcher.OnConfigChange(func(next *models.Config) {
		applyLogLevel(logger, next.LogLevel, *verbose)
		if next.Bridge.IsEnabled() != controller.IsEnabled() {
			if next.Bridge.IsEnabled() {
				controller.Enable()
			} else {
				controller.Disable()
			}
		}
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	server := NewServer(cfg, listener, controller, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-serverErrCh:
		logger.Error(runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to shutdown server gracefully")
	}
	poller.Stop()
	if !controller.Shutdown(shutdownCtx) {
		logger.Warn("Delivery queues did not drain before the grace period ended")
	}

	logger.Info("Shutdown completed")
	return runErr
}

func buildController(cfg *models.Config, mappings *store.MappingStore, caches *cache.Caches, waClient *whatsapp.WhatsAppClient, tgClient *telegram.Client, pipeline *media.Pipeline, logger *logrus.Logger) *service.Controller {
	contacts := service.NewContactService(mappings, waClient, cfg.WhatsApp.ContactCacheHours, logger)
	topics := service.NewTopicManager(mappings, tgClient, service.TopicManagerConfig{
		GroupChatID: cfg.Telegram.GroupChatID,
		GroupPrefix: cfg.Telegram.GroupTopicPrefix,
		Timeout:     time.Duration(cfg.Timeouts.TopicSec) * time.Second,
	}, logger)
	translator := service.NewTranslator(tgClient, waClient, pipeline, caches.Replies, service.TranslatorConfig{
		GroupChatID:    cfg.Telegram.GroupChatID,
		SelfChatPrefix: cfg.Bridge.SelfChatPrefix,
	}, logger)
	notifier := service.NewDeliveryNotifier(tgClient, waClient, service.NotifierConfig{
		GroupChatID:     cfg.Telegram.GroupChatID,
		NotifySource:    cfg.Bridge.NotifySource,
		SuccessReaction: cfg.Bridge.SuccessReaction,
		FailureReaction: cfg.Bridge.FailureReaction,
		Timeout:         time.Duration(cfg.Timeouts.SendSec) * time.Second,
	}, logger)

	var operator *service.OperatorNotifier
	if cfg.Telegram.OperatorThreadID != 0 {
		window := time.Duration(cfg.Bridge.OperatorNoticeWindowSec) * time.Second
		operator = service.NewOperatorNotifier(translator, cfg.Telegram.OperatorThreadID, window, logger)
	}

	return service.NewController(service.ControllerDeps{
		Store:      mappings,
		Topics:     topics,
		Contacts:   contacts,
		Translator: translator,
		Notifier:   notifier,
		Operator:   operator,
		Replies:    caches.Replies,
		Dedup:      caches.Dedup,
	}, service.ControllerConfig{
		GroupChatID:      cfg.Telegram.GroupChatID,
		OperatorThreadID: cfg.Telegram.OperatorThreadID,
		Enabled:          cfg.Bridge.IsEnabled(),
		Queue: service.QueueConfig{
			Size:           cfg.Bridge.QueueSize,
			IdleTimeout:    time.Duration(cfg.Bridge.IdleTimeoutSec) * time.Second,
			EnqueueTimeout: time.Duration(cfg.Bridge.EnqueueTimeoutMs) * time.Millisecond,
			DrainGrace:     time.Duration(cfg.Bridge.DrainGraceSec) * time.Second,
		},
		Retry:    cfg.Retry,
		Timeouts: cfg.Timeouts,
	}, logger)
}

// openDocumentStore connects to the configured backend with exponential
// backoff.
func openDocumentStore(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (database.DocumentStore, error) {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	var docs database.DocumentStore
	err := backoff.Retry(ctx, func() error {
		var openErr error
		docs, openErr = database.Open(ctx, cfg.Database)
		if openErr != nil {
			logger.WithError(openErr).WithField("driver", cfg.Database.Driver).Warn("Failed to open document store")
		}
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	return docs, nil
}

// applyLogLevel honors -verbose first, then the configured level. Levels more
// verbose than info need -verbose because they log message content.
func applyLogLevel(logger *logrus.Logger, configured string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	if configured == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	if level > logrus.InfoLevel {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
