package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/raymondclowe/ttslo-sub000/internal/config"
	"github.com/raymondclowe/ttslo-sub000/internal/kraken"
	"github.com/raymondclowe/ttslo-sub000/internal/logger"
	"github.com/raymondclowe/ttslo-sub000/internal/metrics"
	"github.com/raymondclowe/ttslo-sub000/internal/models"
	"github.com/raymondclowe/ttslo-sub000/internal/notify"
	"github.com/raymondclowe/ttslo-sub000/internal/storage"
	"github.com/raymondclowe/ttslo-sub000/internal/trigger"
	"github.com/raymondclowe/ttslo-sub000/internal/validator"
)

var (
	configPath   = flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile      = flag.String("env-file", "", "Optional .env file with KRAKEN_API_KEY and KRAKEN_API_SECRET")
	validateOnly = flag.Bool("validate-only", false, "Validate configurations and exit")
	dryRun       = flag.Bool("dry-run", false, "Run all checks but never place real orders")
	debugMode    = flag.Bool("debug", false, "Downgrade the already-met-threshold error to a warning")
	interval     = flag.Duration("interval", 0, "Override trigger.poll_interval")
)

func main() {
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("Failed to load env file %s: %v", *envFile, err)
		}
	} else {
		// Best effort: a .env in the working directory is optional.
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dryRun {
		cfg.Trigger.DryRun = true
	}
	if *debugMode {
		cfg.Trigger.DebugMode = true
	}
	if *interval > 0 {
		cfg.Trigger.PollInterval = *interval
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to open storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	market := kraken.NewClient(
		cfg.Kraken.APIURL,
		os.Getenv("KRAKEN_API_KEY"),
		os.Getenv("KRAKEN_API_SECRET"),
		cfg.Kraken.Timeout,
		kraken.ClientConfig{
			MaxRetries:          cfg.Kraken.MaxRetries,
			MaxIdleConns:        cfg.Kraken.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.Kraken.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.Kraken.IdleConnTimeout,
		},
	)
	if !market.HasWriteCredentials() {
		logger.Warn("No API credentials found; running in read-only mode, orders cannot be placed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	exitCode := runValidation(ctx, market, store, cfg)
	if *validateOnly {
		os.Exit(exitCode)
	}
	if exitCode != 0 {
		logger.Warn("Some configurations were disabled by validation; continuing with the rest")
	}

	var sink notify.Sink
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramSink(cfg.Telegram.BotToken, 3, time.Second)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram: %v", err)
		}
		sink = tg
		logger.Info("Telegram notifications enabled for %d recipient(s)", len(cfg.Telegram.Recipients))
	} else {
		logger.Debug("Telegram notifications disabled")
	}
	notifier, err := notify.NewNotifier(sink, store, cfg.Telegram.Recipients)
	if err != nil {
		logger.Fatal("Failed to initialize notifier: %v", err)
	}

	engine, err := trigger.New(market, store, notifier, trigger.Options{DryRun: cfg.Trigger.DryRun})
	if err != nil {
		logger.Fatal("Failed to initialize trigger engine: %v", err)
	}

	if cfg.Metrics.Enabled {
		go func() {
			logger.Info("Metrics listening on %s", cfg.Metrics.ListenAddr)
			if err := metrics.Serve(cfg.Metrics.ListenAddr); err != nil {
				logger.Error("Metrics listener failed: %v", err)
			}
		}()
	}

	logger.Info("Starting trigger loop (interval: %v, dry_run: %v)", cfg.Trigger.PollInterval, cfg.Trigger.DryRun)

	ticker := time.NewTicker(cfg.Trigger.PollInterval)
	defer ticker.Stop()

	runCycle := func() {
		if err := engine.RunCycle(ctx); err != nil {
			logger.Error("Trigger cycle failed: %v", err)
		}
		notifier.Flush()
	}

	runCycle()
	for {
		select {
		case <-ctx.Done():
			if cfg.Telegram.NotifyExit {
				// Fire-and-forget with a bounded wait so a dead
				// notification channel cannot hold up shutdown.
				notifier.BroadcastDetached("🛑 Trigger service shutting down.", 5*time.Second)
			}
			logger.Info("Service stopped")
			return
		case <-ticker.C:
			runCycle()
		}
	}
}

// runValidation loads the configurations, runs every policy rule,
// prints the diagnostics, and disables the configurations that carry
// errors. Returns 1 when anything was disabled.
func runValidation(ctx context.Context, market kraken.Gateway, store *storage.Store, cfg *config.Config) int {
	configs, loadDiags, err := store.LoadConfigurations()
	if err != nil {
		logger.Fatal("Failed to load configurations: %v", err)
	}
	if len(configs) == 0 {
		logger.Warn("No configurations found")
		return 0
	}

	v := validator.New(market, cfg.Trigger.DebugMode)
	result := v.Validate(ctx, configs)
	result.Diagnostics = append(loadDiags, result.Diagnostics...)

	for _, d := range result.Diagnostics {
		line := fmt.Sprintf("[%s] config=%s field=%s: %s", d.Severity, d.ConfigID, d.Field, d.Message)
		switch d.Severity {
		case models.SeverityError:
			logger.Error("%s", line)
		case models.SeverityWarning:
			logger.Warn("%s", line)
		default:
			logger.Info("%s", line)
		}
	}

	disabled := result.DisabledIDs()
	if len(disabled) == 0 {
		logger.Info("Validation passed: %d configuration(s), no errors", len(configs))
		return 0
	}
	if err := store.DisableConfigs(disabled); err != nil {
		logger.Fatal("Failed to disable invalid configurations: %v", err)
	}
	logger.Error("Validation disabled %d configuration(s): %v", len(disabled), disabled)
	return 1
}
