package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"url-digest-bot/backfill"
	"url-digest-bot/bot"
	"url-digest-bot/chat"
	"url-digest-bot/classifier"
	"url-digest-bot/config"
	"url-digest-bot/digest"
	"url-digest-bot/ingest"
	"url-digest-bot/loop"
	"url-digest-bot/scheduler"
	"url-digest-bot/storage"
)

const storeQueueSize = 64

func main() {
	// Load configuration
	configPath := config.GetConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	slog.Info("starting URL digest bot")
	slog.Info("config loaded", "path", configPath, "store_backend", cfg.StoreBackend)

	// Initialize persistence
	var (
		persister storage.Persister
		settings  bot.SettingsStore
	)
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		db, err := storage.NewDB(cfg.DBPath)
		if err != nil {
			slog.Error("failed to initialize database", "path", cfg.DBPath, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		persister, settings = db, db
		slog.Info("database initialized", "path", cfg.DBPath)
	default:
		persister = storage.NewJSONFiles(cfg.MessageStorePath, cfg.URLStorePath)
	}

	snap, err := persister.Load(context.Background())
	if err != nil {
		slog.Error("failed to load store", "error", err)
		os.Exit(1)
	}
	store := storage.NewStore()
	store.Restore(snap)
	stats := store.Stats()
	slog.Info("store loaded", "messages", stats.Messages, "urls", stats.URLs)

	// Initialize Telegram bot
	tgBot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		slog.Error("failed to initialize Telegram bot", "error", err)
		os.Exit(1)
	}
	slog.Info("telegram bot initialized", "username", tgBot.Self.UserName)
	telegram := chat.NewTelegram(tgBot)

	// The store loop outlives ctx so the final save can still read it
	loopCtx, stopLoop := context.WithCancel(context.Background())
	storeLoop := loop.New(store, storeQueueSize)
	go storeLoop.Run(loopCtx)

	// Initialize components
	urlClassifier, ok := classifier.New(cfg.Classifier,
		classifier.WithTimeout(time.Duration(cfg.FetchTimeoutSecs)*time.Second),
	)
	if !ok {
		slog.Error("unknown classifier", "name", cfg.Classifier)
		os.Exit(1)
	}
	ingester := ingest.New(storeLoop, urlClassifier)
	digests := digest.NewRunner(storeLoop, telegram,
		digest.WithWindow(cfg.DigestWindow),
		digest.WithLimit(cfg.DigestLimit),
	)

	history := chat.NewExportHistory(cfg.HistoryExportPath, cfg.Location())
	backfiller := backfill.New(history, ingester,
		backfill.WithWindow(cfg.BackfillWindow),
		backfill.WithDelay(cfg.BackfillDelay),
	)

	opts := []bot.Option{bot.WithListening(cfg.ListenOnStartup)}
	if settings != nil {
		opts = append(opts, bot.WithSettings(settings))
	}
	handler := bot.New(telegram, storeLoop, ingester, backfiller, digests, cfg.GroupID, opts...)
	handler.RestoreState(context.Background())

	app := &App{
		cfg:       cfg,
		store:     storeLoop,
		persister: persister,
		digests:   digests,
	}

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize scheduler
	sched, err := scheduler.NewScheduler(cfg.Timezone)
	if err != nil {
		slog.Error("failed to initialize scheduler", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}
	if err := sched.Daily("digest", cfg.DigestTime, func() {
		app.runDigest(ctx)
	}); err != nil {
		slog.Error("failed to schedule digest", "error", err)
		os.Exit(1)
	}
	if err := sched.Every("save", cfg.SaveInterval, func() {
		app.save(ctx)
	}); err != nil {
		slog.Error("failed to schedule save", "error", err)
		os.Exit(1)
	}
	sched.Start()
	next, _ := sched.Next("digest")
	slog.Info("digest scheduled", "time", cfg.DigestTime, "timezone", cfg.Timezone, "next", next)

	// Run the bot
	slog.Info("starting bot polling", "group_id", cfg.GroupID, "listening", handler.Listening())
	telegram.Poll(ctx, func(in chat.Incoming) {
		handler.Handle(ctx, in)
	})

	sched.Stop()
	handler.Wait()
	app.save(context.Background())
	stopLoop()
	<-storeLoop.Done()
	slog.Info("bot stopped")
}

// App holds the dependencies of the scheduled jobs.
type App struct {
	cfg       *config.Config
	store     *loop.Loop[*storage.Store]
	persister storage.Persister
	digests   *digest.Runner
}

func (a *App) runDigest(ctx context.Context) {
	slog.Info("starting scheduled digest", "group_id", a.cfg.GroupID)

	n, err := a.digests.Run(ctx, a.cfg.GroupID, 0)
	switch {
	case errors.Is(err, digest.ErrEmpty):
		slog.Info("no URLs for digest")
	case err != nil:
		slog.Error("digest failed", "error", err)
	default:
		slog.Info("digest posted", "urls", n)
	}
}

// save snapshots the store on its loop and writes the snapshot outside it.
func (a *App) save(ctx context.Context) {
	var snap *storage.Snapshot
	if err := a.store.Do(ctx, func(s *storage.Store) {
		snap = s.Snapshot()
	}); err != nil {
		slog.Warn("failed to snapshot store", "error", err)
		return
	}

	if err := a.persister.Save(ctx, snap); err != nil {
		slog.Error("failed to save store", "error", err)
		return
	}
	slog.Debug("store saved", "messages", len(snap.Messages), "urls", len(snap.URLs))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
