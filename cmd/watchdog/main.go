package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fleamkt/watchdog/internal/config"
	"github.com/fleamkt/watchdog/internal/events"
	"github.com/fleamkt/watchdog/internal/market"
	"github.com/fleamkt/watchdog/internal/market/goofish"
	"github.com/fleamkt/watchdog/internal/notify"
	"github.com/fleamkt/watchdog/internal/scheduler"
	"github.com/fleamkt/watchdog/internal/server"
	"github.com/fleamkt/watchdog/internal/session"
	"github.com/fleamkt/watchdog/internal/store"
	"github.com/fleamkt/watchdog/internal/supervisor"
	"github.com/fleamkt/watchdog/internal/transport"
)

var version = "dev"

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}

	// Setup logging with ring buffer handler
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logHandler := events.NewLogHandler(level, 1000)
	slog.SetDefault(slog.New(logHandler))
	slog.Info("watchdog starting", "version", version)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("data dir init failed", "error", err)
		os.Exit(1)
	}

	// Stores
	allow, err := store.LoadAllowList(cfg.DataDir)
	if err != nil {
		slog.Error("allow-list load failed", "error", err)
		os.Exit(1)
	}
	settings := store.NewSettingsStore(cfg.DataDir, store.UserSettings{
		CheckIntervalS: int(cfg.DefaultCheckInterval.Seconds()),
		MaxAgeMin:      cfg.DefaultMaxAge,
		MaxPages:       cfg.DefaultMaxPages,
		RowsPerPage:    cfg.DefaultRowsPerPage,
		NotifyNewOnly:  cfg.DefaultNotifyNewOnly,
	})
	queries := store.NewQueryStore(cfg.DataDir)
	history := store.NewHistory(cfg.DataDir, 0)
	items := store.NewItemStore(cfg.DataDir, 0)

	reqLog, err := store.OpenLogDB(filepath.Join(cfg.DataDir, "watchdog.db"))
	if err != nil {
		slog.Error("request log init failed", "error", err)
		os.Exit(1)
	}
	defer reqLog.Close()
	slog.Info("stores ready", "data_dir", cfg.DataDir, "allowed_users", len(allow.List()))

	bus := events.NewBus(200)

	// Session manager over the persisted cookies
	var cipher *session.Cipher
	if cfg.CookiesEncryptAtRest {
		cipher = session.NewCipher(cfg.EncryptionKey)
	}
	cookieFile := session.NewCookieFile(filepath.Join(cfg.DataDir, "cookies.properties"), cipher)
	provider := session.NewStaticProvider(cookieFile, goofish.SiteName)
	proactive := time.Duration(0)
	if cfg.CookieAutoUpdate {
		proactive = cfg.CookieUpdateEvery
	}
	tokens := session.NewManager(session.ManagerOptions{
		Domain:         goofish.SiteName,
		MinRefreshGap:  cfg.CookieMinRefresh,
		ProactiveEvery: proactive,
		Dynamic:        cfg.CookieDynamic,
		Bus:            bus,
	}, provider, cookieFile)
	if err := tokens.Bootstrap(); err != nil {
		slog.Error("session bootstrap failed", "error", err)
		os.Exit(1)
	}
	if !tokens.Current().Valid() {
		slog.Error("no usable session token, check cookies.properties")
		os.Exit(1)
	}
	slog.Info("session ready", "dynamic", cfg.CookieDynamic)

	// Marketplace transport and adapter
	tm := transport.NewManager(cfg.ReadTimeout)
	defer tm.Close()

	var proxy *transport.ProxyConfig
	if cfg.GoofishProxy != "" {
		proxy, err = transport.ParseProxyURL(cfg.GoofishProxy)
		if err != nil {
			slog.Error("proxy config invalid", "error", err)
			os.Exit(1)
		}
	}
	adapter := goofish.New(goofish.Options{
		BaseURL:    cfg.GoofishBaseURL,
		SearchPath: cfg.GoofishSearchPath,
		AppKey:     cfg.GoofishAppKey,
		UserAgent:  cfg.UserAgent,
		Delay:      cfg.GoofishDelay,
		MaxRows:    cfg.GoofishMaxRows,
	}, tm.Client(goofish.SiteName, proxy))

	// Notifications and the polling engine
	notifier := notify.NewTelegram(notify.TelegramOptions{
		Token:   cfg.BotToken,
		AdminID: cfg.AdminID,
		Timeout: cfg.ReadTimeout,
	}, slog.Default())

	runner := scheduler.NewRunner(adapter, tokens, history, items, notifier, bus, reqLog,
		slog.Default(), scheduler.RunnerOptions{
			MaxRetries:  cfg.MaxRetries,
			RetryDelay:  cfg.RetryDelay,
			NotifyDelay: cfg.NotifyDelay,
			Cooldown:    market.NewCooldown(cfg.CooldownBase, cfg.CooldownMax),
		})
	pool := scheduler.NewPool(cfg.PoolCoreSize, cfg.PoolMaxSize, cfg.PoolQueueCap, cfg.PoolKeepalive)
	sched := scheduler.NewScheduler(pool, runner, bus, slog.Default())

	var backup *store.BackupManager
	if cfg.BackupEnabled {
		backup = store.NewBackupManager(cfg.DataDir, cfg.BackupInterval)
	}

	sup := supervisor.New(allow, queries, settings, sched, tokens, notifier, bus, backup,
		slog.Default(), supervisor.Options{
			StatsInterval: cfg.StatsInterval,
			ShutdownGrace: cfg.ShutdownGrace,
			BackupEnabled: cfg.BackupEnabled,
		})
	sup.Start()

	if resumed := sup.ResumeAll(); resumed > 0 {
		slog.Info("resumed polling", "users", resumed)
	}

	// Admin control API (optional)
	var adminSrv *server.Server
	if cfg.AdminListen != "" {
		adminSrv = server.New(cfg.AdminListen, cfg.AdminToken, sup, allow, queries,
			settings, reqLog, bus, logHandler, version)
		adminSrv.Start()
	}

	// Idle transport cleanup
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go tm.RunCleanup(cleanupCtx)

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	slog.Info("signal received", "signal", s.String())

	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("admin api shutdown", "error", err)
		}
		cancel()
	}
	sup.Shutdown()
	slog.Info("watchdog stopped")
}
