// Package config loads watchdog configuration from config.properties with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Session / cookie lifecycle
	CookieAutoUpdate     bool          // cookie.auto.update
	CookieUpdateEvery    time.Duration // cookie.update.interval.minutes
	CookieDynamic        bool          // cookie.dynamic.enabled
	CookieMinRefresh     time.Duration // cookie.cache.ttl.minutes
	CookiesEncryptAtRest bool          // storage.cookies.encrypt
	EncryptionKey        string        // storage.cookies.key (env WATCHDOG_COOKIES_KEY)

	// HTTP
	ConnectTimeout time.Duration // http.connect.timeout (ms)
	ReadTimeout    time.Duration // http.read.timeout (ms)
	UserAgent      string        // http.user.agent
	MaxRetries     int           // http.max.retries
	RetryDelay     time.Duration // http.retry.delay (ms)

	// Worker pool
	PoolCoreSize  int           // thread.pool.core.size
	PoolMaxSize   int           // thread.pool.max.size
	PoolQueueCap  int           // thread.pool.queue.capacity
	PoolKeepalive time.Duration // thread.pool.keepalive.seconds

	// Per-user defaults
	DefaultCheckInterval time.Duration // parser.default.check_interval (s)
	DefaultMaxAge        int           // parser.default.max_age_minutes
	DefaultMaxPages      int           // parser.default.max_pages
	DefaultRowsPerPage   int           // parser.default.rows_per_page
	DefaultNotifyNewOnly bool          // parser.default.notify_new_only

	// Goofish adapter
	GoofishBaseURL     string        // api.goofish.base_url
	GoofishSearchPath  string        // api.goofish.search.endpoint
	GoofishAppKey      string        // api.goofish.app_key
	GoofishDelay       time.Duration // api.goofish.delay.between.requests (ms)
	GoofishMaxRows     int           // api.goofish.max.products.per.page
	GoofishProxy       string        // api.goofish.proxy (socks5://... or http://...)

	// Storage
	DataDir        string        // storage.data.dir
	BackupEnabled  bool          // storage.backup.enabled
	BackupInterval time.Duration // storage.backup.interval.hours

	// Telegram
	BotToken    string // telegram.bot.token
	BotUsername string // telegram.bot.username
	AdminID     int64  // telegram.admin.id

	// Admin API (disabled unless a listen address is set)
	AdminListen string // admin.listen, e.g. "127.0.0.1:8188"
	AdminToken  string // admin.token (env WATCHDOG_ADMIN_TOKEN)

	// Block cooldown
	CooldownBase time.Duration // block.cooldown.seconds
	CooldownMax  time.Duration // block.cooldown.max.minutes

	// Misc
	LogLevel      string        // log.level
	ShutdownGrace time.Duration // shutdown.grace.seconds
	NotifyDelay   time.Duration // notify.delay.ms (inter-item pacing)
	StatsInterval time.Duration // stats.interval.minutes
}

// Load reads config.properties from the working directory (if present),
// applies environment overrides, and fills defaults.
func Load() *Config {
	return LoadFile("config.properties")
}

// LoadFile reads the given properties file. A missing file is not an error;
// all values then come from the environment or built-in defaults.
func LoadFile(path string) *Config {
	props := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		if m, err := godotenv.Read(path); err == nil {
			props = m
		}
	}
	g := getter{props: props}

	return &Config{
		CookieAutoUpdate:     g.boolOr("cookie.auto.update", true),
		CookieUpdateEvery:    g.minutesOr("cookie.update.interval.minutes", 60),
		CookieDynamic:        g.boolOr("cookie.dynamic.enabled", true),
		CookieMinRefresh:     g.minutesOr("cookie.cache.ttl.minutes", 30),
		CookiesEncryptAtRest: g.boolOr("storage.cookies.encrypt", false),
		EncryptionKey:        g.strOr("storage.cookies.key", ""),

		ConnectTimeout: g.millisOr("http.connect.timeout", 10000),
		ReadTimeout:    g.millisOr("http.read.timeout", 15000),
		UserAgent:      g.strOr("http.user.agent", defaultUserAgent),
		MaxRetries:     g.intOr("http.max.retries", 3),
		RetryDelay:     g.millisOr("http.retry.delay", 1000),

		PoolCoreSize:  g.intOr("thread.pool.core.size", 4),
		PoolMaxSize:   g.intOr("thread.pool.max.size", 16),
		PoolQueueCap:  g.intOr("thread.pool.queue.capacity", 32),
		PoolKeepalive: g.secondsOr("thread.pool.keepalive.seconds", 60),

		DefaultCheckInterval: g.secondsOr("parser.default.check_interval", 60),
		DefaultMaxAge:        g.intOr("parser.default.max_age_minutes", 1440),
		DefaultMaxPages:      g.intOr("parser.default.max_pages", 3),
		DefaultRowsPerPage:   g.intOr("parser.default.rows_per_page", 30),
		DefaultNotifyNewOnly: g.boolOr("parser.default.notify_new_only", true),

		GoofishBaseURL:    g.strOr("api.goofish.base_url", "https://h5api.m.goofish.com"),
		GoofishSearchPath: g.strOr("api.goofish.search.endpoint", "/h5/mtop.taobao.idlemtopsearch.pc.search/1.0/"),
		GoofishAppKey:     g.strOr("api.goofish.app_key", "34839810"),
		GoofishDelay:      g.millisOr("api.goofish.delay.between.requests", 2000),
		GoofishMaxRows:    g.intOr("api.goofish.max.products.per.page", 50),
		GoofishProxy:      g.strOr("api.goofish.proxy", ""),

		DataDir:        g.strOr("storage.data.dir", "data"),
		BackupEnabled:  g.boolOr("storage.backup.enabled", true),
		BackupInterval: g.hoursOr("storage.backup.interval.hours", 24),

		BotToken:    g.strOr("telegram.bot.token", ""),
		BotUsername: g.strOr("telegram.bot.username", ""),
		AdminID:     g.int64Or("telegram.admin.id", 0),

		AdminListen: g.strOr("admin.listen", ""),
		AdminToken:  g.strOr("admin.token", ""),

		CooldownBase: g.secondsOr("block.cooldown.seconds", 30),
		CooldownMax:  g.minutesOr("block.cooldown.max.minutes", 30),

		LogLevel:      g.strOr("log.level", "info"),
		ShutdownGrace: g.secondsOr("shutdown.grace.seconds", 30),
		NotifyDelay:   g.millisOr("notify.delay.ms", 800),
		StatsInterval: g.minutesOr("stats.interval.minutes", 30),
	}
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Validate checks startup requirements. A missing bot token is fatal.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return errMissing("telegram.bot.token")
	}
	if c.DataDir == "" {
		return errMissing("storage.data.dir")
	}
	if c.CookiesEncryptAtRest && c.EncryptionKey == "" {
		return errMissing("storage.cookies.key")
	}
	if c.PoolMaxSize < c.PoolCoreSize {
		return fmt.Errorf("thread.pool.max.size %d < thread.pool.core.size %d", c.PoolMaxSize, c.PoolCoreSize)
	}
	if c.AdminListen != "" && c.AdminToken == "" {
		return errMissing("admin.token")
	}
	return nil
}

type configError struct{ field string }

func (e *configError) Error() string { return "missing required option: " + e.field }
func errMissing(f string) error      { return &configError{field: f} }

// getter resolves a key against the environment first, then the properties
// file. Property key "a.b.c" maps to env var "WATCHDOG_A_B_C".
type getter struct {
	props map[string]string
}

func envName(key string) string {
	return "WATCHDOG_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (g getter) raw(key string) string {
	if v := os.Getenv(envName(key)); v != "" {
		return v
	}
	return strings.TrimSpace(g.props[key])
}

func (g getter) strOr(key, fallback string) string {
	if v := g.raw(key); v != "" {
		return v
	}
	return fallback
}

func (g getter) intOr(key string, fallback int) int {
	if v := g.raw(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (g getter) int64Or(key string, fallback int64) int64 {
	if v := g.raw(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func (g getter) boolOr(key string, fallback bool) bool {
	if v := g.raw(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func (g getter) millisOr(key string, fallback int) time.Duration {
	return time.Duration(g.intOr(key, fallback)) * time.Millisecond
}

func (g getter) secondsOr(key string, fallback int) time.Duration {
	return time.Duration(g.intOr(key, fallback)) * time.Second
}

func (g getter) minutesOr(key string, fallback int) time.Duration {
	return time.Duration(g.intOr(key, fallback)) * time.Minute
}

func (g getter) hoursOr(key string, fallback int) time.Duration {
	return time.Duration(g.intOr(key, fallback)) * time.Hour
}
