package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type config struct {
	port int
	env  string
	db   struct {
		driver             string
		dsn                string
		maxOpenConnections int
		maxIdleConnections int
		maxIdleTime        time.Duration
	}
	session struct {
		store string
		ttl   time.Duration
	}
	limiter struct {
		enabled             bool
		maxRequestPerSecond float64
		burst               int
	}
	cors struct {
		trustedOrigins []string
	}
	smtp struct {
		host     string
		port     int
		username string
		password string
		sender   string
	}
	log struct {
		level  string
		format string
	}
}

// fileConfig is the YAML shape of the optional config file. Durations are
// kept as strings and parsed the same way as their flags.
type fileConfig struct {
	Port *int    `yaml:"port"`
	Env  *string `yaml:"env"`
	DB   struct {
		Driver       *string `yaml:"driver"`
		DSN          *string `yaml:"dsn"`
		MaxOpenConns *int    `yaml:"max_open_conns"`
		MaxIdleConns *int    `yaml:"max_idle_conns"`
		MaxIdleTime  *string `yaml:"max_idle_time"`
	} `yaml:"db"`
	Session struct {
		Store *string `yaml:"store"`
		TTL   *string `yaml:"ttl"`
	} `yaml:"session"`
	Limiter struct {
		Enabled *bool    `yaml:"enabled"`
		RPS     *float64 `yaml:"rps"`
		Burst   *int     `yaml:"burst"`
	} `yaml:"limiter"`
	CORS struct {
		TrustedOrigins []string `yaml:"trusted_origins"`
	} `yaml:"cors"`
	SMTP struct {
		Host     *string `yaml:"host"`
		Port     *int    `yaml:"port"`
		Username *string `yaml:"username"`
		Password *string `yaml:"password"`
		Sender   *string `yaml:"sender"`
	} `yaml:"smtp"`
	Log struct {
		Level  *string `yaml:"level"`
		Format *string `yaml:"format"`
	} `yaml:"log"`
}

// loadConfig parses args (without the program name). Flag defaults come from
// the environment; a --config file overrides any flag not given explicitly.
func loadConfig(args []string, getenv func(string) string) (config, error) {
	var cfg config
	fs := pflag.NewFlagSet("todo-api", pflag.ContinueOnError)

	configPath := fs.String("config", getenv("TODO_CONFIG"), "Path to a YAML config file")

	fs.IntVar(&cfg.port, "port", 3000, "Server port")
	fs.StringVar(&cfg.env, "env", "development", "Environment [development|production]")

	fs.StringVar(&cfg.db.driver, "db-driver", envOr(getenv, "DB_DRIVER", driverSQLite), "Database driver [sqlite|postgres]")
	fs.StringVar(&cfg.db.dsn, "db-dsn", envOr(getenv, "DB_DSN", "data/todos.db"), "Database DSN (file path for sqlite)")
	fs.IntVar(&cfg.db.maxOpenConnections, "db-max-open-conns", 25, "PostgreSQL max open connections")
	fs.IntVar(&cfg.db.maxIdleConnections, "db-max-idle-conns", 25, "PostgreSQL max idle connections")
	maxIdleTime := fs.String("db-max-idle-time", "15m", "PostgreSQL max connection idle time")

	fs.StringVar(&cfg.session.store, "session-store", "sql", "Session store [sql|memory]")
	sessionTTL := fs.String("session-ttl", defaultSessionTTL.String(), "Session lifetime")

	fs.BoolVar(&cfg.limiter.enabled, "limiter-enabled", true, "Enable the per-IP rate limiter")
	fs.Float64Var(&cfg.limiter.maxRequestPerSecond, "limiter-rps", 4, "Rate limiter maximum requests per second")
	fs.IntVar(&cfg.limiter.burst, "limiter-burst", 8, "Rate limiter maximum burst")

	fs.StringSliceVar(&cfg.cors.trustedOrigins, "cors-trusted-origins", nil, "Trusted CORS origins (comma separated)")

	fs.StringVar(&cfg.smtp.host, "smtp-host", getenv("SMTP_HOST"), "SMTP host; sign-in notices are off when empty")
	fs.IntVar(&cfg.smtp.port, "smtp-port", 25, "SMTP port")
	fs.StringVar(&cfg.smtp.username, "smtp-username", getenv("SMTP_USERNAME"), "SMTP username")
	fs.StringVar(&cfg.smtp.password, "smtp-password", getenv("SMTP_PASSWORD"), "SMTP password")
	fs.StringVar(&cfg.smtp.sender, "smtp-sender", getenv("SMTP_SENDER"), "SMTP sender")

	fs.StringVar(&cfg.log.level, "log-level", "info", "Log level [debug|info|warn|error]")
	fs.StringVar(&cfg.log.format, "log-format", "text", "Log format [text|json]")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if p := getenv("SMTP_PORT"); p != "" && !fs.Changed("smtp-port") {
		port, err := strconv.Atoi(p)
		if err != nil {
			return config{}, fmt.Errorf("invalid SMTP_PORT %q: %w", p, err)
		}
		cfg.smtp.port = port
	}

	if *configPath != "" {
		fc, err := readConfigFile(*configPath, getenv)
		if err != nil {
			return config{}, err
		}
		applyFileConfig(fs, &cfg, fc, maxIdleTime, sessionTTL)
	}

	var err error
	if cfg.db.maxIdleTime, err = time.ParseDuration(*maxIdleTime); err != nil {
		return config{}, fmt.Errorf("invalid db max idle time %q: %w", *maxIdleTime, err)
	}
	if cfg.session.ttl, err = time.ParseDuration(*sessionTTL); err != nil {
		return config{}, fmt.Errorf("invalid session ttl %q: %w", *sessionTTL, err)
	}

	return cfg, cfg.validate()
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func readConfigFile(path string, getenv func(string) string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.Expand(string(data), getenv)), &fc); err != nil {
		return fc, fmt.Errorf("parsing config file: %w", err)
	}
	return fc, nil
}

func applyFileConfig(fs *pflag.FlagSet, cfg *config, fc fileConfig, maxIdleTime, sessionTTL *string) {
	set := func(name string, apply func()) {
		if !fs.Changed(name) {
			apply()
		}
	}
	if fc.Port != nil {
		set("port", func() { cfg.port = *fc.Port })
	}
	if fc.Env != nil {
		set("env", func() { cfg.env = *fc.Env })
	}
	if fc.DB.Driver != nil {
		set("db-driver", func() { cfg.db.driver = *fc.DB.Driver })
	}
	if fc.DB.DSN != nil {
		set("db-dsn", func() { cfg.db.dsn = *fc.DB.DSN })
	}
	if fc.DB.MaxOpenConns != nil {
		set("db-max-open-conns", func() { cfg.db.maxOpenConnections = *fc.DB.MaxOpenConns })
	}
	if fc.DB.MaxIdleConns != nil {
		set("db-max-idle-conns", func() { cfg.db.maxIdleConnections = *fc.DB.MaxIdleConns })
	}
	if fc.DB.MaxIdleTime != nil {
		set("db-max-idle-time", func() { *maxIdleTime = *fc.DB.MaxIdleTime })
	}
	if fc.Session.Store != nil {
		set("session-store", func() { cfg.session.store = *fc.Session.Store })
	}
	if fc.Session.TTL != nil {
		set("session-ttl", func() { *sessionTTL = *fc.Session.TTL })
	}
	if fc.Limiter.Enabled != nil {
		set("limiter-enabled", func() { cfg.limiter.enabled = *fc.Limiter.Enabled })
	}
	if fc.Limiter.RPS != nil {
		set("limiter-rps", func() { cfg.limiter.maxRequestPerSecond = *fc.Limiter.RPS })
	}
	if fc.Limiter.Burst != nil {
		set("limiter-burst", func() { cfg.limiter.burst = *fc.Limiter.Burst })
	}
	if fc.CORS.TrustedOrigins != nil {
		set("cors-trusted-origins", func() { cfg.cors.trustedOrigins = fc.CORS.TrustedOrigins })
	}
	if fc.SMTP.Host != nil {
		set("smtp-host", func() { cfg.smtp.host = *fc.SMTP.Host })
	}
	if fc.SMTP.Port != nil {
		set("smtp-port", func() { cfg.smtp.port = *fc.SMTP.Port })
	}
	if fc.SMTP.Username != nil {
		set("smtp-username", func() { cfg.smtp.username = *fc.SMTP.Username })
	}
	if fc.SMTP.Password != nil {
		set("smtp-password", func() { cfg.smtp.password = *fc.SMTP.Password })
	}
	if fc.SMTP.Sender != nil {
		set("smtp-sender", func() { cfg.smtp.sender = *fc.SMTP.Sender })
	}
	if fc.Log.Level != nil {
		set("log-level", func() { cfg.log.level = *fc.Log.Level })
	}
	if fc.Log.Format != nil {
		set("log-format", func() { cfg.log.format = *fc.Log.Format })
	}
}

func (cfg config) validate() error {
	switch cfg.db.driver {
	case driverSQLite, driverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.db.driver)
	}
	if cfg.db.dsn == "" {
		return fmt.Errorf("database dsn must be provided")
	}
	switch cfg.session.store {
	case "sql", "memory":
	default:
		return fmt.Errorf("unsupported session store %q", cfg.session.store)
	}
	if cfg.session.ttl <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if _, err := parseLogLevel(cfg.log.level); err != nil {
		return err
	}
	switch cfg.log.format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q", cfg.log.format)
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", s)
	}
}

func newLogger(w io.Writer, cfg config) *slog.Logger {
	level, _ := parseLogLevel(cfg.log.level)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.log.format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
