package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
)

const version = "1.0.0"

type application struct {
	config   config
	logger   *slog.Logger
	todos    todoStore
	sessions sessionStore
	mailer   *mailer
	limiter  *ipRateLimiter
	now      func() time.Time
	wg       sync.WaitGroup
}

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Getenv)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(os.Stderr, cfg)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("established a connection with database", "driver", cfg.db.driver)

	if err := migrate(ctx, db, cfg.db.driver); err != nil {
		return err
	}

	app := newApplication(cfg, logger, db)

	jobs, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	app.startJobs(jobs)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.port),
		Handler:      composeRoutes(app),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "env", cfg.env, "port", cfg.port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	stopJobs()
	app.wg.Wait()
	logger.Info("stopped server")
	return nil
}

func newApplication(cfg config, logger *slog.Logger, db *sql.DB) *application {
	app := &application{
		config: cfg,
		logger: logger,
		todos:  newSQLTodoStore(db),
		now:    time.Now,
	}
	switch cfg.session.store {
	case "memory":
		app.sessions = newMemorySessionStore()
	default:
		app.sessions = newSQLSessionStore(db)
	}
	if cfg.smtp.host != "" {
		app.mailer = newMailer(cfg.smtp.host, cfg.smtp.port, cfg.smtp.username, cfg.smtp.password, cfg.smtp.sender)
	}
	if cfg.limiter.enabled {
		app.limiter = newIPRateLimiter(cfg.limiter.maxRequestPerSecond, cfg.limiter.burst)
	}
	return app
}

// startJobs launches the session janitor and limiter sweeper; they stop
// when ctx is cancelled.
func (app *application) startJobs(ctx context.Context) {
	if p, ok := app.sessions.(sessionPurger); ok {
		app.background(func() { runSessionJanitor(ctx, p, time.Minute, app.logger) })
	}
	if app.limiter != nil {
		app.background(func() { app.limiter.run(ctx) })
	}
}
