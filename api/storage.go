package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const storeTimeout = 5 * time.Second

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

//go:embed migrations
var migrations embed.FS

func openDB(cfg config) (*sql.DB, error) {
	switch cfg.db.driver {
	case driverPostgres:
		return openPostgres(cfg)
	case driverSQLite:
		return openSQLite(cfg.db.dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.db.driver)
	}
}

func openPostgres(cfg config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.db.dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.db.maxOpenConnections)
	db.SetMaxIdleConns(cfg.db.maxIdleConnections)
	db.SetConnMaxIdleTime(cfg.db.maxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// openSQLite opens the database file at path, creating parent directories.
// Pragmas go through the DSN so every pooled connection gets them.
func openSQLite(path string) (*sql.DB, error) {
	file, _, hasQuery := strings.Cut(path, "?")
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sep := "?"
	if hasQuery {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+sqlitePragmas)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// migrate brings the schema up to date using the embedded goose migrations
// for the given driver.
func migrate(ctx context.Context, db *sql.DB, driver string) error {
	var dialect string
	switch driver {
	case driverPostgres:
		dialect = "postgres"
	case driverSQLite:
		dialect = "sqlite3"
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations/"+driver); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

type todoStore interface {
	insert(ctx context.Context, t *todo) error
	selectByOwner(ctx context.Context, owner string) ([]todo, error)
	// selectByID returns nil, nil when no todo has the id.
	selectByID(ctx context.Context, id string) (*todo, error)
	updateCompleted(ctx context.Context, id, owner string, completed bool) (int64, error)
	deleteByID(ctx context.Context, id, owner string) (int64, error)
}

// sqlTodoStore runs the same $N-parameterized statements against postgres
// and sqlite. Every mutation is scoped by owner.
type sqlTodoStore struct {
	db *sql.DB
}

func newSQLTodoStore(db *sql.DB) *sqlTodoStore {
	return &sqlTodoStore{db: db}
}

func (s *sqlTodoStore) insert(ctx context.Context, t *todo) error {
	query := `INSERT INTO todos (id, owner, content, completed, created_at)
			  VALUES ($1, $2, $3, $4, $5)`
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, query, t.ID, t.Owner, t.Content, t.Completed, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert todo: %w", err)
	}
	return nil
}

func (s *sqlTodoStore) selectByOwner(ctx context.Context, owner string) ([]todo, error) {
	query := `SELECT id, owner, content, completed, created_at
			  FROM todos
			  WHERE owner = $1`
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("select todos: %w", err)
	}
	defer rows.Close()

	todos := []todo{}
	for rows.Next() {
		var t todo
		if err := rows.Scan(&t.ID, &t.Owner, &t.Content, &t.Completed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select todos: %w", err)
	}
	return todos, nil
}

func (s *sqlTodoStore) selectByID(ctx context.Context, id string) (*todo, error) {
	query := `SELECT id, owner, content, completed, created_at
			  FROM todos
			  WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	var t todo
	err := s.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Owner, &t.Content, &t.Completed, &t.CreatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, nil
		default:
			return nil, fmt.Errorf("select todo: %w", err)
		}
	}
	return &t, nil
}

func (s *sqlTodoStore) updateCompleted(ctx context.Context, id, owner string, completed bool) (int64, error) {
	query := `UPDATE todos SET completed = $1
			  WHERE id = $2 AND owner = $3`
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	res, err := s.db.ExecContext(ctx, query, completed, id, owner)
	if err != nil {
		return 0, fmt.Errorf("update todo: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqlTodoStore) deleteByID(ctx context.Context, id, owner string) (int64, error) {
	query := `DELETE FROM todos
			  WHERE id = $1 AND owner = $2`
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	res, err := s.db.ExecContext(ctx, query, id, owner)
	if err != nil {
		return 0, fmt.Errorf("delete todo: %w", err)
	}
	return res.RowsAffected()
}
