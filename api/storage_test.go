package main

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openSQLite(filepath.Join(t.TempDir(), "nested", "todos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrate(context.Background(), db, driverSQLite))
	return db
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, migrate(context.Background(), db, driverSQLite))

	for _, table := range []string{"todos", "sessions"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestMigrateRejectsUnknownDriver(t *testing.T) {
	db := newTestDB(t)
	assert.Error(t, migrate(context.Background(), db, "mysql"))
}

func TestSQLTodoStore(t *testing.T) {
	ctx := context.Background()
	store := newSQLTodoStore(newTestDB(t))
	created := time.Date(2025, 3, 1, 12, 30, 0, 123000, time.UTC)

	milk := &todo{ID: "t-1", Owner: "alice@x.com", Content: "buy milk", CreatedAt: created}
	bread := &todo{ID: "t-2", Owner: "alice@x.com", Content: "buy bread", CreatedAt: created}
	other := &todo{ID: "t-3", Owner: "bob@x.com", Content: "bob's", CreatedAt: created}
	for _, td := range []*todo{milk, bread, other} {
		require.NoError(t, store.insert(ctx, td))
	}

	got, err := store.selectByID(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "buy milk", got.Content)
	assert.Equal(t, "alice@x.com", got.Owner)
	assert.False(t, got.Completed)
	assert.True(t, got.CreatedAt.Equal(created), "created_at %v", got.CreatedAt)

	missing, err := store.selectByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	todos, err := store.selectByOwner(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Len(t, todos, 2)

	none, err := store.selectByOwner(ctx, "carol@x.com")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	n, err := store.updateCompleted(ctx, "t-1", "alice@x.com", true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	got, err = store.selectByID(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, got.Completed)

	// scoped by owner: bob cannot touch alice's todo
	n, err = store.updateCompleted(ctx, "t-1", "bob@x.com", false)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	n, err = store.deleteByID(ctx, "t-1", "bob@x.com")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	n, err = store.deleteByID(ctx, "t-1", "alice@x.com")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = store.deleteByID(ctx, "t-1", "alice@x.com")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestSQLTodoStoreRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	store := newSQLTodoStore(newTestDB(t))
	td := &todo{ID: "t-1", Owner: "a", Content: "x", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.insert(ctx, td))
	assert.Error(t, store.insert(ctx, td))
}

func newMockStore(t *testing.T) (*sqlTodoStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newSQLTodoStore(db), mock
}

func TestSQLTodoStoreQueries(t *testing.T) {
	ctx := context.Background()

	t.Run("update is scoped by id and owner", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`(?s)^UPDATE todos SET completed = \$1\s+WHERE id = \$2 AND owner = \$3$`).
			WithArgs(true, "t-1", "alice").
			WillReturnResult(sqlmock.NewResult(0, 0))

		n, err := store.updateCompleted(ctx, "t-1", "alice", true)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete is scoped by id and owner", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`(?s)^DELETE FROM todos\s+WHERE id = \$1 AND owner = \$2$`).
			WithArgs("t-1", "alice").
			WillReturnResult(sqlmock.NewResult(0, 1))

		n, err := store.deleteByID(ctx, "t-1", "alice")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert binds every column", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`(?s)^INSERT INTO todos \(id, owner, content, completed, created_at\)\s+VALUES \(\$1, \$2, \$3, \$4, \$5\)$`).
			WithArgs("t-1", "alice", "x", false, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.insert(ctx, &todo{ID: "t-1", Owner: "alice", Content: "x", CreatedAt: time.Now()})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("select by owner", func(t *testing.T) {
		store, mock := newMockStore(t)
		now := time.Now().UTC()
		rows := sqlmock.NewRows([]string{"id", "owner", "content", "completed", "created_at"}).
			AddRow("t-1", "alice", "x", false, now).
			AddRow("t-2", "alice", "y", true, now)
		mock.ExpectQuery(`(?s)^SELECT id, owner, content, completed, created_at\s+FROM todos\s+WHERE owner = \$1$`).
			WithArgs("alice").
			WillReturnRows(rows)

		todos, err := store.selectByOwner(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, todos, 2)
		assert.True(t, todos[1].Completed)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("errors are wrapped", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("db down"))

		_, err := store.selectByID(ctx, "t-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "select todo: db down")
	})
}
