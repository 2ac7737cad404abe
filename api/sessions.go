package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const defaultSessionTTL = 7 * 24 * time.Hour

type sessionStore interface {
	put(ctx context.Context, token, identity string, ttl time.Duration) error
	// get returns ok == false for unknown and expired tokens.
	get(ctx context.Context, token string) (identity string, ok bool, err error)
}

// newSessionToken returns a fresh bearer token. Tokens are random but carry
// no meaning; the session store is the only thing that gives them one.
func newSessionToken() string {
	return "token_" + uuid.NewString()
}

type sessionEntry struct {
	identity  string
	expiresAt time.Time
}

type memorySessionStore struct {
	mu      sync.RWMutex
	entries map[string]sessionEntry
	now     func() time.Time
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{
		entries: make(map[string]sessionEntry),
		now:     time.Now,
	}
}

func (s *memorySessionStore) put(_ context.Context, token, identity string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = sessionEntry{
		identity:  identity,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *memorySessionStore) get(_ context.Context, token string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[token]
	if !ok || !s.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.identity, true, nil
}

func (s *memorySessionStore) purgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// sqlSessionStore keeps sessions in the relational database. Only a digest
// of the token is stored, so a leaked table does not leak live credentials.
type sqlSessionStore struct {
	db  *sql.DB
	now func() time.Time
}

func newSQLSessionStore(db *sql.DB) *sqlSessionStore {
	return &sqlSessionStore{db: db, now: time.Now}
}

func hashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *sqlSessionStore) put(ctx context.Context, token, identity string, ttl time.Duration) error {
	query := `INSERT INTO sessions (token_hash, identity, expires_at)
			  VALUES ($1, $2, $3)`
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, query, hashToken(token), identity, s.now().Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *sqlSessionStore) get(ctx context.Context, token string) (string, bool, error) {
	query := `SELECT identity FROM sessions
			  WHERE token_hash = $1 AND expires_at > $2`
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	var identity string
	err := s.db.QueryRowContext(ctx, query, hashToken(token), s.now().Unix()).Scan(&identity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("select session: %w", err)
	}
	return identity, true, nil
}

func (s *sqlSessionStore) purgeExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at <= $1`
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	res, err := s.db.ExecContext(ctx, query, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

type sessionPurger interface {
	purgeExpired(ctx context.Context) (int64, error)
}

// runSessionJanitor evicts expired sessions every interval until ctx is done.
func runSessionJanitor(ctx context.Context, p sessionPurger, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.purgeExpired(ctx)
			if err != nil {
				logger.Error("purging sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired sessions", "count", n)
			}
		}
	}
}
