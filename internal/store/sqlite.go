package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer at a time; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	store := &SQLiteStore{db: db, log: logger, locks: make(map[string]*sync.Mutex)}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS pdf_sessions (
        id TEXT PRIMARY KEY,
        payload TEXT NOT NULL, -- PdfSession JSON
        created_at INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS kv (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS shared_sessions (
        id TEXT PRIMARY KEY, -- UUID
        public_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        pdf_base64 TEXT NOT NULL,
        payload TEXT NOT NULL,
        chat_limit_total INTEGER NOT NULL CHECK (chat_limit_total >= 0),
        chat_limit_used INTEGER NOT NULL DEFAULT 0,
        created_at INTEGER NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) NewSessionID() string {
	return uuid.NewString()
}

// GetSessions returns every valid stored session, newest first.
// Rows that fail to decode or validate are skipped.
func (s *SQLiteStore) GetSessions(ctx context.Context) ([]PdfSession, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, payload FROM pdf_sessions ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []PdfSession{}
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		session, err := decodeSession(payload)
		if err != nil {
			s.log.Warn("skipping invalid stored session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// GetSession returns nil, nil when the session is absent or its stored value is invalid.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*PdfSession, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM pdf_sessions WHERE id = ?", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	session, err := decodeSession(payload)
	if err != nil {
		s.log.Warn("stored session is invalid, treating as absent", zap.String("session_id", id), zap.Error(err))
		return nil, nil
	}
	return session, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, session *PdfSession) error {
	if err := ValidateSession(session); err != nil {
		return err
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO pdf_sessions (id, payload, created_at) VALUES (?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		session.ID, string(payload), session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM pdf_sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// UpdateSession applies fn to the stored session and saves the result.
// Updates to the same id are serialized within this process.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, fn func(*PdfSession) error) (*PdfSession, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if err := fn(session); err != nil {
		return nil, err
	}
	if err := s.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SQLiteStore) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// GetValue reads a key from the small key-value table.
func (s *SQLiteStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO kv (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func decodeSession(payload string) (*PdfSession, error) {
	var session PdfSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := ValidateSession(&session); err != nil {
		return nil, err
	}
	return &session, nil
}
