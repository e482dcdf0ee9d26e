package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type SharedSession struct {
	ID             string          `json:"id"`
	PublicID       string          `json:"public_id"`
	PasswordHash   string          `json:"-"`
	PdfBase64      string          `json:"-"`
	Payload        json.RawMessage `json:"payload"`
	ChatLimitTotal int             `json:"chat_limit_total"`
	ChatLimitUsed  int             `json:"chat_limit_used"`
	CreatedAt      time.Time       `json:"created_at"`
}

const sharedSessionColumns = "id, public_id, password_hash, pdf_base64, payload, chat_limit_total, chat_limit_used, created_at"

func (s *SQLiteStore) CreateSharedSession(ctx context.Context, shared *SharedSession) error {
	if shared.CreatedAt.IsZero() {
		shared.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO shared_sessions ("+sharedSessionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		shared.ID, shared.PublicID, shared.PasswordHash, shared.PdfBase64, string(shared.Payload),
		shared.ChatLimitTotal, shared.ChatLimitUsed, shared.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert shared session: %w", err)
	}
	return nil
}

// FindSharedSessionByPublicID returns nil, nil when no row matches.
func (s *SQLiteStore) FindSharedSessionByPublicID(ctx context.Context, publicID string) (*SharedSession, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sharedSessionColumns+" FROM shared_sessions WHERE public_id = ?", publicID)
	return scanSharedSession(row)
}

// ConsumeChatQuota increments chat_limit_used by one only while it is below
// chat_limit_total. The check and the increment are a single statement, so
// concurrent callers can never push the counter past the total. It returns
// nil, nil when the quota is exhausted or the row does not exist.
func (s *SQLiteStore) ConsumeChatQuota(ctx context.Context, publicID string) (*SharedSession, error) {
	row := s.db.QueryRowContext(ctx, `
        UPDATE shared_sessions
        SET chat_limit_used = chat_limit_used + 1
        WHERE public_id = ? AND chat_limit_used < chat_limit_total
        RETURNING `+sharedSessionColumns, publicID)
	return scanSharedSession(row)
}

func scanSharedSession(row *sql.Row) (*SharedSession, error) {
	var (
		shared    SharedSession
		payload   string
		createdAt int64
	)
	err := row.Scan(&shared.ID, &shared.PublicID, &shared.PasswordHash, &shared.PdfBase64, &payload,
		&shared.ChatLimitTotal, &shared.ChatLimitUsed, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan shared session: %w", err)
	}
	shared.Payload = json.RawMessage(payload)
	shared.CreatedAt = time.UnixMilli(createdAt)
	return &shared, nil
}
