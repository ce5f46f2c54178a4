package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SessionRow is the activity record of one transcription session.
type SessionRow struct {
	SessionID    string    `json:"session_id"`
	AudioPath    string    `json:"audio_path,omitempty"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// TouchSession records activity on a session. Empty audioPath or model
// leave the stored values unchanged.
func (db *DB) TouchSession(ctx context.Context, sessionID, audioPath, model string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO sessions (session_id, audio_path, model)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET
			audio_path = COALESCE(NULLIF(EXCLUDED.audio_path, ''), sessions.audio_path),
			model = COALESCE(NULLIF(EXCLUDED.model, ''), sessions.model),
			last_activity = now()
	`, sessionID, audioPath, model)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// GetSession returns a session row, or nil if it does not exist.
func (db *DB) GetSession(ctx context.Context, sessionID string) (*SessionRow, error) {
	var r SessionRow
	err := db.Pool.QueryRow(ctx, `
		SELECT session_id, audio_path, model, created_at, last_activity
		FROM sessions WHERE session_id = $1
	`, sessionID).Scan(&r.SessionID, &r.AudioPath, &r.Model, &r.CreatedAt, &r.LastActivity)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteSession removes a session and, by cascade, its chunk records.
func (db *DB) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := db.Pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
