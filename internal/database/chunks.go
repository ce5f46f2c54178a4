package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/transcribe"
)

// ChunkStore keeps chunk records in the chunk_records table, keyed by
// (session_id, chunk_index). Implements transcribe.ChunkStore.
type ChunkStore struct {
	db  *DB
	log zerolog.Logger
}

// NewChunkStore creates a PostgreSQL-backed chunk store.
func NewChunkStore(db *DB) *ChunkStore {
	return &ChunkStore{db: db, log: db.log.With().Str("component", "chunk-store").Logger()}
}

// Lookup returns the stored segments of a chunk. Rows whose segments fail
// to decode are reported as a miss.
func (s *ChunkStore) Lookup(ctx context.Context, sessionID string, index int) ([]transcribe.Segment, bool, error) {
	var raw []byte
	err := s.db.Pool.QueryRow(ctx, `
		SELECT segments FROM chunk_records
		WHERE session_id = $1 AND chunk_index = $2
	`, sessionID, index).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select chunk record: %w", err)
	}

	segs, err := decodeSegments(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Int("chunk", index).Msg("corrupt chunk record, ignoring")
		return nil, false, nil
	}
	return segs, true, nil
}

// Save upserts a chunk record, creating the session row if needed.
func (s *ChunkStore) Save(ctx context.Context, sessionID string, index int, segs []transcribe.Segment) error {
	if segs == nil {
		segs = []transcribe.Segment{}
	}
	raw, err := json.Marshal(segs)
	if err != nil {
		return fmt.Errorf("encode chunk record: %w", err)
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (session_id) VALUES ($1)
		ON CONFLICT (session_id) DO UPDATE SET last_activity = now()
	`, sessionID)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chunk_records (session_id, chunk_index, segments, failed, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (session_id, chunk_index) DO UPDATE SET
			segments = EXCLUDED.segments,
			failed = EXCLUDED.failed,
			updated_at = now()
	`, sessionID, index, raw, transcribe.IsFailureRecord(segs))
	if err != nil {
		return fmt.Errorf("upsert chunk record: %w", err)
	}

	return tx.Commit(ctx)
}

// DeleteSession removes all chunk records of a session. The session row is kept.
func (s *ChunkStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM chunk_records WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete chunk records: %w", err)
	}
	return nil
}

func decodeSegments(raw []byte) ([]transcribe.Segment, error) {
	var segs []transcribe.Segment
	if err := json.Unmarshal(raw, &segs); err != nil {
		return nil, err
	}
	if segs == nil {
		segs = []transcribe.Segment{}
	}
	return segs, nil
}
