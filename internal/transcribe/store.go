package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/storage"
)

// ChunkStore persists per-chunk transcription records. Save is
// last-write-wins.
type ChunkStore interface {
	// Lookup returns the stored segments for a chunk. ok is false when no
	// usable record exists.
	Lookup(ctx context.Context, sessionID string, index int) (segs []Segment, ok bool, err error)
	// Save replaces the record for a chunk.
	Save(ctx context.Context, sessionID string, index int, segs []Segment) error
}

// BlobChunkStore keeps chunk records as JSON arrays in a storage.Store
// under {session}/{session}_chunk_{index}_transcription.json.
type BlobChunkStore struct {
	store storage.Store
	log   zerolog.Logger
}

// NewBlobChunkStore wraps a blob store.
func NewBlobChunkStore(store storage.Store, log zerolog.Logger) *BlobChunkStore {
	return &BlobChunkStore{store: store, log: log}
}

// RecordKey returns the blob key of a chunk record.
func RecordKey(sessionID string, index int) string {
	return fmt.Sprintf("%s/%s_chunk_%d_transcription.json", sessionID, sessionID, index)
}

// Lookup reads a chunk record. Missing and corrupt records are both
// reported as a miss; only storage failures are returned as errors.
func (b *BlobChunkStore) Lookup(ctx context.Context, sessionID string, index int) ([]Segment, bool, error) {
	key := RecordKey(sessionID, index)
	rc, err := b.store.Open(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open chunk record %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, fmt.Errorf("read chunk record %s: %w", key, err)
	}
	var segs []Segment
	if err := json.Unmarshal(data, &segs); err != nil {
		b.log.Warn().Err(err).Str("key", key).Msg("corrupt chunk record, ignoring")
		return nil, false, nil
	}
	if segs == nil {
		segs = []Segment{}
	}
	return segs, true, nil
}

// Save writes a chunk record as an indented JSON array.
func (b *BlobChunkStore) Save(ctx context.Context, sessionID string, index int, segs []Segment) error {
	if segs == nil {
		segs = []Segment{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(segs); err != nil {
		return fmt.Errorf("encode chunk record: %w", err)
	}
	key := RecordKey(sessionID, index)
	if err := b.store.Save(ctx, key, buf.Bytes(), "application/json"); err != nil {
		return fmt.Errorf("save chunk record %s: %w", key, err)
	}
	return nil
}

// DeleteSession removes every record of a session.
func (b *BlobChunkStore) DeleteSession(ctx context.Context, sessionID string) error {
	return b.store.DeleteAll(ctx, sessionID)
}
