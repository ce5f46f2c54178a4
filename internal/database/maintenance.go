package database

import (
	"context"
	"time"
)

// PurgeSessionsBefore deletes sessions (and their chunk records) whose last
// activity is older than cutoff. Returns the number of sessions removed.
func (db *DB) PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM sessions WHERE last_activity < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
