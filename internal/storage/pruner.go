package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SessionPruner evicts session directories that have not been touched for
// longer than the retention period. Each root holds one directory per
// session (work dirs, diagnostic logs, stored uploads).
type SessionPruner struct {
	roots     []string
	retention time.Duration
	interval  time.Duration
	busy      func(sessionID string) bool
	hooks     []func(cutoff time.Time)
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewSessionPruner creates a pruner. busy may be nil; when set, sessions for
// which it returns true are never removed.
func NewSessionPruner(roots []string, retention, interval time.Duration, busy func(string) bool, log zerolog.Logger) *SessionPruner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SessionPruner{
		roots:     roots,
		retention: retention,
		interval:  interval,
		busy:      busy,
		log:       log.With().Str("component", "session-pruner").Logger(),
		stop:      make(chan struct{}),
	}
}

// OnPrune registers fn to run after every prune pass with the cutoff used.
// Not safe to call after Start.
func (p *SessionPruner) OnPrune(fn func(cutoff time.Time)) {
	p.hooks = append(p.hooks, fn)
}

func (p *SessionPruner) Start() {
	go p.loop()
}

func (p *SessionPruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *SessionPruner) loop() {
	// Run once on startup to clear any backlog from downtime
	p.Prune(time.Now())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case t := <-ticker.C:
			p.Prune(t)
		case <-p.stop:
			return
		}
	}
}

// Prune removes expired session directories and returns how many were removed.
func (p *SessionPruner) Prune(now time.Time) int {
	if p.retention <= 0 {
		return 0
	}
	cutoff := now.Add(-p.retention)

	var prunedCount int
	var prunedBytes int64
	for _, root := range p.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			id := e.Name()
			if p.busy != nil && p.busy(id) {
				continue
			}
			dir := filepath.Join(root, id)
			latest, size := dirStats(dir)
			if latest.After(cutoff) {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				p.log.Warn().Err(err).Str("dir", dir).Msg("failed to prune session directory")
				continue
			}
			prunedCount++
			prunedBytes += size
		}
	}

	for _, fn := range p.hooks {
		fn(cutoff)
	}

	if prunedCount > 0 {
		p.log.Info().
			Int("pruned", prunedCount).
			Str("freed", humanizeBytes(prunedBytes)).
			Msg("session prune complete")
	}
	return prunedCount
}

// dirStats returns the newest modification time and total size under dir.
func dirStats(dir string) (time.Time, int64) {
	var latest time.Time
	var size int64
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		if !d.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return latest, size
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
