package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UploadReconciler scans the local session directories for chunk records
// missing from S3 and re-uploads them. Handles dropped async uploads and
// crash recovery.
type UploadReconciler struct {
	rootDir  string
	s3       *S3Store
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewUploadReconciler creates a reconciler that checks for missing S3 uploads.
func NewUploadReconciler(rootDir string, s3 *S3Store, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		rootDir:  rootDir,
		s3:       s3,
		interval: 5 * time.Minute,
		window:   24 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { r.stopOnce.Do(func() { close(r.stop) }) }

func (r *UploadReconciler) loop() {
	// Delay first run to let startup uploads settle
	select {
	case <-time.After(2 * time.Minute):
	case <-r.stop:
		return
	}

	r.reconcile()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

func (r *UploadReconciler) reconcile() {
	var uploaded, failed, checked int

	cutoff := time.Now().Add(-r.window)

	sessionDirs, _ := os.ReadDir(r.rootDir)
	for _, sd := range sessionDirs {
		if !sd.IsDir() {
			continue
		}
		sessionPath := filepath.Join(r.rootDir, sd.Name())
		files, _ := os.ReadDir(sessionPath)
		for _, f := range files {
			if f.IsDir() || !isRecordFile(f.Name()) {
				continue
			}
			info, err := f.Info()
			if err != nil || info.ModTime().Before(cutoff) {
				continue
			}
			checked++
			key := sd.Name() + "/" + f.Name()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			exists := r.s3.Exists(ctx, key)
			cancel()
			if exists {
				continue
			}

			data, readErr := os.ReadFile(filepath.Join(sessionPath, f.Name()))
			if readErr != nil {
				continue
			}

			ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
			if saveErr := r.s3.Save(ctx, key, data, "application/json"); saveErr != nil {
				r.log.Warn().Err(saveErr).Str("key", key).Msg("reconcile upload failed")
				failed++
			} else {
				uploaded++
			}
			cancel()
		}
	}

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", checked).
			Msg("reconcile complete")
	}
}

// isRecordFile matches persisted chunk records, skipping in-flight temp files
// and audio slices that share the session directory.
func isRecordFile(name string) bool {
	if strings.HasPrefix(name, ".record-") {
		return false
	}
	return strings.HasSuffix(name, "_transcription.json")
}
