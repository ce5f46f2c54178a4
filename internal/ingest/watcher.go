package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/transcribe"
)

const debounceDelay = 500 * time.Millisecond

// Submitter queues transcription jobs. Implemented by *transcribe.WorkerPool.
type Submitter interface {
	Submit(job transcribe.Job) error
}

// WatcherOptions configures the inbox watcher.
type WatcherOptions struct {
	InboxDir  string
	AudioDir  string
	Model     string
	Submitter Submitter
	Log       zerolog.Logger
}

// InboxWatcher monitors a drop folder for new recordings. Each supported
// audio file is moved into its own session directory under AudioDir and
// submitted as a fresh transcription job.
type InboxWatcher struct {
	opts WatcherOptions
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
	// held are recordings returned to the inbox after a failed submit.
	// They wait for the next start instead of looping on their own events.
	held map[string]bool

	// Stats
	filesQueued  atomic.Int64
	filesSkipped atomic.Int64
	status       atomic.Value // string: "starting", "backfilling", "watching", "stopped"
}

// NewInboxWatcher creates a watcher. Call Start to begin watching.
func NewInboxWatcher(opts WatcherOptions) *InboxWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	fw := &InboxWatcher{
		opts:           opts,
		log:            opts.Log.With().Str("component", "inbox").Logger(),
		ctx:            ctx,
		cancel:         cancel,
		debounceTimers: make(map[string]*time.Timer),
		held:           make(map[string]bool),
	}
	fw.status.Store("starting")
	return fw
}

// Start creates the inbox if needed, begins watching it and queues any
// recordings already waiting there.
func (fw *InboxWatcher) Start() error {
	if err := os.MkdirAll(fw.opts.InboxDir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(fw.opts.InboxDir); err != nil {
		w.Close()
		return fmt.Errorf("watch inbox: %w", err)
	}
	fw.watcher = w

	fw.log.Info().Str("inbox_dir", fw.opts.InboxDir).Msg("inbox watcher initialized")

	fw.wg.Add(1)
	go fw.watchLoop()

	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()
		fw.backfill()
	}()
	return nil
}

// Stop closes the fsnotify watcher and cancels pending work.
func (fw *InboxWatcher) Stop() {
	fw.status.Store("stopped")
	fw.cancel()
	if fw.watcher != nil {
		fw.watcher.Close()
	}
	fw.debounceMu.Lock()
	for path, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()
	fw.wg.Wait()
	fw.log.Info().
		Int64("files_queued", fw.filesQueued.Load()).
		Int64("files_skipped", fw.filesSkipped.Load()).
		Msg("inbox watcher stopped")
}

// Status returns the current watcher state.
func (fw *InboxWatcher) Status() string {
	s, _ := fw.status.Load().(string)
	return s
}

// Queued returns the number of files submitted so far.
func (fw *InboxWatcher) Queued() int64 { return fw.filesQueued.Load() }

func (fw *InboxWatcher) watchLoop() {
	defer fw.wg.Done()
	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isRecording(event.Name) {
				continue
			}
			fw.scheduleProcess(event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess debounces file processing so a recording still being
// copied into the inbox is picked up once its writes settle.
func (fw *InboxWatcher) scheduleProcess(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if fw.ctx.Err() != nil || fw.held[path] {
		return
	}
	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(debounceDelay)
		return
	}

	fw.debounceTimers[path] = time.AfterFunc(debounceDelay, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, path)
		fw.debounceMu.Unlock()

		fw.processFile(path)
	})
}

// processFile moves a recording into a new session and submits it.
func (fw *InboxWatcher) processFile(path string) {
	if fw.ctx.Err() != nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		fw.filesSkipped.Add(1)
		return
	}

	sessionID := transcribe.NewSessionID()
	dest := filepath.Join(fw.opts.AudioDir, sessionID, filepath.Base(path))
	if err := moveFile(path, dest); err != nil {
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to move recording out of inbox")
		fw.filesSkipped.Add(1)
		return
	}

	job := transcribe.Job{
		SessionID: sessionID,
		AudioPath: dest,
		Model:     fw.opts.Model,
		Fresh:     true,
	}
	if err := fw.opts.Submitter.Submit(job); err != nil {
		fw.debounceMu.Lock()
		fw.held[path] = true
		fw.debounceMu.Unlock()
		if rerr := moveFile(dest, path); rerr != nil {
			fw.log.Error().Err(rerr).Str("path", dest).Msg("failed to return recording to inbox")
		} else {
			os.Remove(filepath.Dir(dest))
		}
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to submit recording")
		fw.filesSkipped.Add(1)
		return
	}

	fw.filesQueued.Add(1)
	fw.log.Info().
		Str("session_id", sessionID).
		Str("file", filepath.Base(path)).
		Int64("size", info.Size()).
		Msg("inbox recording queued")
}

// backfill queues recordings that were already in the inbox, oldest first.
func (fw *InboxWatcher) backfill() {
	fw.status.Store("backfilling")

	entries, err := os.ReadDir(fw.opts.InboxDir)
	if err != nil {
		fw.log.Warn().Err(err).Msg("failed to list inbox")
		fw.status.Store("watching")
		return
	}
	type fileEntry struct {
		path    string
		modTime time.Time
	}
	var files []fileEntry
	for _, e := range entries {
		if e.IsDir() || !isRecording(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{path: filepath.Join(fw.opts.InboxDir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	if len(files) > 0 {
		fw.log.Info().Int("files", len(files)).Msg("inbox backfill starting")
	}
	for _, f := range files {
		if fw.ctx.Err() != nil {
			return
		}
		fw.processFile(f.path)
	}
	if fw.ctx.Err() == nil {
		fw.status.Store("watching")
	}
}

func isRecording(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return audio.Supported(strings.ToLower(filepath.Ext(base)))
}

// moveFile renames src to dst, falling back to copy+remove across devices.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
