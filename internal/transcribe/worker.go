package transcribe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/metrics"
)

// ErrQueueFull is returned by Submit when the job queue has no space.
var ErrQueueFull = errors.New("transcription queue is full")

// Job represents a transcription job submitted by the API or the inbox watcher.
type Job struct {
	SessionID    string
	AudioPath    string
	Model        string
	Instructions string
	MaxRetries   int
	// RetryDelay nil uses the pipeline default.
	RetryDelay *time.Duration
	// Fresh discards previous chunk records; resume jobs keep them.
	Fresh bool
}

// QueueStats reports the current state of the transcription queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Transcriber runs one transcription request. Implemented by *Pipeline.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// EventPublishFunc is a callback for publishing progress events.
type EventPublishFunc func(eventType, sessionID string, payload map[string]any)

// WorkerPoolOptions configures the transcription worker pool.
type WorkerPoolOptions struct {
	Transcriber  Transcriber
	Tracker      *Tracker
	Workers      int
	QueueSize    int
	JobTimeout   time.Duration // 0 = no limit
	PublishEvent EventPublishFunc
	Log          zerolog.Logger
}

// WorkerPool manages transcription workers.
type WorkerPool struct {
	jobs    chan Job
	tracker *Tracker
	opts    WorkerPoolOptions
	log     zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a new transcription worker pool.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.Tracker == nil {
		opts.Tracker = NewTracker()
	}
	return &WorkerPool{
		jobs:    make(chan Job, opts.QueueSize),
		tracker: opts.Tracker,
		opts:    opts,
		log:     opts.Log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("transcription worker pool started")
}

// Stop cancels running jobs, fails queued ones and waits for the workers
// to exit. Chunk records saved before the cancel survive for a resume.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.cancel()
	wp.wg.Wait()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("transcription worker pool stopped")
}

// Enqueue adds a job to the transcription queue. Returns false if the queue
// is full or the pool is stopped.
func (wp *WorkerPool) Enqueue(j Job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return false
	}
	select {
	case wp.jobs <- j:
		return true
	default:
		return false
	}
}

// Submit registers the job with the tracker and queues it. It fails with
// ErrSessionBusy when the session already has an active job and with
// ErrQueueFull when the queue has no space.
func (wp *WorkerPool) Submit(j Job) error {
	if err := wp.tracker.Begin(j); err != nil {
		return err
	}
	return wp.Dispatch(j)
}

// Dispatch queues a job whose session the caller already reserved with
// Tracker().Begin. On ErrQueueFull the reservation is released.
func (wp *WorkerPool) Dispatch(j Job) error {
	if !wp.Enqueue(j) {
		wp.tracker.Abandon(j.SessionID)
		return ErrQueueFull
	}
	wp.publish("job.queued", j.SessionID, map[string]any{
		"session_id": j.SessionID,
		"model":      j.Model,
		"fresh":      j.Fresh,
	})
	return nil
}

// Tracker returns the job tracker.
func (wp *WorkerPool) Tracker() *Tracker { return wp.tracker }

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		Active:    int(wp.active.Load()),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
	}
}

// PendingJobs returns the number of queued jobs.
func (wp *WorkerPool) PendingJobs() int { return len(wp.jobs) }

// ActiveJobs returns the number of jobs being transcribed.
func (wp *WorkerPool) ActiveJobs() int { return int(wp.active.Load()) }

// Workers returns the number of worker goroutines.
func (wp *WorkerPool) Workers() int { return wp.opts.Workers }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for job := range wp.jobs {
		if err := wp.processJob(log, job); err != nil {
			wp.failed.Add(1)
			metrics.TranscriptionsTotal.WithLabelValues("failed").Inc()
			log.Warn().Err(err).
				Str("session_id", job.SessionID).
				Msg("transcription failed")
		} else {
			wp.completed.Add(1)
			metrics.TranscriptionsTotal.WithLabelValues("completed").Inc()
		}
	}
}

func (wp *WorkerPool) processJob(log zerolog.Logger, job Job) (err error) {
	start := time.Now()
	wp.tracker.Start(job.SessionID)
	wp.active.Add(1)
	defer wp.active.Add(-1)

	var res *Result
	defer func() {
		wp.tracker.Finish(job.SessionID, res, err)
		payload := map[string]any{
			"session_id":  job.SessionID,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if err != nil {
			payload["error"] = err.Error()
			wp.publish("job.failed", job.SessionID, payload)
			return
		}
		payload["segments"] = len(res.Segments)
		payload["chunks"] = len(res.Chunks)
		payload["failed_chunks"] = countFailed(res.Chunks)
		wp.publish("job.completed", job.SessionID, payload)
	}()

	if err := wp.ctx.Err(); err != nil {
		return err
	}
	ctx := wp.ctx
	if wp.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.opts.JobTimeout)
		defer cancel()
	}

	wp.publish("job.started", job.SessionID, map[string]any{
		"session_id": job.SessionID,
		"model":      job.Model,
	})

	res, err = wp.opts.Transcriber.Transcribe(ctx, Request{
		AudioPath:              job.AudioPath,
		SessionID:              job.SessionID,
		Model:                  job.Model,
		AdditionalInstructions: job.Instructions,
		MaxRetries:             job.MaxRetries,
		RetryDelay:             job.RetryDelay,
		Fresh:                  job.Fresh,
		OnChunk: func(out ChunkOutcome) {
			wp.tracker.Progress(job.SessionID, out)
			wp.publish("chunk.progress", job.SessionID, map[string]any{
				"session_id": job.SessionID,
				"chunk":      out.Window.Index,
				"start":      FormatClock(out.Window.StartSeconds()),
				"end":        FormatClock(out.Window.EndSeconds()),
				"state":      string(out.State),
				"attempts":   out.Attempts,
				"cached":     out.Cached,
			})
		},
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("session_id", job.SessionID).
		Int("segments", len(res.Segments)).
		Int("failed_chunks", countFailed(res.Chunks)).
		Dur("elapsed", time.Since(start)).
		Msg("transcription job complete")
	return nil
}

func (wp *WorkerPool) publish(eventType, sessionID string, payload map[string]any) {
	if wp.opts.PublishEvent != nil {
		wp.opts.PublishEvent(eventType, sessionID, payload)
	}
}

func countFailed(chunks []ChunkOutcome) int {
	n := 0
	for _, c := range chunks {
		if c.State == ChunkFailed {
			n++
		}
	}
	return n
}
