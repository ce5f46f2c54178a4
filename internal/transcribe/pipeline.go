package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/metrics"
)

const (
	DefaultChunkLength = 8 * time.Minute
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 5 * time.Second
)

// AudioSource is decoded audio that can be cut into WAV slices. Sources
// that also implement io.Closer are closed when the run ends.
type AudioSource interface {
	Duration() time.Duration
	WriteSlice(w io.WriteSeeker, start, end time.Duration) error
}

// LoadFunc decodes the audio at path. workDir receives any intermediate
// files (format conversion).
type LoadFunc func(ctx context.Context, path, workDir string) (AudioSource, error)

// ChunkState is the lifecycle position of one chunk within a run.
type ChunkState string

const (
	ChunkPlanned    ChunkState = "planned"
	ChunkAttempting ChunkState = "attempting"
	ChunkRetrying   ChunkState = "retrying"
	ChunkDone       ChunkState = "done"
	ChunkFailed     ChunkState = "failed"
)

// ChunkOutcome reports the state of one chunk. Cached is set when the
// segments came from the chunk store without calling the service.
type ChunkOutcome struct {
	Window   Window
	State    ChunkState
	Segments []Segment
	Attempts int
	Cached   bool
	LastErr  string
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Service      Service
	Store        ChunkStore
	LoadAudio    LoadFunc        // default: audio.Load with Converter
	Converter    *audio.Converter // used by the default loader for non-WAV/MP3 input
	TempRoot     string
	LogRoot      string
	ChunkLength  time.Duration
	Overlap      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
	Log          zerolog.Logger
}

// Request describes one transcription run. Zero MaxRetries and a nil
// RetryDelay fall back to the pipeline defaults; a zero RetryDelay retries
// immediately.
type Request struct {
	AudioPath              string
	SessionID              string
	Model                  string
	AdditionalInstructions string
	MaxRetries             int
	RetryDelay             *time.Duration
	// Fresh discards cached chunk records before starting.
	Fresh bool
	// OnChunk is called on every chunk state change.
	OnChunk func(ChunkOutcome)
}

// Result is the reconciled transcript of a run.
type Result struct {
	SessionID string
	Segments  []Segment
	// Upload is the first file uploaded during the run, nil when every
	// chunk was served from the store.
	Upload  *UploadedFile
	Uploads []*UploadedFile
	Chunks  []ChunkOutcome
}

// Pipeline runs the chunked, resumable diarized transcription.
type Pipeline struct {
	opts PipelineOptions
	log  zerolog.Logger
}

// sessionDeleter is implemented by chunk stores that can drop all records
// of a session.
type sessionDeleter interface {
	DeleteSession(ctx context.Context, sessionID string) error
}

// NewPipeline validates the chunk policy and returns a pipeline.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Service == nil {
		return nil, errors.New("pipeline: service is required")
	}
	if opts.Store == nil {
		return nil, errors.New("pipeline: chunk store is required")
	}
	if opts.ChunkLength == 0 {
		opts.ChunkLength = DefaultChunkLength
	}
	if err := CheckPlan(opts.ChunkLength, opts.Overlap); err != nil {
		return nil, err
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.LoadAudio == nil {
		conv := opts.Converter
		opts.LoadAudio = func(ctx context.Context, path, workDir string) (AudioSource, error) {
			clip, err := audio.Load(ctx, path, workDir, conv)
			if err != nil {
				return nil, err
			}
			return clip, nil
		}
	}
	return &Pipeline{opts: opts, log: opts.Log}, nil
}

// Store returns the chunk store the pipeline persists into.
func (p *Pipeline) Store() ChunkStore { return p.opts.Store }

// Service returns the remote service client.
func (p *Pipeline) Service() Service { return p.opts.Service }

// Session resolves the directories of a session under the pipeline roots.
func (p *Pipeline) Session(id string) (*Session, error) {
	return NewSession(id, p.opts.TempRoot, p.opts.LogRoot)
}

// Transcribe plans the audio into chunks, transcribes each one that has no
// usable stored record, and returns the reconciled transcript. Chunks that
// exhaust their retries become failure sentinels; only cancellation,
// configuration and storage failures abort the run. An aborted run after
// planning returns a partial Result alongside the error, holding the chunks
// finished so far and every file uploaded.
func (p *Pipeline) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if req.SessionID == "" {
		req.SessionID = NewSessionID()
	}
	if req.Model == "" {
		req.Model = p.opts.DefaultModel
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = p.opts.MaxRetries
	}
	delay := p.opts.RetryDelay
	if req.RetryDelay != nil && *req.RetryDelay >= 0 {
		delay = *req.RetryDelay
	}

	sess, err := p.Session(req.SessionID)
	if err != nil {
		return nil, err
	}
	log := p.log.With().Str("session_id", sess.ID).Logger()

	if req.Fresh {
		if d, ok := p.opts.Store.(sessionDeleter); ok {
			if err := d.DeleteSession(ctx, sess.ID); err != nil {
				return nil, fmt.Errorf("clear chunk records: %w", err)
			}
		}
		if err := sess.Reset(); err != nil {
			return nil, err
		}
	} else if err := sess.Prepare(); err != nil {
		return nil, err
	}

	src, err := p.opts.LoadAudio(ctx, req.AudioPath, sess.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("load audio: %w", err)
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}
	windows, err := Plan(src.Duration(), p.opts.ChunkLength, p.opts.Overlap)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("audio", req.AudioPath).
		Str("model", req.Model).
		Dur("duration", src.Duration()).
		Int("chunks", len(windows)).
		Msg("transcription started")

	run := &chunkRun{
		sess:   sess,
		src:    src,
		req:    req,
		delay:  delay,
		prompt: BuildPrompt(req.AdditionalInstructions),
		log:    log,
	}
	res := &Result{SessionID: sess.ID, Chunks: make([]ChunkOutcome, 0, len(windows))}
	perChunk := make([][]Segment, 0, len(windows))
	for _, w := range windows {
		out, err := p.transcribeChunk(ctx, run, w)
		if err != nil {
			// The partial result carries the files uploaded so far so the
			// caller can still clean them up.
			run.attachUploads(res)
			log.Warn().Err(err).Int("uploads", len(res.Uploads)).Msg("transcription aborted")
			return res, err
		}
		res.Chunks = append(res.Chunks, out)
		perChunk = append(perChunk, out.Segments)
	}

	res.Segments = Reconcile(windows, perChunk, p.opts.Overlap)
	run.attachUploads(res)
	log.Info().
		Int("segments", len(res.Segments)).
		Int("uploads", len(res.Uploads)).
		Msg("transcription complete")
	return res, nil
}

// chunkRun carries per-run state across chunks.
type chunkRun struct {
	sess    *Session
	src     AudioSource
	req     Request
	delay   time.Duration
	prompt  string
	log     zerolog.Logger
	uploads []*UploadedFile
}

func (r *chunkRun) attachUploads(res *Result) {
	res.Uploads = r.uploads
	if len(r.uploads) > 0 {
		res.Upload = r.uploads[0]
	}
}

func (r *chunkRun) notify(out ChunkOutcome) {
	if r.req.OnChunk != nil {
		r.req.OnChunk(out)
	}
}

// transcribeChunk returns the segments of one window, from the store when a
// usable record exists, otherwise from the service with bounded retries.
func (p *Pipeline) transcribeChunk(ctx context.Context, run *chunkRun, w Window) (ChunkOutcome, error) {
	out := ChunkOutcome{Window: w, State: ChunkPlanned}
	log := run.log.With().Int("chunk", w.Index).Logger()

	stored, ok, err := p.opts.Store.Lookup(ctx, run.sess.ID, w.Index)
	if err != nil {
		return out, fmt.Errorf("chunk %d: %w", w.Index, err)
	}
	if ok && !IsFailureRecord(stored) {
		out.State = ChunkDone
		out.Segments = stored
		out.Cached = true
		metrics.ChunksTotal.WithLabelValues("cached").Inc()
		log.Debug().Int("segments", len(stored)).Msg("chunk loaded from store")
		run.notify(out)
		return out, nil
	}
	if ok {
		log.Info().Msg("chunk previously failed, retrying")
	}

	out.State = ChunkAttempting
	run.notify(out)

	op := func() ([]Segment, error) {
		n := out.Attempts
		out.Attempts++
		segs, err := p.attempt(ctx, run, w, n)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			metrics.ChunkAttemptsTotal.WithLabelValues("error").Inc()
			out.LastErr = err.Error()
			log.Warn().Err(err).Int("attempt", n).Msg("chunk attempt failed")
			return nil, err
		}
		metrics.ChunkAttemptsTotal.WithLabelValues("ok").Inc()
		return segs, nil
	}
	segs, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(run.delay)),
		backoff.WithMaxTries(uint(run.req.MaxRetries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, next time.Duration) {
			out.State = ChunkRetrying
			log.Info().Dur("delay", next).Msg("retrying chunk")
			run.notify(out)
		}),
	)
	if ctx.Err() != nil {
		return out, ctx.Err()
	}

	if err != nil {
		log.Error().Err(err).Int("attempts", out.Attempts).Msg("chunk failed after retries")
		segs = []Segment{FailureSegment(w)}
		out.State = ChunkFailed
		metrics.ChunksTotal.WithLabelValues("failed").Inc()
	} else {
		out.State = ChunkDone
		out.LastErr = ""
		metrics.ChunksTotal.WithLabelValues("done").Inc()
	}
	out.Segments = segs

	if err := p.opts.Store.Save(ctx, run.sess.ID, w.Index, segs); err != nil {
		return out, fmt.Errorf("chunk %d: %w", w.Index, err)
	}
	log.Debug().Int("segments", len(segs)).Str("state", string(out.State)).Msg("chunk saved")
	run.notify(out)
	return out, nil
}

// attempt runs one slice-upload-generate-parse cycle. The temporary slice
// is removed on every exit path.
func (p *Pipeline) attempt(ctx context.Context, run *chunkRun, w Window, n int) ([]Segment, error) {
	slicePath := run.sess.chunkSlicePath(w)
	defer p.removeSlice(slicePath)

	if err := writeSlice(run.src, slicePath, w); err != nil {
		return nil, err
	}

	start := time.Now()
	up, err := p.opts.Service.Upload(ctx, slicePath, "audio/wav")
	metrics.ServiceRequestDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	run.uploads = append(run.uploads, up)

	start = time.Now()
	text, err := p.opts.Service.Generate(ctx, GenerateRequest{
		Model:  run.req.Model,
		Prompt: run.prompt,
		File:   up,
		JSON:   true,
	})
	metrics.ServiceRequestDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	if err := os.WriteFile(run.sess.chunkLogPath(w, n), []byte(text), 0o644); err != nil {
		return nil, fmt.Errorf("write response log: %w", err)
	}

	return ParseSegments(text, w.StartSeconds())
}

// ParseSegments decodes a service response (a JSON array of segment
// objects), fills in missing fields and shifts timestamps by offset seconds.
func ParseSegments(text string, offset int) ([]Segment, error) {
	var raw []rawSegment
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	segs := make([]Segment, 0, len(raw))
	for i, r := range raw {
		seg, err := r.normalize(offset)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func writeSlice(src AudioSource, path string, w Window) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chunk slice: %w", err)
	}
	if err := src.WriteSlice(f, w.Start, w.End); err != nil {
		f.Close()
		return fmt.Errorf("write chunk slice: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close chunk slice: %w", err)
	}
	return nil
}

func (p *Pipeline) removeSlice(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.log.Warn().Err(err).Str("path", path).Msg("failed to remove chunk slice")
	}
}
