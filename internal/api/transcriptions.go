package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/database"
	"github.com/snarg/meetscribe/internal/transcribe"
)

// JobQueue accepts transcription jobs. Implemented by *transcribe.WorkerPool.
// Dispatch queues a job whose session was already reserved on the tracker.
type JobQueue interface {
	Submit(job transcribe.Job) error
	Dispatch(job transcribe.Job) error
	Tracker() *transcribe.Tracker
}

// SessionRecorder persists session activity. Implemented by *database.DB.
type SessionRecorder interface {
	TouchSession(ctx context.Context, sessionID, audioPath, model string) error
	GetSession(ctx context.Context, sessionID string) (*database.SessionRow, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// RecordDeleter drops all chunk records of a session.
type RecordDeleter interface {
	DeleteSession(ctx context.Context, sessionID string) error
}

// TranscriptionOptions configures the transcription handler.
type TranscriptionOptions struct {
	Queue        JobQueue
	Service      transcribe.Service
	Records      RecordDeleter   // may be nil
	Sessions     SessionRecorder // may be nil
	AudioDir     string
	TempRoot     string
	LogRoot      string
	MaxUpload    int64
	DefaultModel string
	ModelAllowed func(model string) bool
	Log          zerolog.Logger
}

// TranscriptionHandler serves the /transcriptions endpoints.
type TranscriptionHandler struct {
	opts    TranscriptionOptions
	tracker *transcribe.Tracker
	log     zerolog.Logger
}

// NewTranscriptionHandler creates a new transcription handler.
func NewTranscriptionHandler(opts TranscriptionOptions) *TranscriptionHandler {
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 512 << 20
	}
	return &TranscriptionHandler{
		opts:    opts,
		tracker: opts.Queue.Tracker(),
		log:     opts.Log.With().Str("handler", "transcriptions").Logger(),
	}
}

// Routes registers the transcription endpoints.
func (h *TranscriptionHandler) Routes(r chi.Router) {
	r.Post("/transcriptions", h.Create)
	r.Get("/transcriptions/{id}", h.Get)
	r.Delete("/transcriptions/{id}", h.Delete)
	r.Post("/transcriptions/{id}/resume", h.Resume)
	r.Get("/transcriptions/{id}/transcript", h.Transcript)
	r.Post("/transcriptions/{id}/summary", h.Summary)
}

type jobAccepted struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Model     string `json:"model"`
}

// Create handles POST /api/v1/transcriptions.
// Multipart form: audio (file), optional session_id, model, instructions,
// max_retries, retry_delay. Any previous work for the session is discarded.
func (h *TranscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "missing audio file field")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !audio.Supported(ext) {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, fmt.Sprintf("unsupported audio format %q", ext))
		return
	}

	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		sessionID = transcribe.NewSessionID()
	} else if !transcribe.ValidSessionID(sessionID) {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "invalid session_id: use 1-64 letters, digits, '-' or '_'")
		return
	}

	job, err := h.jobParams(sessionID, r.FormValue("model"), r.FormValue("instructions"), r.FormValue("max_retries"), r.FormValue("retry_delay"))
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
		return
	}

	// The session is reserved before its audio directory is replaced so
	// concurrent uploads cannot clobber each other or a running job.
	job.AudioPath = h.audioPath(sessionID, header.Filename)
	job.Fresh = true
	if err := h.tracker.Begin(job); err != nil {
		WriteErrorWithCode(w, http.StatusConflict, ErrConflict, err.Error())
		return
	}
	if err := h.storeAudio(job.AudioPath, file); err != nil {
		h.tracker.Abandon(sessionID)
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to store upload")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "failed to store audio")
		return
	}

	h.accepted(w, r, job, h.opts.Queue.Dispatch(job))
}

type resumeRequest struct {
	Model        string `json:"model"`
	Instructions string `json:"instructions"`
	MaxRetries   int    `json:"max_retries"`
	RetryDelay   string `json:"retry_delay"`
}

// Resume handles POST /api/v1/transcriptions/{id}/resume.
// Stored chunk records are reused; only missing and failed chunks are
// sent to the service. The JSON body is optional.
func (h *TranscriptionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sessionID, err := PathSessionID(r)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
		return
	}

	var body resumeRequest
	if r.ContentLength != 0 {
		if err := DecodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
			return
		}
	}
	retries := ""
	if body.MaxRetries != 0 {
		retries = fmt.Sprint(body.MaxRetries)
	}
	job, err := h.jobParams(sessionID, body.Model, body.Instructions, retries, body.RetryDelay)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
		return
	}

	path := h.findAudio(r.Context(), sessionID)
	if path == "" {
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "no audio stored for session")
		return
	}
	job.AudioPath = path

	h.accepted(w, r, job, h.opts.Queue.Submit(job))
}

// accepted maps the queueing result of job to the response.
func (h *TranscriptionHandler) accepted(w http.ResponseWriter, r *http.Request, job transcribe.Job, err error) {
	switch {
	case errors.Is(err, transcribe.ErrSessionBusy):
		WriteErrorWithCode(w, http.StatusConflict, ErrConflict, err.Error())
		return
	case errors.Is(err, transcribe.ErrQueueFull):
		WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrUnavailable, err.Error())
		return
	case err != nil:
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}

	h.touch(r.Context(), job.SessionID, job.AudioPath, job.Model)
	h.log.Info().
		Str("session_id", job.SessionID).
		Str("model", job.Model).
		Bool("fresh", job.Fresh).
		Msg("transcription job queued")
	WriteJSON(w, http.StatusAccepted, jobAccepted{
		SessionID: job.SessionID,
		State:     string(transcribe.JobQueued),
		Model:     job.Model,
	})
}

// jobParams validates per-request options shared by Create and Resume.
func (h *TranscriptionHandler) jobParams(sessionID, model, instructions, retries, delay string) (transcribe.Job, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = h.opts.DefaultModel
	}
	if h.opts.ModelAllowed != nil && !h.opts.ModelAllowed(model) {
		return transcribe.Job{}, fmt.Errorf("model %q is not available", model)
	}
	n, err := ParseRetries(retries)
	if err != nil {
		return transcribe.Job{}, err
	}
	d, err := ParseDelay(delay)
	if err != nil {
		return transcribe.Job{}, err
	}
	return transcribe.Job{
		SessionID:    sessionID,
		Model:        model,
		Instructions: strings.TrimSpace(instructions),
		MaxRetries:   n,
		RetryDelay:   d,
	}, nil
}

// audioPath returns where the upload of a session is stored.
func (h *TranscriptionHandler) audioPath(sessionID, filename string) string {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		name = "audio" + strings.ToLower(filepath.Ext(filename))
	}
	return filepath.Join(h.opts.AudioDir, sessionID, name)
}

// storeAudio replaces the session's stored upload with src. The caller must
// hold the session reservation.
func (h *TranscriptionHandler) storeAudio(path string, src io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// findAudio locates the stored upload of a session: tracked job first,
// then the session row, then the session's audio directory.
func (h *TranscriptionHandler) findAudio(ctx context.Context, sessionID string) string {
	var candidates []string
	if st, err := h.tracker.Get(sessionID); err == nil {
		candidates = append(candidates, st.AudioPath)
	}
	if h.opts.Sessions != nil {
		if row, err := h.opts.Sessions.GetSession(ctx, sessionID); err == nil && row != nil {
			candidates = append(candidates, row.AudioPath)
		}
	}
	return audio.ResolveFile(h.opts.AudioDir, sessionID, candidates...)
}

type chunkView struct {
	Index    int    `json:"index"`
	Start    string `json:"start"`
	End      string `json:"end"`
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Cached   bool   `json:"cached"`
	Error    string `json:"error,omitempty"`
}

type statusView struct {
	SessionID    string               `json:"session_id"`
	State        string               `json:"state"`
	Model        string               `json:"model,omitempty"`
	Chunks       []chunkView          `json:"chunks"`
	FailedChunks int                  `json:"failed_chunks"`
	Segments     []transcribe.Segment `json:"segments,omitempty"`
	Error        string               `json:"error,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	FinishedAt   *time.Time           `json:"finished_at,omitempty"`
}

func newStatusView(st transcribe.JobStatus) statusView {
	v := statusView{
		SessionID: st.SessionID,
		State:     string(st.State),
		Model:     st.Model,
		Chunks:    make([]chunkView, 0, len(st.Chunks)),
		Error:     st.Error,
		CreatedAt: st.CreatedAt,
	}
	if !st.StartedAt.IsZero() {
		v.StartedAt = &st.StartedAt
	}
	if !st.FinishedAt.IsZero() {
		v.FinishedAt = &st.FinishedAt
	}
	for i, c := range st.Chunks {
		v.Chunks = append(v.Chunks, chunkView{
			Index:    i,
			Start:    transcribe.FormatClock(c.Window.StartSeconds()),
			End:      transcribe.FormatClock(c.Window.EndSeconds()),
			State:    string(c.State),
			Attempts: c.Attempts,
			Cached:   c.Cached,
			Error:    c.LastErr,
		})
		if c.State == transcribe.ChunkFailed {
			v.FailedChunks++
		}
	}
	if st.State == transcribe.JobCompleted {
		v.Segments = st.Segments
		if v.Segments == nil {
			v.Segments = []transcribe.Segment{}
		}
	}
	return v
}

// Get handles GET /api/v1/transcriptions/{id}.
func (h *TranscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, ok := h.status(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, newStatusView(st))
}

// Transcript handles GET /api/v1/transcriptions/{id}/transcript?format=json|markdown|text.
func (h *TranscriptionHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	st, ok := h.completed(w, r)
	if !ok {
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		segs := st.Segments
		if segs == nil {
			segs = []transcribe.Segment{}
		}
		WriteJSON(w, http.StatusOK, segs)
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.md"`, st.SessionID))
		io.WriteString(w, transcribe.Markdown("Transcript "+st.SessionID, st.Segments))
	case "text", "txt":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, transcribe.Lines(st.Segments)+"\n")
	default:
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, fmt.Sprintf("unknown format %q: use json, markdown or text", format))
	}
}

type summaryRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type summaryResponse struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Summary   string `json:"summary"`
}

// Summary handles POST /api/v1/transcriptions/{id}/summary.
// Optional JSON body: {"model": "...", "prompt": "..."}.
func (h *TranscriptionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	st, ok := h.completed(w, r)
	if !ok {
		return
	}

	var body summaryRequest
	if r.ContentLength != 0 {
		if err := DecodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
			return
		}
	}
	model := strings.TrimSpace(body.Model)
	if model == "" {
		model = h.opts.DefaultModel
	}
	if h.opts.ModelAllowed != nil && !h.opts.ModelAllowed(model) {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, fmt.Sprintf("model %q is not available", model))
		return
	}
	if len(st.Segments) == 0 {
		WriteErrorWithCode(w, http.StatusConflict, ErrConflict, "transcript is empty")
		return
	}

	summary, err := transcribe.Summarize(r.Context(), h.opts.Service, model, body.Prompt, st.Segments)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", st.SessionID).Msg("summary failed")
		WriteErrorWithCode(w, http.StatusBadGateway, ErrUnavailable, err.Error())
		return
	}
	h.touch(r.Context(), st.SessionID, "", "")
	WriteJSON(w, http.StatusOK, summaryResponse{SessionID: st.SessionID, Model: model, Summary: summary})
}

// Delete handles DELETE /api/v1/transcriptions/{id}.
// Releases remote uploads and removes local work, stored audio, chunk
// records and the session row. Deleting an unknown session is a no-op.
func (h *TranscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID, err := PathSessionID(r)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
		return
	}
	if h.tracker.Busy(sessionID) {
		WriteErrorWithCode(w, http.StatusConflict, ErrConflict, transcribe.ErrSessionBusy.Error())
		return
	}
	ctx := r.Context()
	log := h.log.With().Str("session_id", sessionID).Logger()

	if st, err := h.tracker.Get(sessionID); err == nil {
		for _, up := range st.Uploads {
			if err := h.opts.Service.DeleteFile(ctx, up.Name); err != nil {
				log.Warn().Err(err).Str("file", up.Name).Msg("failed to delete remote upload")
			}
		}
	}
	if h.opts.Records != nil {
		if err := h.opts.Records.DeleteSession(ctx, sessionID); err != nil {
			log.Warn().Err(err).Msg("failed to delete chunk records")
		}
	}
	if sess, err := transcribe.NewSession(sessionID, h.opts.TempRoot, h.opts.LogRoot); err == nil {
		if err := sess.Remove(); err != nil {
			log.Warn().Err(err).Msg("failed to remove work dir")
		}
	}
	if err := os.RemoveAll(filepath.Join(h.opts.AudioDir, sessionID)); err != nil {
		log.Warn().Err(err).Msg("failed to remove stored audio")
	}
	if h.opts.Sessions != nil {
		if err := h.opts.Sessions.DeleteSession(ctx, sessionID); err != nil {
			log.Warn().Err(err).Msg("failed to delete session row")
		}
	}
	h.tracker.Remove(sessionID)

	log.Info().Msg("session deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *TranscriptionHandler) status(w http.ResponseWriter, r *http.Request) (transcribe.JobStatus, bool) {
	sessionID, err := PathSessionID(r)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
		return transcribe.JobStatus{}, false
	}
	st, err := h.tracker.Get(sessionID)
	if err != nil {
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, err.Error())
		return transcribe.JobStatus{}, false
	}
	return st, true
}

func (h *TranscriptionHandler) completed(w http.ResponseWriter, r *http.Request) (transcribe.JobStatus, bool) {
	st, ok := h.status(w, r)
	if !ok {
		return st, false
	}
	if st.State != transcribe.JobCompleted {
		WriteErrorWithCode(w, http.StatusConflict, ErrConflict, fmt.Sprintf("transcription is %s", st.State))
		return st, false
	}
	return st, true
}

func (h *TranscriptionHandler) touch(ctx context.Context, sessionID, audioPath, model string) {
	if h.opts.Sessions == nil {
		return
	}
	if err := h.opts.Sessions.TouchSession(ctx, sessionID, audioPath, model); err != nil {
		h.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to record session activity")
	}
}
