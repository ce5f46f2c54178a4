package transcribe

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrSessionBusy is returned when a session already has a queued or
	// running job.
	ErrSessionBusy = errors.New("session has a job in progress")
	// ErrSessionNotFound is returned for sessions the tracker has never seen.
	ErrSessionNotFound = errors.New("session not found")
)

// JobState is the lifecycle state of a transcription job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobStatus is a snapshot of one session's latest job.
type JobStatus struct {
	SessionID  string
	State      JobState
	AudioPath  string
	Model      string
	Chunks     []ChunkOutcome
	Segments   []Segment
	Uploads    []*UploadedFile
	Error      string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Active reports whether the job is queued or running.
func (s *JobStatus) Active() bool {
	return s.State == JobQueued || s.State == JobRunning
}

// Tracker keeps the status of the latest job per session. At most one job
// per session may be active.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string]*JobStatus
	prev map[string]*JobStatus
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		jobs: make(map[string]*JobStatus),
		prev: make(map[string]*JobStatus),
	}
}

// Begin registers a queued job. Uploads of earlier runs are carried over so
// cleanup can release them.
func (t *Tracker) Begin(job Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.jobs[job.SessionID]
	if old != nil && old.Active() {
		return ErrSessionBusy
	}
	st := &JobStatus{
		SessionID: job.SessionID,
		State:     JobQueued,
		AudioPath: job.AudioPath,
		Model:     job.Model,
		CreatedAt: time.Now(),
	}
	if old != nil {
		st.Uploads = append(st.Uploads, old.Uploads...)
		t.prev[job.SessionID] = old
	}
	t.jobs[job.SessionID] = st
	return nil
}

// Abandon undoes Begin for a job that could not be queued.
func (t *Tracker) Abandon(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.prev[sessionID]; ok {
		t.jobs[sessionID] = old
		delete(t.prev, sessionID)
		return
	}
	delete(t.jobs, sessionID)
}

// Start marks a job as running.
func (t *Tracker) Start(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.jobs[sessionID]; ok {
		st.State = JobRunning
		st.StartedAt = time.Now()
	}
	delete(t.prev, sessionID)
}

// Progress records the latest outcome of one chunk.
func (t *Tracker) Progress(sessionID string, out ChunkOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[sessionID]
	if !ok {
		return
	}
	i := out.Window.Index
	for len(st.Chunks) <= i {
		st.Chunks = append(st.Chunks, ChunkOutcome{State: ChunkPlanned})
	}
	st.Chunks[i] = out
}

// Finish records the result of a job.
func (t *Tracker) Finish(sessionID string, res *Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[sessionID]
	if !ok {
		return
	}
	st.FinishedAt = time.Now()
	if res != nil {
		// Uploads of an aborted run are kept so Delete can still remove them.
		st.Uploads = append(st.Uploads, res.Uploads...)
		if err == nil {
			st.Segments = res.Segments
			st.Chunks = res.Chunks
		}
	}
	if err != nil {
		st.State = JobFailed
		st.Error = err.Error()
		return
	}
	st.State = JobCompleted
	st.Error = ""
}

// Get returns a copy of the session's status.
func (t *Tracker) Get(sessionID string) (JobStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[sessionID]
	if !ok {
		return JobStatus{}, ErrSessionNotFound
	}
	cp := *st
	cp.Chunks = append([]ChunkOutcome(nil), st.Chunks...)
	cp.Uploads = append([]*UploadedFile(nil), st.Uploads...)
	return cp, nil
}

// Busy reports whether the session has a queued or running job.
func (t *Tracker) Busy(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[sessionID]
	return ok && st.Active()
}

// Remove forgets a session. Active sessions cannot be removed.
func (t *Tracker) Remove(sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if st.Active() {
		return ErrSessionBusy
	}
	delete(t.jobs, sessionID)
	return nil
}

// Running returns the number of running jobs.
func (t *Tracker) Running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, st := range t.jobs {
		if st.State == JobRunning {
			n++
		}
	}
	return n
}
