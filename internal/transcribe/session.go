package transcribe

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// NewSessionID returns a random 32-character hex session identifier.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidSessionID reports whether id is safe to use as a directory name.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// Session owns the working and diagnostic directories of one transcription.
type Session struct {
	ID      string
	WorkDir string
	LogDir  string
}

// NewSession resolves the directories of session id under the given roots.
func NewSession(id, tempRoot, logRoot string) (*Session, error) {
	if !ValidSessionID(id) {
		return nil, fmt.Errorf("invalid session id %q", id)
	}
	return &Session{
		ID:      id,
		WorkDir: filepath.Join(tempRoot, id),
		LogDir:  filepath.Join(logRoot, id),
	}, nil
}

// Prepare creates the work and log directories, keeping existing content.
func (s *Session) Prepare() error {
	if err := os.MkdirAll(s.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	if err := os.MkdirAll(s.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	return nil
}

// Reset discards any previous work for the session and recreates the
// directories. Diagnostic logs are kept.
func (s *Session) Reset() error {
	if err := os.RemoveAll(s.WorkDir); err != nil {
		return fmt.Errorf("clear work dir: %w", err)
	}
	return s.Prepare()
}

// Remove deletes the work directory.
func (s *Session) Remove() error {
	return os.RemoveAll(s.WorkDir)
}

// chunkLogPath names the raw-response log of one attempt.
func (s *Session) chunkLogPath(w Window, attempt int) string {
	name := fmt.Sprintf("%s_chunk_%d_start_%s_end_%s_attempt_%d.json",
		s.ID, w.Index, compactClock(w.StartSeconds()), compactClock(w.EndSeconds()), attempt)
	return filepath.Join(s.LogDir, name)
}

// chunkSlicePath names the temporary audio slice of one chunk.
func (s *Session) chunkSlicePath(w Window) string {
	return filepath.Join(s.WorkDir, fmt.Sprintf("chunk_%d.wav", w.Index))
}
