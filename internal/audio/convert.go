package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Converter shells out to ffmpeg for containers the in-process decoders
// cannot read (m4a, ogg, flac, ...).
type Converter struct {
	ffmpeg string
}

// NewConverter creates a converter using the given ffmpeg binary.
func NewConverter(ffmpegPath string) *Converter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Converter{ffmpeg: ffmpegPath}
}

// Available reports whether the ffmpeg binary is in PATH.
func (c *Converter) Available() bool {
	_, err := exec.LookPath(c.ffmpeg)
	return err == nil
}

// ToWAV converts inputPath to a 16-bit PCM WAV in workDir. Returns the
// output path and a cleanup function that removes it.
func (c *Converter) ToWAV(ctx context.Context, inputPath, workDir string) (string, func(), error) {
	noop := func() {}
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", noop, fmt.Errorf("mkdir %s: %w", workDir, err)
	}
	outPath := filepath.Join(workDir, "converted_"+strings.ReplaceAll(uuid.NewString(), "-", "")+".wav")

	cmd := exec.CommandContext(ctx, c.ffmpeg,
		"-y", "-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-f", "wav",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// Clean up partial output
		os.Remove(outPath)
		return "", noop, fmt.Errorf("ffmpeg convert %s: %w: %s", filepath.Base(inputPath), err, lastLine(stderr.String()))
	}

	cleanup := func() {
		os.Remove(outPath)
	}
	return outPath, cleanup, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
