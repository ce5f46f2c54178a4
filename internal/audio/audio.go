// Package audio reads recordings and cuts time-bounded slices out of them
// as standalone WAV files.
package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
)

// Clip is a decodable recording on disk. Samples are streamed from the
// file for every slice, so memory use does not grow with the recording.
// Close releases the intermediate WAV of a converted recording.
type Clip struct {
	path    string
	ext     string
	format  beep.Format
	frames  int
	cleanup func()
}

// Duration returns the length of the recording.
func (c *Clip) Duration() time.Duration {
	return c.format.SampleRate.D(c.frames)
}

// Format returns the sample format of the decoded audio.
func (c *Clip) Format() beep.Format { return c.format }

// WriteSlice encodes the samples in [start, end) as WAV into w. Bounds are
// clamped to the recording.
func (c *Clip) WriteSlice(w io.WriteSeeker, start, end time.Duration) error {
	from := clamp(c.format.SampleRate.N(start), 0, c.frames)
	to := clamp(c.format.SampleRate.N(end), from, c.frames)

	streamer, _, err := open(c.path, c.ext)
	if err != nil {
		return err
	}
	defer streamer.Close()
	if err := streamer.Seek(from); err != nil {
		return fmt.Errorf("seek to frame %d: %w", from, err)
	}
	if err := wav.Encode(w, beep.Take(to-from, streamer), c.format); err != nil {
		return fmt.Errorf("encode slice: %w", err)
	}
	if err := streamer.Err(); err != nil {
		return fmt.Errorf("read samples: %w", err)
	}
	return nil
}

// Close removes the converted working copy, if any.
func (c *Clip) Close() error {
	if c.cleanup != nil {
		c.cleanup()
		c.cleanup = nil
	}
	return nil
}

// Load opens the recording at path. WAV and MP3 are read directly; other
// containers are first converted to WAV with conv, writing the working
// copy into workDir where it stays until the Clip is closed.
func Load(ctx context.Context, path, workDir string, conv *Converter) (*Clip, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav", ".mp3":
		return readHeader(path, ext)
	}

	if conv == nil {
		return nil, fmt.Errorf("unsupported audio format %q", ext)
	}
	converted, cleanup, err := conv.ToWAV(ctx, path, workDir)
	if err != nil {
		return nil, err
	}
	clip, err := readHeader(converted, ".wav")
	if err != nil {
		cleanup()
		return nil, err
	}
	clip.cleanup = cleanup
	return clip, nil
}

// readHeader reads the header of a recording to learn its format and length.
func readHeader(path, ext string) (*Clip, error) {
	streamer, format, err := open(path, ext)
	if err != nil {
		return nil, err
	}
	defer streamer.Close()
	return &Clip{path: path, ext: ext, format: format, frames: streamer.Len()}, nil
}

func open(path, ext string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("open audio file: %w", err)
	}
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	// The streamer owns f once decoding succeeds.
	switch ext {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	default:
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format %q", ext)
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", ext, err)
	}
	return streamer, format, nil
}

// MIMEType returns the content type for an audio file extension.
func MIMEType(ext string) string {
	switch strings.ToLower(ext) {
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".aac":
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}

// Supported reports whether a file extension can be loaded, either directly
// or through conversion.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".wav", ".mp3", ".m4a", ".ogg", ".flac", ".aac", ".webm", ".mp4":
		return true
	}
	return false
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
