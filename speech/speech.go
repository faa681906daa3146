// Package speech converts response text to an audio file served from the
// static directory.
package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrDisabled is returned when no text-to-speech backend is configured.
var ErrDisabled = errors.New("speech: text-to-speech is not configured")

// FileName is the audio file written into the static directory.
const FileName = "response.mp3"

// Synthesizer renders text and returns the URL the browser should play.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audioURL string, err error)
}

// Disabled always fails with ErrDisabled.
type Disabled struct{}

// Synthesize implements Synthesizer.
func (Disabled) Synthesize(context.Context, string) (string, error) { return "", ErrDisabled }

var speechStripper = strings.NewReplacer("*", "", "_", " ")

// CleanText drops markup characters and pictographic symbols that TTS
// engines read out literally.
func CleanText(text string) string {
	text = speechStripper.Replace(text)
	text = strings.Map(func(r rune) rune {
		switch {
		case r >= 0x1F300 && r <= 0x1FAFF, // emoji and pictographs
			r >= 0x2600 && r <= 0x27BF, // misc symbols and dingbats
			r == 0x2B50, r == 0x2B55, r == 0xFE0F:
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}

// writeAtomic replaces path with data via a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".response-*.mp3.tmp")
	if err != nil {
		return fmt.Errorf("create temp audio file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp audio file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp audio file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp audio file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace audio file: %w", err)
	}
	cleanup = false
	return nil
}
