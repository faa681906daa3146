package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"

	"github.com/onnwee/renai/telemetry"
)

// GoogleOptions configures NewGoogleTTS. One of APIKey or CredentialsFile is
// required.
type GoogleOptions struct {
	APIKey          string
	CredentialsFile string
	StaticDir       string
	LanguageCode    string  // default en-US
	Voice           string  // optional voice name
	SpeakingRate    float64 // default 1.0
	Endpoint        string  // override for tests
}

// GoogleTTS synthesizes MP3 audio with Google Cloud Text-to-Speech.
type GoogleTTS struct {
	svc  *texttospeech.Service
	opts GoogleOptions
	now  func() time.Time
	mu   sync.Mutex // one writer of FileName at a time
}

// NewGoogleTTS builds the client. It returns ErrDisabled when no credential
// is configured.
func NewGoogleTTS(ctx context.Context, opts GoogleOptions) (*GoogleTTS, error) {
	var copts []option.ClientOption
	switch {
	case opts.APIKey != "":
		copts = append(copts, option.WithAPIKey(opts.APIKey))
	case opts.CredentialsFile != "":
		copts = append(copts, option.WithCredentialsFile(opts.CredentialsFile))
	default:
		return nil, ErrDisabled
	}
	if opts.Endpoint != "" {
		copts = append(copts, option.WithEndpoint(opts.Endpoint))
	}
	if opts.StaticDir == "" {
		opts.StaticDir = "static"
	}
	if opts.LanguageCode == "" {
		opts.LanguageCode = "en-US"
	}
	if opts.SpeakingRate <= 0 {
		opts.SpeakingRate = 1.0
	}
	svc, err := texttospeech.NewService(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("texttospeech client: %w", err)
	}
	return &GoogleTTS{svc: svc, opts: opts, now: time.Now}, nil
}

// Synthesize renders text to StaticDir/response.mp3 and returns its URL with
// a cache-busting timestamp.
func (g *GoogleTTS) Synthesize(ctx context.Context, text string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "speech", "GoogleTTS.Synthesize")
	defer span.End()

	text = CleanText(text)
	if text == "" {
		err := errors.New("speech: nothing to say")
		telemetry.RecordError(span, err)
		return "", err
	}
	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: g.opts.LanguageCode,
			Name:         g.opts.Voice,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding: "MP3",
			SpeakingRate:  g.opts.SpeakingRate,
		},
	}
	start := time.Now()
	resp, err := g.svc.Text.Synthesize(req).Context(ctx).Do()
	telemetry.ObserveRemote("tts", time.Since(start))
	if err != nil {
		telemetry.IncRemoteFailure("tts", "request")
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("synthesize: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil || len(audio) == 0 {
		telemetry.IncRemoteFailure("tts", "decode")
		return "", fmt.Errorf("synthesize: bad audio payload: %v", err)
	}

	g.mu.Lock()
	err = writeAtomic(filepath.Join(g.opts.StaticDir, FileName), audio)
	g.mu.Unlock()
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	telemetry.SetSpanSuccess(span)
	slog.Debug("speech synthesized", slog.Int("bytes", len(audio)), slog.String("component", "speech"))
	return fmt.Sprintf("/static/%s?t=%d", FileName, g.now().Unix()), nil
}
