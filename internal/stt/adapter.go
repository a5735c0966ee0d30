// Package stt transcribes uploaded audio with a hosted speech-to-text model, biasing it
// with a prompt built from a base instruction and example utterances.
package stt

import (
	"context"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/router-for-me/VoiceProxyAPI/internal/audio"
	apperrors "github.com/router-for-me/VoiceProxyAPI/internal/errors"
	"github.com/router-for-me/VoiceProxyAPI/internal/util"
	log "github.com/sirupsen/logrus"
)

// DefaultModel is the hosted transcription model.
const DefaultModel = "whisper-1"

// TranscriptionRequest is one call to the hosted transcriber.
type TranscriptionRequest struct {
	FilePath    string
	Model       string
	Temperature float32
	Prompt      string
}

// Transcriber sends an audio file to the hosted model and returns the text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
}

// Options override the adapter defaults for one call. Nil fields use the defaults.
type Options struct {
	Temperature *float32
	Prompt      *string
	Examples    []string
}

// Defaults are the adapter-wide settings, usually from configuration.
type Defaults struct {
	Model       string
	Temperature float32
	Prompt      string
	Examples    []string
	Normalize   bool
	TempDir     string
}

// Adapter writes uploads to scoped temp files and forwards them to a Transcriber.
type Adapter struct {
	transcriber Transcriber
	defaults    Defaults
}

// NewAdapter returns an adapter using transcriber and defaults.
func NewAdapter(transcriber Transcriber, defaults Defaults) *Adapter {
	if strings.TrimSpace(defaults.Model) == "" {
		defaults.Model = DefaultModel
	}
	return &Adapter{transcriber: transcriber, defaults: defaults}
}

// BiasPrompt joins prompt and the examples, one "Example: ..." line each.
func BiasPrompt(prompt string, examples []string) string {
	lines := make([]string, len(examples))
	for i, ex := range examples {
		lines[i] = "Example: " + ex
	}
	return prompt + "\n\n" + strings.Join(lines, "\n")
}

// Transcribe stores the audio read from r in a temp file named after filename, sends it
// to the transcriber and returns the text verbatim. Temp files are removed on every path.
func (a *Adapter) Transcribe(ctx context.Context, r io.Reader, filename string, opts Options) (string, error) {
	temperature := a.defaults.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	if math.IsNaN(float64(temperature)) || temperature < 0 || temperature > 1 {
		return "", apperrors.Validation("temperature must be between 0 and 1")
	}
	prompt := a.defaults.Prompt
	if opts.Prompt != nil {
		prompt = *opts.Prompt
	}
	examples := a.defaults.Examples
	if opts.Examples != nil {
		examples = opts.Examples
	}

	scratch := util.NewScratch(a.defaults.TempDir)
	defer func() {
		if err := scratch.Cleanup(); err != nil {
			log.WithError(err).Warn("stt: temp file cleanup failed")
		}
	}()

	f, err := scratch.Create(filename)
	if err != nil {
		return "", apperrors.IO("store upload", err)
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", apperrors.IO("store upload", err)
	}
	if err = f.Close(); err != nil {
		return "", apperrors.IO("store upload", err)
	}
	path := f.Name()

	if a.defaults.Normalize {
		if _, errFormat := audio.FormatOf(path); errFormat == nil {
			normalized := scratch.Path(fmt.Sprintf("normalized-%s", filepath.Base(path)))
			if err = audio.Normalize(path, normalized); err != nil {
				return "", err
			}
			path = normalized
		}
	}

	text, err := a.transcriber.Transcribe(ctx, TranscriptionRequest{
		FilePath:    path,
		Model:       a.defaults.Model,
		Temperature: temperature,
		Prompt:      BiasPrompt(prompt, examples),
	})
	if err != nil {
		return "", err
	}
	return text, nil
}
