package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/router-for-me/VoiceProxyAPI/internal/audio"
	apperrors "github.com/router-for-me/VoiceProxyAPI/internal/errors"
	"github.com/router-for-me/VoiceProxyAPI/internal/metrics"
	"github.com/router-for-me/VoiceProxyAPI/internal/util"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultVoice = "nova"
	DefaultModel = "tts-1-hd"
	DefaultSpeed = 1.0
)

// SpeechRequest is one call to the hosted synthesis service.
type SpeechRequest struct {
	Text   string
	Model  string
	Voice  string
	Speed  float64
	Format string
}

// Synthesizer renders text to audio and writes the encoded bytes to w.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest, w io.Writer) error
}

// Options tune a single synthesis. Zero values select the defaults.
type Options struct {
	Voice string
	Speed float64
	Model string
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Voice) == "" {
		o.Voice = DefaultVoice
	}
	if o.Speed <= 0 {
		o.Speed = DefaultSpeed
	}
	if strings.TrimSpace(o.Model) == "" {
		o.Model = DefaultModel
	}
	return o
}

// Pipeline synthesizes text of any length.
type Pipeline struct {
	synth       Synthesizer
	maxChars    int
	concurrency int
	tempDir     string
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithMaxChars sets the per-chunk character budget.
func WithMaxChars(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxChars = n
		}
	}
}

// WithConcurrency sets how many chunks are synthesized at once.
func WithConcurrency(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithTempDir sets the directory used by SynthesizeToWriter.
func WithTempDir(dir string) PipelineOption {
	return func(p *Pipeline) { p.tempDir = dir }
}

// NewPipeline returns a pipeline that calls synth once per chunk.
func NewPipeline(synth Synthesizer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{synth: synth, maxChars: DefaultMaxChars, concurrency: 1}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// chunkPath names the audio file of chunk i (zero based) next to outputPath.
func chunkPath(outputPath string, i int) string {
	ext := filepath.Ext(outputPath)
	stem := strings.TrimSuffix(filepath.Base(outputPath), ext)
	return filepath.Join(filepath.Dir(outputPath), stem+"-chunk_"+strconv.Itoa(i+1)+ext)
}

// SynthesizeLong chunks text, synthesizes every chunk and joins the audio into outputPath.
// The audio format follows outputPath's extension. Chunk files never outlive the call.
func (p *Pipeline) SynthesizeLong(ctx context.Context, text, outputPath string, opts Options) error {
	format, err := audio.FormatOf(outputPath)
	if err != nil {
		return apperrors.Validation(err.Error())
	}
	opts = opts.withDefaults()

	chunks := nonBlank(Chunk(text, p.maxChars, DefaultDelimiter))
	if len(chunks) == 0 {
		return apperrors.Validation("Nothing to synthesize: input text is empty")
	}

	paths := make([]string, len(chunks))
	for i := range chunks {
		paths[i] = chunkPath(outputPath, i)
	}
	done := false
	defer func() {
		if done {
			return
		}
		for _, path := range paths {
			if errRemove := os.Remove(path); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
				log.WithError(errRemove).WithField("path", path).Warn("tts: failed to remove chunk file")
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range chunks {
		i := i
		g.Go(func() error {
			return p.synthesizeChunk(gctx, SpeechRequest{
				Text:   chunks[i],
				Model:  opts.Model,
				Voice:  opts.Voice,
				Speed:  opts.Speed,
				Format: string(format),
			}, paths[i])
		})
	}
	if err = g.Wait(); err != nil {
		return err
	}
	metrics.AddTTSChunks(len(chunks))

	if len(paths) == 1 {
		if err = os.Rename(paths[0], outputPath); err != nil {
			return apperrors.IO("move synthesized audio", err)
		}
		done = true
		return nil
	}

	err = audio.Concat(paths, outputPath)
	var cleanupErr *audio.CleanupError
	switch {
	case errors.As(err, &cleanupErr):
		log.WithError(cleanupErr).Warn("tts: audio joined but chunk files were left behind")
		return nil
	case err != nil:
		return err
	}
	done = true
	return nil
}

func (p *Pipeline) synthesizeChunk(ctx context.Context, req SpeechRequest, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return apperrors.IO("create chunk file", err)
	}
	if err = p.synth.Synthesize(ctx, req, f); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return apperrors.IO("write chunk file", err)
	}
	return nil
}

// SynthesizeToWriter runs SynthesizeLong in a scratch directory and streams the joined
// audio to w. format is "mp3" or "wav".
func (p *Pipeline) SynthesizeToWriter(ctx context.Context, text, format string, w io.Writer, opts Options) error {
	scratch := util.NewScratch(p.tempDir)
	defer func() {
		if err := scratch.Cleanup(); err != nil {
			log.WithError(err).Warn("tts: scratch cleanup failed")
		}
	}()

	out := scratch.Path(uuid.NewString() + "." + strings.TrimPrefix(strings.ToLower(format), "."))
	if err := p.SynthesizeLong(ctx, text, out, opts); err != nil {
		return err
	}

	f, err := os.Open(out)
	if err != nil {
		return apperrors.IO("open synthesized audio", err)
	}
	defer func() { _ = f.Close() }()
	if _, err = io.Copy(w, f); err != nil {
		return fmt.Errorf("tts: stream audio: %w", err)
	}
	return nil
}

func nonBlank(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}
