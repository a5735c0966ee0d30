// Package audio joins and re-encodes the audio files produced by the speech services.
// WAV files are decoded to PCM and re-encoded; MP3 files are joined frame by frame.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	apperrors "github.com/router-for-me/VoiceProxyAPI/internal/errors"
	"github.com/tcolgate/mp3"
)

// Format is a supported container.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// FormatOf returns the container implied by path's extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "wav", "wave":
		return FormatWAV, nil
	case "mp3":
		return FormatMP3, nil
	default:
		return "", fmt.Errorf("unsupported audio format %q", filepath.Ext(path))
	}
}

// CleanupError reports input files that could not be removed after a successful
// concatenation. The output file is complete when this error is returned.
type CleanupError struct {
	Paths []string
	Err   error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("audio: could not remove %d input file(s): %v", len(e.Paths), e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// Concat joins the audio files in paths, in order, into out and removes the inputs.
// The container is taken from out's extension. On failure the inputs are left in place
// and any partial output is removed. A *CleanupError means the output is valid but some
// inputs survived.
func Concat(paths []string, out string) error {
	if len(paths) == 0 {
		return apperrors.IO("concatenate audio", errors.New("no input files"))
	}
	format, err := FormatOf(out)
	if err != nil {
		return apperrors.IO("concatenate audio", err)
	}

	switch format {
	case FormatWAV:
		err = concatWAV(paths, out)
	case FormatMP3:
		err = concatMP3(paths, out)
	}
	if err != nil {
		_ = os.Remove(out)
		return apperrors.IO("concatenate audio", err).WithDetail("output", out)
	}

	return removeInputs(paths)
}

func removeInputs(paths []string) error {
	var failed []string
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			failed = append(failed, p)
			errs = append(errs, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &CleanupError{Paths: failed, Err: errors.Join(errs...)}
}

// pcm is a decoded WAV stream.
type pcm struct {
	sampleRate int
	bitDepth   int
	channels   int
	data       []int
}

func (p pcm) sameFormat(o pcm) bool {
	return p.sampleRate == o.sampleRate && p.bitDepth == o.bitDepth && p.channels == o.channels
}

func decodeWAV(path string) (pcm, error) {
	f, err := os.Open(path)
	if err != nil {
		return pcm{}, err
	}
	defer func() { _ = f.Close() }()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return pcm{}, fmt.Errorf("%s: not a valid wav file", filepath.Base(path))
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return pcm{}, fmt.Errorf("%s: decode wav: %w", filepath.Base(path), err)
	}
	return pcm{
		sampleRate: int(d.SampleRate),
		bitDepth:   int(d.BitDepth),
		channels:   int(d.NumChans),
		data:       buf.Data,
	}, nil
}

func encodeWAV(out string, p pcm) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	enc := wav.NewEncoder(f, p.sampleRate, p.bitDepth, p.channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: p.channels, SampleRate: p.sampleRate},
		Data:           p.data,
		SourceBitDepth: p.bitDepth,
	}
	if err = enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err = enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}

func concatWAV(paths []string, out string) error {
	var joined pcm
	for i, path := range paths {
		p, err := decodeWAV(path)
		if err != nil {
			return err
		}
		if i == 0 {
			joined = p
			joined.data = append([]int(nil), p.data...)
			continue
		}
		if !joined.sameFormat(p) {
			return fmt.Errorf("%s: format %dHz/%dbit/%dch differs from %dHz/%dbit/%dch",
				filepath.Base(path), p.sampleRate, p.bitDepth, p.channels,
				joined.sampleRate, joined.bitDepth, joined.channels)
		}
		joined.data = append(joined.data, p.data...)
	}
	return encodeWAV(out, joined)
}

// copyMP3Frames writes every MPEG audio frame of r to w, skipping ID3 tags and junk.
// It returns the number of frames and the sample rate of the first frame.
func copyMP3Frames(w io.Writer, r io.Reader, name string) (int, int, error) {
	d := mp3.NewDecoder(r)
	var frame mp3.Frame
	var skipped int
	frames := 0
	rate := 0
	for {
		if err := d.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return frames, rate, fmt.Errorf("%s: decode mp3 frame %d: %w", name, frames, err)
		}
		if frames == 0 {
			rate = int(frame.Header().SampleRate())
		}
		if _, err := io.Copy(w, frame.Reader()); err != nil {
			return frames, rate, err
		}
		frames++
	}
	if frames == 0 {
		return 0, 0, fmt.Errorf("%s: no mp3 frames found", name)
	}
	return frames, rate, nil
}

func concatMP3(paths []string, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	firstRate := 0
	for i, path := range paths {
		in, err := os.Open(path)
		if err != nil {
			_ = f.Close()
			return err
		}
		_, rate, err := copyMP3Frames(f, in, filepath.Base(path))
		_ = in.Close()
		if err != nil {
			_ = f.Close()
			return err
		}
		if i == 0 {
			firstRate = rate
		} else if rate != firstRate {
			_ = f.Close()
			return fmt.Errorf("%s: sample rate %d differs from %d", filepath.Base(path), rate, firstRate)
		}
	}
	return f.Close()
}
