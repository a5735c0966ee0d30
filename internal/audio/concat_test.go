package audio

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	apperrors "github.com/router-for-me/VoiceProxyAPI/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFrameSize = 417 // MPEG1 layer III, 128 kbps, 44.1 kHz, no padding

func writeWAV(t *testing.T, path string, sampleRate int, samples []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func readWAV(t *testing.T, path string) pcm {
	t.Helper()
	p, err := decodeWAV(path)
	require.NoError(t, err)
	return p
}

// mp3Frames returns n silent frames whose payload bytes are all marker.
func mp3Frames(n int, marker byte) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		frame := make([]byte, testFrameSize)
		copy(frame, []byte{0xFF, 0xFB, 0x90, 0x64})
		for j := 4; j < len(frame); j++ {
			frame[j] = marker
		}
		buf.Write(frame)
	}
	return buf.Bytes()
}

func TestConcat_WAV(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	c := filepath.Join(dir, "c.wav")
	writeWAV(t, a, 8000, []int{1, 2, 3})
	writeWAV(t, b, 8000, []int{4, 5})
	writeWAV(t, c, 8000, []int{6})

	out := filepath.Join(dir, "out.wav")
	require.NoError(t, Concat([]string{a, b, c}, out))

	got := readWAV(t, out)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, got.data)
	assert.Equal(t, 8000, got.sampleRate)
	assert.Equal(t, 16, got.bitDepth)
	assert.Equal(t, 1, got.channels)

	for _, p := range []string{a, b, c} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "input %s should be removed", p)
	}
}

func TestConcat_WAVFormatMismatch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	writeWAV(t, a, 8000, []int{1})
	writeWAV(t, b, 16000, []int{2})

	out := filepath.Join(dir, "out.wav")
	err := Concat([]string{a, b}, out)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeIO))

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "partial output should be removed")
	_, statErr = os.Stat(a)
	assert.NoError(t, statErr, "inputs survive a failed concat")
}

func TestConcat_MP3(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp3")
	b := filepath.Join(dir, "b.mp3")
	id3 := []byte{'I', 'D', '3', 3, 0, 0, 0, 0, 0, 4, 'j', 'u', 'n', 'k'}
	require.NoError(t, os.WriteFile(a, append(id3, mp3Frames(2, 0x11)...), 0o600))
	require.NoError(t, os.WriteFile(b, mp3Frames(1, 0x22), 0o600))

	out := filepath.Join(dir, "out.mp3")
	require.NoError(t, Concat([]string{a, b}, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	want := append(mp3Frames(2, 0x11), mp3Frames(1, 0x22)...)
	assert.Equal(t, want, got)

	_, err = os.Stat(a)
	assert.True(t, os.IsNotExist(err))
}

func TestConcat_MP3NoFrames(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp3")
	require.NoError(t, os.WriteFile(a, []byte("not audio at all"), 0o600))

	err := Concat([]string{a}, filepath.Join(dir, "out.mp3"))
	assert.True(t, apperrors.Is(err, apperrors.CodeIO))
}

func TestConcat_Errors(t *testing.T) {
	dir := t.TempDir()

	err := Concat(nil, filepath.Join(dir, "out.wav"))
	assert.True(t, apperrors.Is(err, apperrors.CodeIO))

	err = Concat([]string{"x.ogg"}, filepath.Join(dir, "out.ogg"))
	assert.True(t, apperrors.Is(err, apperrors.CodeIO))

	err = Concat([]string{filepath.Join(dir, "missing.wav")}, filepath.Join(dir, "out.wav"))
	assert.True(t, apperrors.Is(err, apperrors.CodeIO))
}

func TestConcat_CleanupWarning(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced")
	}
	dir := t.TempDir()
	inDir := filepath.Join(dir, "in")
	require.NoError(t, os.Mkdir(inDir, 0o755))
	a := filepath.Join(inDir, "a.wav")
	writeWAV(t, a, 8000, []int{7, 8})
	require.NoError(t, os.Chmod(inDir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(inDir, 0o755) })

	out := filepath.Join(dir, "out.wav")
	err := Concat([]string{a}, out)

	var cleanupErr *CleanupError
	require.True(t, errors.As(err, &cleanupErr))
	assert.Equal(t, []string{a}, cleanupErr.Paths)
	assert.Equal(t, []int{7, 8}, readWAV(t, out).data)
}

func TestFormatOf(t *testing.T) {
	f, err := FormatOf("x/y/Z.MP3")
	require.NoError(t, err)
	assert.Equal(t, FormatMP3, f)

	f, err = FormatOf("a.wav")
	require.NoError(t, err)
	assert.Equal(t, FormatWAV, f)

	_, err = FormatOf("a.flac")
	assert.Error(t, err)
}
