package audio

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/router-for-me/VoiceProxyAPI/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_WAV(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	writeWAV(t, in, 16000, []int{10, -10, 20})

	require.NoError(t, Normalize(in, out))
	assert.Equal(t, []int{10, -10, 20}, readWAV(t, out).data)

	_, err := os.Stat(in)
	assert.NoError(t, err, "input is kept")
}

func TestNormalize_MP3StripsTags(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.mp3")
	out := filepath.Join(dir, "out.mp3")
	tag := []byte{'I', 'D', '3', 3, 0, 0, 0, 0, 0, 2, 'x', 'y'}
	require.NoError(t, os.WriteFile(in, append(tag, mp3Frames(3, 0x33)...), 0o600))

	require.NoError(t, Normalize(in, out))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, mp3Frames(3, 0x33), got)
}

func TestNormalize_ContainerMismatch(t *testing.T) {
	dir := t.TempDir()
	err := Normalize(filepath.Join(dir, "in.wav"), filepath.Join(dir, "out.mp3"))
	assert.True(t, apperrors.Is(err, apperrors.CodeIO))
}

func TestNormalize_InvalidInput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	require.NoError(t, os.WriteFile(in, []byte("RIFF nope"), 0o600))

	err := Normalize(in, out)
	assert.True(t, apperrors.Is(err, apperrors.CodeIO))
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}
