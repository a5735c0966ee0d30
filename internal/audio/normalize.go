package audio

import (
	"fmt"
	"os"

	apperrors "github.com/router-for-me/VoiceProxyAPI/internal/errors"
)

// Normalize rewrites the audio file at in into a clean container at out. WAV input is
// decoded and re-encoded with a canonical header; MP3 input is stripped of ID3 tags and
// non-audio data. The input file is left untouched.
func Normalize(in, out string) error {
	format, err := FormatOf(in)
	if err != nil {
		return apperrors.IO("normalize audio", err)
	}
	if outFormat, errOut := FormatOf(out); errOut != nil || outFormat != format {
		return apperrors.IO("normalize audio", fmt.Errorf("output %s must use the %s container", out, format))
	}

	switch format {
	case FormatWAV:
		var p pcm
		if p, err = decodeWAV(in); err == nil {
			err = encodeWAV(out, p)
		}
	case FormatMP3:
		err = normalizeMP3(in, out)
	}
	if err != nil {
		_ = os.Remove(out)
		return apperrors.IO("normalize audio", err).WithDetail("input", in)
	}
	return nil
}

func normalizeMP3(in, out string) error {
	src, err := os.Open(in)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	if _, _, err = copyMP3Frames(dst, src, in); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
