package upstream

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/router-for-me/VoiceProxyAPI/internal/stt"
	"github.com/router-for-me/VoiceProxyAPI/internal/tts"
	openai "github.com/sashabaranov/go-openai"
)

// Synthesize renders req.Text to audio and copies the encoded bytes to w.
func (c *Client) Synthesize(ctx context.Context, req tts.SpeechRequest, w io.Writer) error {
	start := time.Now()
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(req.Model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		ResponseFormat: openai.SpeechResponseFormat(req.Format),
		Speed:          req.Speed,
	})
	if err != nil {
		err = wrapError(ServiceSpeech, err)
		c.observe(ServiceSpeech, start, err)
		return err
	}
	defer func() { _ = resp.Close() }()

	if _, err = io.Copy(w, resp); err != nil {
		err = &Error{Service: ServiceSpeech, Err: fmt.Errorf("read audio body: %w", err)}
		c.observe(ServiceSpeech, start, err)
		return err
	}
	c.observe(ServiceSpeech, start, nil)
	return nil
}

// Transcribe sends the audio file at req.FilePath to the transcription model.
func (c *Client) Transcribe(ctx context.Context, req stt.TranscriptionRequest) (string, error) {
	start := time.Now()
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:       req.Model,
		FilePath:    req.FilePath,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
	})
	if err != nil {
		err = wrapError(ServiceTranscription, err)
		c.observe(ServiceTranscription, start, err)
		return "", err
	}
	c.observe(ServiceTranscription, start, nil)
	return resp.Text, nil
}
