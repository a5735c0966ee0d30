package assistant

import (
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// Stream yields chat chunks until the first one carrying a finish reason.
// It is not safe for concurrent use.
type Stream struct {
	up   ChunkStream
	done bool
}

// Recv returns the next chunk. It returns io.EOF once the upstream ends or sends a chunk
// with a finish reason; that chunk is dropped and the upstream is closed.
func (s *Stream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if s.done {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	resp, err := s.up.Recv()
	if err != nil {
		_ = s.Close()
		return openai.ChatCompletionStreamResponse{}, err
	}
	for _, choice := range resp.Choices {
		if choice.FinishReason != "" {
			_ = s.Close()
			return openai.ChatCompletionStreamResponse{}, io.EOF
		}
	}
	return resp, nil
}

// NextText returns the next non-empty content delta.
func (s *Stream) NextText() (string, error) {
	for {
		resp, err := s.Recv()
		if err != nil {
			return "", err
		}
		text := ""
		for _, choice := range resp.Choices {
			text += choice.Delta.Content
		}
		if text != "" {
			return text, nil
		}
	}
}

// Collect drains the stream and returns the concatenated content.
func (s *Stream) Collect() (string, error) {
	var out []byte
	for {
		text, err := s.NextText()
		if errors.Is(err, io.EOF) {
			return string(out), nil
		}
		if err != nil {
			return string(out), err
		}
		out = append(out, text...)
	}
}

// Close releases the upstream stream. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.up.Close()
}
