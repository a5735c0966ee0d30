package assistant

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	apperrors "github.com/router-for-me/VoiceProxyAPI/internal/errors"
	"github.com/router-for-me/VoiceProxyAPI/internal/memory"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(content string, finish openai.FinishReason) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-35-turbo",
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta:        openai.ChatCompletionStreamChoiceDelta{Content: content},
			FinishReason: finish,
		}},
	}
}

type scriptedStream struct {
	chunks []openai.ChatCompletionStreamResponse
	err    error
	pos    int
	closed int
}

func (s *scriptedStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return openai.ChatCompletionStreamResponse{}, s.err
		}
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *scriptedStream) Close() error {
	s.closed++
	return nil
}

type fakeChat struct {
	mu     sync.Mutex
	reqs   []openai.ChatCompletionRequest
	stream *scriptedStream
	err    error
}

func (f *fakeChat) StreamChat(_ context.Context, req openai.ChatCompletionRequest) (ChunkStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.stream == nil {
		f.stream = &scriptedStream{chunks: []openai.ChatCompletionStreamResponse{chunk("ok", "stop")}}
	}
	return f.stream, nil
}

func constEmbedder() memory.Embedder {
	return memory.EmbedderFunc(func(_ context.Context, text string) ([]float32, error) {
		return []float32{float32(len(text)), 1}, nil
	})
}

func TestBuildSystemMessage(t *testing.T) {
	got := BuildSystemMessage("Sasha", []string{"Be brief.", "Answer in Russian."}, nil)
	assert.Equal(t, "You are a personal assistant named Sasha.\n\n"+
		"Please follow the instructions below:\n\n"+
		"- Be brief.\n- Answer in Russian.", got)

	got = BuildSystemMessage("Sasha", nil, []string{"first", "second"})
	assert.Equal(t, "You are a personal assistant named Sasha.\n\n"+
		"Here is some context from previous conversations:\n\n"+
		"```\nfirst\n```\n\n```\nsecond\n```", got)
}

func TestValidateMessages(t *testing.T) {
	idx, err := ValidateMessages([]Message{
		{Role: RoleUser, Content: "one"},
		{Role: RoleAssistant, Content: "two"},
		{Role: RoleUser, Content: "three"},
		{Role: RoleAssistant, Content: "four"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	_, err = ValidateMessages([]Message{{Role: "tool", Content: "x"}})
	assert.Error(t, err)

	idx, err = ValidateMessages([]Message{{Role: RoleSystem, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}

func TestChat_BuildsRequestAndRemembers(t *testing.T) {
	chat := &fakeChat{}
	mem := memory.NewStore(constEmbedder(), "")
	a := New(chat, mem, WithIdentity("Nova", []string{"Be kind."}), WithModel("gpt-4"))

	temp := float32(0.5)
	s, err := a.Chat(context.Background(), ChatRequest{
		Messages:    []Message{{Role: RoleUser, Content: "Привет"}},
		Temperature: &temp,
		MaxTokens:   64,
	})
	require.NoError(t, err)
	_ = s.Close()
	a.Flush()

	require.Len(t, chat.reqs, 1)
	req := chat.reqs[0]
	assert.Equal(t, "gpt-4", req.Model)
	assert.True(t, req.Stream)
	assert.Equal(t, float32(0.5), req.Temperature)
	assert.Equal(t, 64, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "You are a personal assistant named Nova.\n\nPlease follow the instructions below:\n\n- Be kind.", req.Messages[0].Content)
	assert.Equal(t, openai.ChatCompletionMessage{Role: "user", Content: "Привет"}, req.Messages[1])

	require.Equal(t, 1, mem.Len())
	assert.Equal(t, "Привет", mem.Events()[0].Description)
}

func TestChat_InjectsMemoryContext(t *testing.T) {
	chat := &fakeChat{}
	mem := memory.NewStore(constEmbedder(), "")
	require.NoError(t, mem.Store(context.Background(), "I live in Tbilisi"))
	a := New(chat, mem, WithIdentity("Nova", nil))

	s, err := a.Chat(context.Background(), ChatRequest{
		Model:    "gpt-3.5-turbo",
		Messages: []Message{{Role: RoleUser, Content: "Where do I live?"}},
	})
	require.NoError(t, err)
	_ = s.Close()
	a.Flush()

	system := chat.reqs[0].Messages[0].Content
	assert.Contains(t, system, "Here is some context from previous conversations:\n\n```\nI live in Tbilisi\n```")
	assert.NotContains(t, system, "Where do I live?")
	assert.Equal(t, "gpt-3.5-turbo", chat.reqs[0].Model)
	assert.Equal(t, 2, mem.Len())
}

func TestChat_TrimsSystemMessage(t *testing.T) {
	chat := &fakeChat{}
	long := strings.Repeat("remember this detail ", 3000)
	mem := memory.NewStore(constEmbedder(), "")
	require.NoError(t, mem.Store(context.Background(), long))
	a := New(chat, mem)

	s, err := a.Chat(context.Background(), ChatRequest{
		Model:    "gpt-3.5-turbo",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	_ = s.Close()
	a.Flush()

	system := chat.reqs[0].Messages[0].Content
	assert.Less(t, len(system), len(long))
	assert.True(t, strings.HasPrefix(system, "You are a personal assistant named Sasha."))
}

func TestChat_Validation(t *testing.T) {
	a := New(&fakeChat{}, nil)

	_, err := a.Chat(context.Background(), ChatRequest{})
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))

	_, err = a.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "robot", Content: "x"}}})
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
}

func TestChat_UpstreamErrorSkipsMemory(t *testing.T) {
	boom := errors.New("401 unauthorized")
	mem := memory.NewStore(constEmbedder(), "")
	a := New(&fakeChat{err: boom}, mem)

	_, err := a.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.ErrorIs(t, err, boom)
	a.Flush()
	assert.Zero(t, mem.Len())
}

func TestChat_MemoryWriteOutlivesRequestContext(t *testing.T) {
	mem := memory.NewStore(constEmbedder(), "")
	a := New(&fakeChat{}, mem)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := a.Chat(ctx, ChatRequest{Messages: []Message{{Role: RoleUser, Content: "keep me"}}})
	require.NoError(t, err)
	cancel()
	_ = s.Close()
	a.Flush()
	assert.Equal(t, 1, mem.Len())
}

func TestIdentityUpdates(t *testing.T) {
	a := New(&fakeChat{}, nil, WithIdentity("A", []string{"one"}))
	a.AddInstruction("two")
	name, instr := a.Identity()
	assert.Equal(t, "A", name)
	assert.Equal(t, []string{"one", "two"}, instr)

	a.SetIdentity("B", []string{"three"})
	a.SetModel("gpt-4o")
	name, instr = a.Identity()
	assert.Equal(t, "B", name)
	assert.Equal(t, []string{"three"}, instr)
	assert.Equal(t, "gpt-4o", a.Model())

	instr[0] = "mutated"
	_, again := a.Identity()
	assert.Equal(t, "three", again[0])
}
