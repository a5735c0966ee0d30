// Package assistant drives a streaming chat with a named persona. Each call builds a system
// prompt from the persona's instructions and from remembered user turns similar to the
// latest one, then records that turn for later calls.
package assistant

import (
	"context"
	"strings"
	"sync"
	"time"

	apperrors "github.com/router-for-me/VoiceProxyAPI/internal/errors"
	"github.com/router-for-me/VoiceProxyAPI/internal/memory"
	"github.com/router-for-me/VoiceProxyAPI/internal/tokens"
	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultName         = "Sasha"
	DefaultModel        = "gpt-4"
	DefaultTopK         = 20
	DefaultWriteTimeout = 30 * time.Second
)

// ChunkStream yields chat completion chunks until io.EOF.
type ChunkStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// ChatCompleter opens streaming chat completions.
type ChatCompleter interface {
	StreamChat(ctx context.Context, req openai.ChatCompletionRequest) (ChunkStream, error)
}

// ChatCompleterFunc adapts a function to ChatCompleter.
type ChatCompleterFunc func(ctx context.Context, req openai.ChatCompletionRequest) (ChunkStream, error)

// StreamChat calls f.
func (f ChatCompleterFunc) StreamChat(ctx context.Context, req openai.ChatCompletionRequest) (ChunkStream, error) {
	return f(ctx, req)
}

// Memory stores user turns and retrieves similar ones.
type Memory interface {
	Store(ctx context.Context, description string) error
	Retrieve(ctx context.Context, query string, k int) ([]memory.Event, error)
}

// ChatRequest is one chat call. Messages is the full caller-owned history.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float32
	MaxTokens   int
}

// Assistant is safe for concurrent use.
type Assistant struct {
	chat   ChatCompleter
	memory Memory

	mu           sync.RWMutex
	name         string
	instructions []string
	model        string

	topK         int
	writeTimeout time.Duration
	pending      sync.WaitGroup
}

// Option customizes an Assistant.
type Option func(*Assistant)

// WithIdentity sets the persona name and instructions.
func WithIdentity(name string, instructions []string) Option {
	return func(a *Assistant) {
		a.name = name
		a.instructions = append([]string(nil), instructions...)
	}
}

// WithModel sets the default chat model.
func WithModel(model string) Option {
	return func(a *Assistant) { a.model = model }
}

// WithTopK sets how many remembered turns go into the system prompt.
func WithTopK(k int) Option {
	return func(a *Assistant) { a.topK = k }
}

// WithWriteTimeout bounds each background memory write.
func WithWriteTimeout(d time.Duration) Option {
	return func(a *Assistant) { a.writeTimeout = d }
}

// New returns an assistant. mem may be nil to disable memory.
func New(chat ChatCompleter, mem Memory, opts ...Option) *Assistant {
	a := &Assistant{
		chat:         chat,
		memory:       mem,
		name:         DefaultName,
		model:        DefaultModel,
		topK:         DefaultTopK,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetIdentity replaces the persona name and instructions.
func (a *Assistant) SetIdentity(name string, instructions []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if strings.TrimSpace(name) != "" {
		a.name = name
	}
	a.instructions = append([]string(nil), instructions...)
}

// SetModel replaces the default chat model.
func (a *Assistant) SetModel(model string) {
	if strings.TrimSpace(model) == "" {
		return
	}
	a.mu.Lock()
	a.model = model
	a.mu.Unlock()
}

// AddInstruction appends one instruction.
func (a *Assistant) AddInstruction(instruction string) {
	a.mu.Lock()
	a.instructions = append(a.instructions, instruction)
	a.mu.Unlock()
}

// Identity returns the persona name and a copy of its instructions.
func (a *Assistant) Identity() (string, []string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.name, append([]string(nil), a.instructions...)
}

// Model returns the default chat model.
func (a *Assistant) Model() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// BuildSystemMessage renders the persona preamble followed by one fenced block per
// remembered description.
func BuildSystemMessage(name string, instructions []string, contexts []string) string {
	var b strings.Builder
	b.WriteString("You are a personal assistant named ")
	b.WriteString(name)
	b.WriteString(".")
	if len(instructions) > 0 {
		b.WriteString("\n\nPlease follow the instructions below:\n\n- ")
		b.WriteString(strings.Join(instructions, "\n- "))
	}
	if len(contexts) > 0 {
		b.WriteString("\n\nHere is some context from previous conversations:\n\n")
		for i, c := range contexts {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString("```\n")
			b.WriteString(c)
			b.WriteString("\n```")
		}
	}
	return b.String()
}

// systemMessage builds the trimmed system prompt for model, using memory keyed on query.
func (a *Assistant) systemMessage(ctx context.Context, model, query string) string {
	name, instructions := a.Identity()

	var contexts []string
	if a.memory != nil && strings.TrimSpace(query) != "" && a.topK > 0 {
		events, err := a.memory.Retrieve(ctx, query, a.topK)
		if err != nil {
			log.WithError(err).Warn("assistant: memory retrieval failed, continuing without context")
		}
		for _, ev := range events {
			contexts = append(contexts, ev.Description)
		}
	}

	msg := BuildSystemMessage(name, instructions, contexts)
	trimmed, err := tokens.Trim(model, msg, tokens.PromptBudget(model))
	if err != nil {
		log.WithError(err).Debug("assistant: system prompt trim failed")
		return msg
	}
	return trimmed
}

// Chat validates req, opens a streaming completion and records the latest user turn.
func (a *Assistant) Chat(ctx context.Context, req ChatRequest) (*Stream, error) {
	if len(req.Messages) == 0 {
		return nil, apperrors.Validation("Missing required field: messages")
	}
	latest, err := ValidateMessages(req.Messages)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = a.Model()
	}

	query := ""
	if latest >= 0 {
		query = req.Messages[latest].Content
	}
	system := a.systemMessage(ctx, model, query)

	messages := make([]Message, 0, len(req.Messages)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: system})
	messages = append(messages, req.Messages...)

	upReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  toOpenAI(messages),
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
	if req.Temperature != nil {
		upReq.Temperature = *req.Temperature
	}

	up, err := a.chat.StreamChat(ctx, upReq)
	if err != nil {
		return nil, err
	}
	a.remember(ctx, query)
	return &Stream{up: up}, nil
}

// remember stores text in memory on a background goroutine that outlives ctx.
func (a *Assistant) remember(ctx context.Context, text string) {
	if a.memory == nil || strings.TrimSpace(text) == "" {
		return
	}
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.writeTimeout)
		defer cancel()
		if err := a.memory.Store(wctx, text); err != nil {
			log.WithError(err).Warn("assistant: failed to record user turn")
		}
	}()
}

// Flush waits for pending memory writes.
func (a *Assistant) Flush() {
	a.pending.Wait()
}
