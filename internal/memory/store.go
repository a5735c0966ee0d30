// Package memory keeps an in-process, append-only log of conversation events with their
// embeddings and retrieves the events most similar to a query.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/VoiceProxyAPI/internal/tokens"
	log "github.com/sirupsen/logrus"
)

// ErrDimensionMismatch is returned when an embedding does not match the store's dimension.
var ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Event is one remembered description. Events are never mutated after insertion.
type Event struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is safe for concurrent use.
type Store struct {
	embedder Embedder
	model    string

	mu     sync.RWMutex
	events []Event
	dim    int

	// OnAppend is called with the new event count after each insert.
	OnAppend func(n int)
}

// NewStore returns an empty store. model names the embedding model and selects the
// token limit descriptions are trimmed to.
func NewStore(embedder Embedder, model string) *Store {
	return &Store{embedder: embedder, model: model}
}

// Store embeds description and appends it. Blank descriptions are ignored.
func (s *Store) Store(ctx context.Context, description string) error {
	description = strings.TrimSpace(RedactText(description))
	if description == "" {
		return nil
	}
	if s.embedder == nil {
		return errors.New("memory: no embedder configured")
	}

	trimmed, err := tokens.Trim(s.model, description, tokens.MaxLen(s.model))
	if err != nil {
		log.WithError(err).Debug("memory: token trim failed, storing untrimmed description")
	} else {
		description = trimmed
	}

	vec, err := s.embedder.Embed(ctx, description)
	if err != nil {
		return fmt.Errorf("memory: embed description: %w", err)
	}
	if len(vec) == 0 {
		return errors.New("memory: embedder returned an empty vector")
	}

	ev := Event{
		ID:          uuid.NewString(),
		Description: description,
		Embedding:   vec,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	if s.dim == 0 {
		s.dim = len(vec)
	} else if len(vec) != s.dim {
		s.mu.Unlock()
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.dim)
	}
	s.events = append(s.events, ev)
	n := len(s.events)
	s.mu.Unlock()

	if s.OnAppend != nil {
		s.OnAppend(n)
	}
	return nil
}

// Retrieve returns up to k events most similar to query, most similar first.
// An empty store returns no events without calling the embedder.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]Event, error) {
	scored, err := s.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]Event, len(scored))
	for i := range scored {
		out[i] = scored[i].Event
	}
	return out, nil
}

// Search is Retrieve with the similarity scores attached.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}
	snapshot := s.snapshot()
	if len(snapshot) == 0 {
		return nil, nil
	}
	if s.embedder == nil {
		return nil, errors.New("memory: no embedder configured")
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	if len(vec) != len(snapshot[0].Embedding) {
		return nil, fmt.Errorf("%w: query has %d, store has %d", ErrDimensionMismatch, len(vec), len(snapshot[0].Embedding))
	}
	return RankScored(vec, snapshot, k), nil
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Events returns a copy of the stored events in insertion order.
func (s *Store) Events() []Event {
	return s.snapshot()
}

func (s *Store) snapshot() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return nil
	}
	return append([]Event(nil), s.events...)
}
