package memory

import "sort"

// Scored pairs an event with its similarity to a query.
type Scored struct {
	Event
	Score float32 `json:"score"`
}

// Rank orders events by dot product with query, highest first, and keeps the top k.
// Equal scores keep insertion order. Embeddings are assumed to share query's dimension.
func Rank(query []float32, events []Event, k int) []Event {
	scored := RankScored(query, events, k)
	out := make([]Event, len(scored))
	for i := range scored {
		out[i] = scored[i].Event
	}
	return out
}

// RankScored is Rank with scores attached.
func RankScored(query []float32, events []Event, k int) []Scored {
	if k <= 0 || len(events) == 0 {
		return nil
	}
	scored := make([]Scored, len(events))
	for i := range events {
		scored[i] = Scored{Event: events[i], Score: dot(query, events[i].Embedding)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
