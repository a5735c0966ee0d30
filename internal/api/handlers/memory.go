package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/VoiceProxyAPI/internal/assistant"
	"github.com/tidwall/gjson"
)

const maxSearchK = 100

// AddMemory records {"description": ...} as a memory event.
func (h *Handler) AddMemory(c *gin.Context) {
	if h.deps.Memory == nil {
		unavailable(c, "memory")
		return
	}
	raw, err := c.GetRawData()
	if err != nil || !gjson.ValidBytes(raw) {
		badRequest(c, "Invalid request: body must be a JSON object")
		return
	}
	description := gjson.GetBytes(raw, "description").String()
	if strings.TrimSpace(description) == "" {
		badRequest(c, "Missing required field: description")
		return
	}
	if err = h.deps.Memory.Store(c.Request.Context(), description); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"count": h.deps.Memory.Len()})
}

// SearchMemory returns the events most similar to ?q=, with their scores.
func (h *Handler) SearchMemory(c *gin.Context) {
	if h.deps.Memory == nil {
		unavailable(c, "memory")
		return
	}
	query := c.Query("q")
	if strings.TrimSpace(query) == "" {
		badRequest(c, "Missing required field: q")
		return
	}
	k := assistant.DefaultTopK
	if raw, ok := c.GetQuery("k"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSearchK {
			badRequest(c, "Invalid k: must be an integer between 1 and "+strconv.Itoa(maxSearchK))
			return
		}
		k = n
	}

	scored, err := h.deps.Memory.Search(c.Request.Context(), query, k)
	if err != nil {
		writeError(c, err)
		return
	}
	events := make([]gin.H, 0, len(scored))
	for _, s := range scored {
		events = append(events, gin.H{
			"id":          s.ID,
			"description": s.Description,
			"created_at":  s.CreatedAt,
			"score":       s.Score,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ListMemory returns every stored description in insertion order.
func (h *Handler) ListMemory(c *gin.Context) {
	if h.deps.Memory == nil {
		unavailable(c, "memory")
		return
	}
	events := h.deps.Memory.Events()
	out := make([]gin.H, 0, len(events))
	for _, ev := range events {
		out = append(out, gin.H{
			"id":          ev.ID,
			"description": ev.Description,
			"created_at":  ev.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(events), "events": out})
}
