// Package handlers implements the HTTP endpoints of the voice proxy: streaming chat,
// speech-to-text, text-to-speech and the memory inspection routes.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/VoiceProxyAPI/internal/assistant"
	apperrors "github.com/router-for-me/VoiceProxyAPI/internal/errors"
	"github.com/router-for-me/VoiceProxyAPI/internal/memory"
	"github.com/router-for-me/VoiceProxyAPI/internal/stt"
	"github.com/router-for-me/VoiceProxyAPI/internal/tts"
	"github.com/router-for-me/VoiceProxyAPI/internal/upstream"
	log "github.com/sirupsen/logrus"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Deps are the services behind the endpoints. A nil service disables its routes' work
// and makes them answer 503.
type Deps struct {
	Assistant   *assistant.Assistant
	Transcriber *stt.Adapter
	Speech      *tts.Pipeline
	Memory      *memory.Store

	// SpeechDefaults fill unset fields of text-to-speech requests.
	SpeechDefaults tts.Options

	// KeepAlive is the SSE heartbeat interval. Zero disables heartbeats.
	KeepAlive time.Duration
}

// Handler serves the API routes.
type Handler struct {
	deps      Deps
	keepAlive atomic.Int64
}

// New returns a handler over deps.
func New(deps Deps) *Handler {
	h := &Handler{deps: deps}
	h.keepAlive.Store(int64(deps.KeepAlive))
	return h
}

// SetKeepAlive changes the SSE heartbeat interval for new streams.
func (h *Handler) SetKeepAlive(d time.Duration) {
	h.keepAlive.Store(int64(d))
}

func unavailable(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: what + " is not configured"})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// errorStatus maps err to the status and message shown to the client.
func errorStatus(err error) (int, string) {
	var upErr *upstream.Error
	var appErr *apperrors.AppError
	switch {
	case upstream.IsTimeout(err):
		if errors.As(err, &upErr) {
			return http.StatusGatewayTimeout, upErr.Message()
		}
		return http.StatusGatewayTimeout, "upstream request timed out"
	case errors.As(err, &upErr):
		return upErr.HTTPStatus(), upErr.Message()
	case errors.As(err, &appErr):
		status := appErr.HTTPStatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, appErr.Message
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError renders err as {"error": ...}. A canceled request gets no body.
func writeError(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil {
		log.WithError(err).Debug("request canceled by client")
		c.Abort()
		return
	}
	status, msg := errorStatus(err)
	entry := log.WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}

// Healthz reports liveness.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Register mounts the API routes on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/chat/completions", h.ChatCompletions)
	r.POST("/speech-to-text", h.SpeechToText)
	r.POST("/text-to-speech", h.TextToSpeech)
	r.POST("/memory", h.AddMemory)
	r.GET("/memory", h.ListMemory)
	r.GET("/memory/search", h.SearchMemory)
	r.GET("/healthz", h.Healthz)
}
