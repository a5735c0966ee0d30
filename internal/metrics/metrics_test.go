package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordingDisabled(t *testing.T) {
	SetEnabled(false)
	before := testutil.ToFloat64(ttsChunksTotal)
	AddTTSChunks(3)
	assert.Equal(t, before, testutil.ToFloat64(ttsChunksTotal))

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordingEnabled(t *testing.T) {
	SetEnabled(true)
	t.Cleanup(func() { SetEnabled(false) })

	before := testutil.ToFloat64(ttsChunksTotal)
	AddTTSChunks(2)
	assert.Equal(t, before+2, testutil.ToFloat64(ttsChunksTotal))

	SetMemoryEvents(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(memoryEvents))

	RecordUpstream("chat", "ok", 0.1)
	assert.Equal(t, 1.0, testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("chat", "ok")))

	IncChatChunks()
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "voiceproxy_chat_stream_chunks_total")

	// Register is idempotent.
	assert.NotPanics(t, Register)
}
