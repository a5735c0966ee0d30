package handlers

import (
	"bytes"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/VoiceProxyAPI/internal/audio"
	"github.com/router-for-me/VoiceProxyAPI/internal/stt"
	"github.com/tidwall/gjson"
)

// SpeechToText transcribes the multipart "file" upload.
//
// Query parameters: temperature (0..1), prompt, and user_examples (repeatable).
func (h *Handler) SpeechToText(c *gin.Context) {
	if h.deps.Transcriber == nil {
		unavailable(c, "transcription")
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "Missing required field: file")
		return
	}

	var opts stt.Options
	if raw, ok := c.GetQuery("temperature"); ok {
		v, errParse := strconv.ParseFloat(strings.TrimSpace(raw), 32)
		if errParse != nil || math.IsNaN(v) || v < 0 || v > 1 {
			badRequest(c, "Invalid temperature: must be a number between 0 and 1")
			return
		}
		temp := float32(v)
		opts.Temperature = &temp
	}
	if prompt, ok := c.GetQuery("prompt"); ok {
		opts.Prompt = &prompt
	}
	if examples, ok := c.GetQueryArray("user_examples"); ok {
		opts.Examples = examples
	}

	f, err := fh.Open()
	if err != nil {
		badRequest(c, "Invalid upload: "+err.Error())
		return
	}
	defer func() { _ = f.Close() }()

	text, err := h.deps.Transcriber.Transcribe(c.Request.Context(), f, fh.Filename, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

var speechContentTypes = map[audio.Format]string{
	audio.FormatMP3: "audio/mpeg",
	audio.FormatWAV: "audio/wav",
}

// TextToSpeech renders {"input", "voice", "speed", "model", "format"} to audio.
func (h *Handler) TextToSpeech(c *gin.Context) {
	if h.deps.Speech == nil {
		unavailable(c, "speech")
		return
	}
	raw, err := c.GetRawData()
	if err != nil || !gjson.ValidBytes(raw) {
		badRequest(c, "Invalid request: body must be a JSON object")
		return
	}
	root := gjson.ParseBytes(raw)
	input := root.Get("input").String()
	if strings.TrimSpace(input) == "" {
		badRequest(c, "Missing required field: input")
		return
	}

	format := audio.Format(strings.ToLower(strings.TrimSpace(root.Get("format").String())))
	if format == "" {
		format = audio.FormatMP3
	}
	contentType, ok := speechContentTypes[format]
	if !ok {
		badRequest(c, "Invalid format: must be mp3 or wav")
		return
	}

	opts := h.deps.SpeechDefaults
	if v := strings.TrimSpace(root.Get("voice").String()); v != "" {
		opts.Voice = v
	}
	if m := strings.TrimSpace(root.Get("model").String()); m != "" {
		opts.Model = m
	}
	if s := root.Get("speed"); s.Exists() {
		if s.Float() < 0.25 || s.Float() > 4 {
			badRequest(c, "Invalid speed: must be between 0.25 and 4.0")
			return
		}
		opts.Speed = s.Float()
	}

	var buf bytes.Buffer
	if err = h.deps.Speech.SynthesizeToWriter(c.Request.Context(), input, string(format), &buf, opts); err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, buf.Bytes())
}
