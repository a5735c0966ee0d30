package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// maxDecompressedBytes caps decoded request bodies. Uploaded audio is far below this.
const maxDecompressedBytes = 128 << 20 // 128MiB

var errUnsupportedEncoding = errors.New("unsupported content encoding")

func decoderFor(enc string, body io.Reader) (io.ReadCloser, error) {
	switch enc {
	case "gzip", "x-gzip":
		return gzip.NewReader(body)
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case "br":
		return io.NopCloser(brotli.NewReader(body)), nil
	default:
		return nil, errUnsupportedEncoding
	}
}

// RequestDecompressionMiddleware transparently decodes gzip, zstd and brotli request
// bodies. net/http does not decode request bodies, so handlers that expect JSON or
// multipart would otherwise see compressed bytes.
func RequestDecompressionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if enc == "" || enc == "identity" {
			c.Next()
			return
		}

		dec, err := decoderFor(enc, c.Request.Body)
		if errors.Is(err, errUnsupportedEncoding) {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported Content-Encoding: " + enc})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + enc + " request body"})
			return
		}
		defer func() { _ = dec.Close() }()

		decoded, err := io.ReadAll(io.LimitReader(dec, maxDecompressedBytes+1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to decompress " + enc + " request body"})
			return
		}
		if int64(len(decoded)) > maxDecompressedBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "decompressed request body too large"})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(decoded))
		c.Request.ContentLength = int64(len(decoded))
		c.Request.Header.Del("Content-Encoding")
		c.Next()
	}
}
