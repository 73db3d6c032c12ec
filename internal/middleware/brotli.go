package middleware

import (
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

type BrotliConfig struct {
	Quality   int
	Skipper   func(c *gin.Context) bool
	MinLength int
}

var DefaultBrotliConfig = BrotliConfig{
	Quality:   brotli.DefaultCompression,
	MinLength: 1024,
	Skipper:   nil,
}

type brotliState int

const (
	brotliBuffering brotliState = iota
	brotliCompressing
	// brotliPassthrough is entered when the body was flushed before reaching
	// MinLength; the rest of the response is sent uncompressed.
	brotliPassthrough
)

// brotliWriter buffers the body until MinLength bytes are seen, then switches
// to compressing everything that follows. Short bodies are sent as-is.
type brotliWriter struct {
	gin.ResponseWriter
	writer    *brotli.Writer
	quality   int
	buf       []byte
	minLength int
	state     brotliState
}

func (bw *brotliWriter) Write(data []byte) (int, error) {
	switch bw.state {
	case brotliCompressing:
		return bw.writer.Write(data)
	case brotliPassthrough:
		return bw.ResponseWriter.Write(data)
	}

	bw.buf = append(bw.buf, data...)
	if len(bw.buf) < bw.minLength {
		return len(data), nil
	}

	bw.state = brotliCompressing
	h := bw.ResponseWriter.Header()
	h.Set("Content-Encoding", "br")
	h.Del("Content-Length")
	bw.writer = brotli.NewWriterLevel(bw.ResponseWriter, bw.quality)

	if _, err := bw.writer.Write(bw.buf); err != nil {
		return 0, err
	}
	bw.buf = nil
	return len(data), nil
}

func (bw *brotliWriter) WriteString(s string) (int, error) {
	return bw.Write([]byte(s))
}

// Flush is called by streaming endpoints. A compressed stream flushes the
// encoder; a body still below MinLength is sent raw from here on.
func (bw *brotliWriter) Flush() {
	switch bw.state {
	case brotliCompressing:
		_ = bw.writer.Flush()
	case brotliBuffering:
		bw.state = brotliPassthrough
		if len(bw.buf) > 0 {
			_, _ = bw.ResponseWriter.Write(bw.buf)
			bw.buf = nil
		}
	}
	bw.ResponseWriter.Flush()
}

// finish writes whatever is buffered and terminates the brotli stream.
func (bw *brotliWriter) finish() error {
	switch bw.state {
	case brotliCompressing:
		return bw.writer.Close()
	case brotliBuffering:
		if len(bw.buf) == 0 {
			return nil
		}
		_, err := bw.ResponseWriter.Write(bw.buf)
		bw.buf = nil
		return err
	}
	return nil
}

func Brotli() gin.HandlerFunc {
	return BrotliWithConfig(DefaultBrotliConfig)
}

func BrotliWithConfig(cfg BrotliConfig) gin.HandlerFunc {
	if cfg.Quality < 0 || cfg.Quality > 11 {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultBrotliConfig.MinLength
	}

	return func(c *gin.Context) {
		// Built-in skip for protocols that are incompatible with buffered compression
		if shouldSkip(c) {
			c.Next()
			return
		}

		// User-defined skip
		if cfg.Skipper != nil && cfg.Skipper(c) {
			c.Next()
			return
		}

		if !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")

		bw := &brotliWriter{
			ResponseWriter: c.Writer,
			quality:        cfg.Quality,
			minLength:      cfg.MinLength,
		}

		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
		}()

		c.Writer = bw
		c.Next()
	}
}

// shouldSkip returns true for protocols that are incompatible with
// buffered compression and must be passed through untouched.
func shouldSkip(c *gin.Context) bool {
	// SSE requires immediate streaming, buffering breaks it
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return true
	}
	// WebSocket upgrades must not be intercepted: the Upgrade handshake
	// fails if the response is wrapped or buffered
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return true
	}
	return false
}

func acceptsBrotli(r *http.Request) bool {
	ae := r.Header.Get("Accept-Encoding")
	for _, enc := range strings.Split(ae, ",") {
		// "br;q=1.0" counts as br.
		name := strings.SplitN(strings.TrimSpace(enc), ";", 2)[0]
		if strings.EqualFold(name, "br") {
			return true
		}
	}
	return false
}
