package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// maxTraceBody bounds how much of a device request or response is traced
const maxTraceBody = 4 << 10

// redactedFields never reach the trace log
var redactedFields = map[string]bool{
	"device_code": true,
	"password":    true,
	"token":       true,
	"secret":      true,
}

// traceWriter tees the response into a bounded buffer
type traceWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *traceWriter) Write(b []byte) (int, error) {
	if room := maxTraceBody - w.buf.Len(); room > 0 {
		w.buf.Write(b[:min(room, len(b))])
	}
	return w.ResponseWriter.Write(b)
}

// DeviceTrace records each child device exchange at debug level so that a
// misbehaving agent can be followed call by call. Nothing is buffered
// unless debug logging is on.
func DeviceTrace(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		// The WebSocket upgrade needs the raw writer for hijacking
		if !strings.HasPrefix(path, "/child/") || path == "/child/ws" ||
			!logger.Enabled(c.Request.Context(), slog.LevelDebug) {
			c.Next()
			return
		}

		started := time.Now()
		request := readTraceBody(c)
		writer := &traceWriter{ResponseWriter: c.Writer}
		c.Writer = writer

		c.Next()

		attrs := []slog.Attr{
			slog.String("request_id", c.GetString(RequestIDKey)),
			slog.String("route", c.FullPath()),
			slog.Int("status", writer.Status()),
			slog.Duration("took", time.Since(started)),
		}
		if device, ok := GetDevice(c); ok {
			attrs = append(attrs, slog.String("device_id", device.ID), slog.String("profile_id", device.ProfileID))
		}
		if request != nil {
			attrs = append(attrs, slog.Any("request", request))
		}
		if response := decodeTrace(writer.buf.Bytes()); response != nil {
			attrs = append(attrs, slog.Any("response", response))
		}

		logger.LogAttrs(c.Request.Context(), slog.LevelDebug, "Device exchange", attrs...)
	}
}

// readTraceBody captures the request body and hands an identical reader
// back to the handlers
func readTraceBody(c *gin.Context) any {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	data, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	if len(data) > maxTraceBody {
		data = data[:maxTraceBody]
	}
	return decodeTrace(data)
}

// decodeTrace turns a JSON body into a loggable value with secrets masked.
// Bodies that are not JSON objects are logged as text.
func decodeTrace(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return string(data)
	}
	for key := range fields {
		if redactedFields[key] {
			fields[key] = "[redacted]"
		}
	}
	return fields
}
