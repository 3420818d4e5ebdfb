package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
)

const redacted = "[FILTERED]"

// maxLoggedBody caps how much of a request body is read for logging.
const maxLoggedBody = 8 << 10

// sensitiveFields are matched as substrings of lower-cased header names and JSON keys. Funding source
// tokens and account numbers never reach the logs.
var sensitiveFields = []string{
	"token",
	"authorization",
	"secret",
	"api_key",
	"apikey",
	"account_number",
	"routing_number",
	"card_number",
	"cvv",
	"sourceaccount",
	"credential",
}

// LoggingMiddleware writes one line when a request arrives and one when it completes. Collection
// request bodies are logged with sensitive keys redacted; response bodies are not logged.
func LoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := w.Header().Get(TraceHeader)
			if traceID == "" {
				traceID = middleware.GetReqID(r.Context())
			}
			log := logger.With("trace_id", traceID, "method", r.Method, "path", r.URL.Path)

			attrs := []any{
				"query", r.URL.RawQuery,
				"remote_addr", r.RemoteAddr,
				"headers", redactHeaders(r.Header),
			}
			if body := readBody(r); body != "" {
				attrs = append(attrs, "body", body)
			}
			log.Info("incoming request", attrs...)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			log.Log(r.Context(), level, "response",
				"status_code", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"response_size", ww.BytesWritten())
		})
	}
}

// readBody returns the redacted JSON body and restores it for the next handler. Non-JSON bodies are
// not logged.
func readBody(r *http.Request) string {
	if r.Body == nil || !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return ""
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxLoggedBody))
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), r.Body))

	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}
	out, err := json.Marshal(redact(data))
	if err != nil {
		return ""
	}
	return string(out)
}

func isSensitive(name string) bool {
	name = strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(name, field) {
			return true
		}
	}
	return false
}

func redactHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if isSensitive(name) {
			out[name] = redacted
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func redact(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		for key, value := range v {
			if isSensitive(key) {
				v[key] = redacted
				continue
			}
			v[key] = redact(value)
		}
		return v
	case []interface{}:
		for i, item := range v {
			v[i] = redact(item)
		}
		return v
	default:
		return v
	}
}
