package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	InitLoggerTo(&buf, "debug")
	return &buf
}

func TestWithRequestLogRecordsStatusAndRequestID(t *testing.T) {
	buf := captureLogs(t)
	h := WithRequestID(WithRequestLog("api", nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("conflict"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/operations", nil)
	req.Header.Set("X-Request-Id", "req-42")
	req.RemoteAddr = "198.51.100.3:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	checks := map[string]any{
		"msg":        "http_request",
		"service":    "api",
		"status":     float64(http.StatusConflict),
		"bytes":      float64(len("conflict")),
		"request_id": "req-42",
		"client_ip":  "198.51.100.3",
		"level":      "INFO",
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Fatalf("log field %s = %v, want %v (line %s)", k, entry[k], want, buf.String())
		}
	}
}

func TestWithRequestLogUsesErrorLevelForServerErrors(t *testing.T) {
	buf := captureLogs(t)
	h := WithRequestLog("", nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.Contains(buf.String(), `"level":"ERROR"`) || !strings.Contains(buf.String(), `"service":"unknown"`) {
		t.Fatalf("unexpected log line %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerFromContextDefaults(t *testing.T) {
	if LoggerFromContext(nil) != slog.Default() {
		t.Fatalf("expected default logger for nil context")
	}
}
