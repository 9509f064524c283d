package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"golang.org/x/crypto/bcrypt"

	"bookshelf/pkg/domain"
	"bookshelf/services/api/internal/app"
	"bookshelf/services/api/internal/security"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	if cfg.App == nil {
		a, err := app.New(app.Config{
			TokenSecret:      []byte("0123456789abcdef0123456789abcdef"),
			PasswordHashCost: bcrypt.MinCost,
		})
		if err != nil {
			t.Fatalf("new app: %v", err)
		}
		t.Cleanup(func() { _ = a.Close() })
		cfg.App = a
	}
	ts := httptest.NewServer(New(cfg).Router())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, token, op string, vars any) (int, envelope) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"operationName": op, "variables": vars})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return post(t, ts, token, body)
}

func post(t *testing.T, ts *httptest.Server, token string, body []byte) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/operations", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, env
}

func TestOperationFlow(t *testing.T) {
	ts := newTestServer(t, Config{})

	status, env := call(t, ts, "", "addUser", map[string]string{"username": "alice", "email": "alice@x.com", "password": "pw123"})
	if status != http.StatusOK || env.Error != nil {
		t.Fatalf("addUser status=%d err=%+v", status, env.Error)
	}
	var auth app.AuthPayload
	if err := json.Unmarshal(env.Data, &auth); err != nil {
		t.Fatalf("decode auth payload: %v", err)
	}
	if auth.Token == "" || auth.User.Username != "alice" {
		t.Fatalf("unexpected auth payload %+v", auth)
	}

	status, env = call(t, ts, auth.Token, "saveBook", map[string]any{"bookId": "B1", "title": "T1", "authors": []string{"Ann"}})
	if status != http.StatusOK {
		t.Fatalf("saveBook status=%d err=%+v", status, env.Error)
	}
	var profile domain.Profile
	if err := json.Unmarshal(env.Data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.BookCount != 1 || profile.SavedBooks[0].BookID != "B1" {
		t.Fatalf("unexpected profile %+v", profile)
	}

	status, env = call(t, ts, auth.Token, "me", nil)
	if status != http.StatusOK || !strings.Contains(string(env.Data), `"bookId":"B1"`) {
		t.Fatalf("me status=%d data=%s", status, env.Data)
	}

	status, env = call(t, ts, auth.Token, "removeBook", map[string]string{"bookId": "B1"})
	if status != http.StatusOK || !strings.Contains(string(env.Data), `"savedBooks":[]`) {
		t.Fatalf("removeBook status=%d data=%s", status, env.Data)
	}
}

func TestOperationErrorMapping(t *testing.T) {
	ts := newTestServer(t, Config{})
	if status, _ := call(t, ts, "", "addUser", map[string]string{"username": "alice", "email": "alice@x.com", "password": "pw"}); status != http.StatusOK {
		t.Fatalf("seed user status=%d", status)
	}

	tests := []struct {
		name       string
		token      string
		op         string
		vars       any
		wantStatus int
		wantKind   string
	}{
		{"me without token", "", "me", nil, http.StatusUnauthorized, "Unauthenticated"},
		{"me with garbage token", "garbage", "me", nil, http.StatusUnauthorized, "Unauthenticated"},
		{"wrong password", "", "login", map[string]string{"email": "alice@x.com", "password": "nope"}, http.StatusUnauthorized, "InvalidCredentials"},
		{"unknown email", "", "login", map[string]string{"email": "bob@x.com", "password": "pw"}, http.StatusUnauthorized, "InvalidCredentials"},
		{"duplicate user", "", "addUser", map[string]string{"username": "alice", "email": "a2@x.com", "password": "pw"}, http.StatusConflict, "Conflict"},
		{"unknown operation", "", "deleteEverything", nil, http.StatusBadRequest, "Invalid"},
		{"bad arguments", "", "login", map[string]any{"email": 5}, http.StatusBadRequest, "Invalid"},
		{"overlong password", "", "addUser", map[string]string{"username": "bob", "email": "bob@x.com", "password": strings.Repeat("p", 73)}, http.StatusBadRequest, "Invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := call(t, ts, tt.token, tt.op, tt.vars)
			if status != tt.wantStatus || env.Error == nil || env.Error.Kind != tt.wantKind {
				t.Fatalf("status=%d err=%+v, want %d %s", status, env.Error, tt.wantStatus, tt.wantKind)
			}
			if env.Data != nil {
				t.Fatalf("unexpected data on error: %s", env.Data)
			}
		})
	}
}

func TestLoginErrorMessagesMatch(t *testing.T) {
	ts := newTestServer(t, Config{})
	call(t, ts, "", "addUser", map[string]string{"username": "alice", "email": "alice@x.com", "password": "pw"})
	_, wrong := call(t, ts, "", "login", map[string]string{"email": "alice@x.com", "password": "nope"})
	_, unknown := call(t, ts, "", "login", map[string]string{"email": "nobody@x.com", "password": "pw"})
	if wrong.Error == nil || unknown.Error == nil || wrong.Error.Message != unknown.Error.Message {
		t.Fatalf("login failures differ: %+v vs %+v", wrong.Error, unknown.Error)
	}
}

func TestOperationRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t, Config{})

	status, env := post(t, ts, "", []byte(`{"operationName":`))
	if status != http.StatusBadRequest || env.Error == nil || env.Error.Kind != "Invalid" {
		t.Fatalf("malformed body status=%d err=%+v", status, env.Error)
	}

	resp, err := ts.Client().Get(ts.URL + "/api/operations")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("GET status=%d allow=%q", resp.StatusCode, resp.Header.Get("Allow"))
	}
}

func TestHealthAndReadiness(t *testing.T) {
	var down atomic.Bool
	ts := newTestServer(t, Config{Ready: func(context.Context) error {
		if down.Load() {
			return errors.New("db down")
		}
		return nil
	}})

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := ts.Client().Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status=%d", path, resp.StatusCode)
		}
		if resp.Header.Get("X-Request-Id") == "" || resp.Header.Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("%s missing middleware headers", path)
		}
	}

	down.Store(true)
	resp, err := ts.Client().Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("get readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d, want 503", resp.StatusCode)
	}
}

func TestFailedLoginsAreCountedPerClient(t *testing.T) {
	redis := miniredis.RunT(t)
	monitor, err := security.NewFailureMonitor(security.Config{
		Addr:  redis.Addr(),
		Rules: map[string]security.Rule{"InvalidCredentials": {Threshold: 2, Window: time.Minute}},
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	t.Cleanup(func() { _ = monitor.Close() })
	ts := newTestServer(t, Config{Monitor: monitor})

	for i := 0; i < 3; i++ {
		call(t, ts, "", "login", map[string]string{"email": "nobody@x.com", "password": "pw"})
	}
	keys := redis.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one counter key, got %v", keys)
	}
	count, err := redis.Get(keys[0])
	if err != nil || count != "3" {
		t.Fatalf("counter = %q (%v), want 3", count, err)
	}
}

func TestStatusForKind(t *testing.T) {
	tests := map[app.Kind]int{
		app.KindUnauthenticated:    http.StatusUnauthorized,
		app.KindInvalidCredentials: http.StatusUnauthorized,
		app.KindConflict:           http.StatusConflict,
		app.KindNotFound:           http.StatusNotFound,
		app.KindInvalid:            http.StatusBadRequest,
		app.KindInternal:           http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := statusForKind(kind); got != want {
			t.Fatalf("statusForKind(%s) = %d, want %d", kind, got, want)
		}
	}
}
