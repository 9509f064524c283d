package authctx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubVerifier struct {
	calls int
	valid map[string]string
}

func (s *stubVerifier) Verify(token string) (string, error) {
	s.calls++
	if id, ok := s.valid[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantUser  string
		wantCalls int
	}{
		{name: "missing header", raw: "", wantCalls: 0},
		{name: "bearer prefix only", raw: "Bearer ", wantCalls: 0},
		{name: "bare bearer word", raw: "Bearer", wantCalls: 0},
		{name: "valid bearer", raw: "Bearer good", wantUser: "user-1", wantCalls: 1},
		{name: "lowercase scheme", raw: "bearer good", wantUser: "user-1", wantCalls: 1},
		{name: "bare token", raw: "good", wantUser: "user-1", wantCalls: 1},
		{name: "invalid token", raw: "Bearer bad", wantCalls: 1},
		{name: "other scheme", raw: "Basic good", wantCalls: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &stubVerifier{valid: map[string]string{"good": "user-1"}}
			got := Build(tt.raw, v)
			id, ok := got.UserID()
			if id != tt.wantUser || ok != (tt.wantUser != "") {
				t.Fatalf("Build(%q) = (%q,%v), want %q", tt.raw, id, ok, tt.wantUser)
			}
			if v.calls != tt.wantCalls {
				t.Fatalf("verifier calls = %d, want %d", v.calls, tt.wantCalls)
			}
		})
	}
}

func TestBuildWithNilVerifierIsAnonymous(t *testing.T) {
	if Build("Bearer good", nil).IsAuthenticated() {
		t.Fatalf("expected anonymous context without verifier")
	}
}

func TestFromRequest(t *testing.T) {
	v := &stubVerifier{valid: map[string]string{"good": "user-9"}}
	req := httptest.NewRequest(http.MethodPost, "/api/operations", nil)
	req.Header.Set("Authorization", "Bearer good")
	c := FromRequest(req, v)
	if id, ok := c.UserID(); !ok || id != "user-9" {
		t.Fatalf("unexpected context %v", c)
	}
	if c.String() != "user:user-9" {
		t.Fatalf("String() = %q", c.String())
	}
	if FromRequest(nil, v).IsAuthenticated() {
		t.Fatalf("nil request must be anonymous")
	}
}

func TestAuthenticatedWithEmptyIDIsAnonymous(t *testing.T) {
	if Authenticated("  ").IsAuthenticated() {
		t.Fatalf("empty id must not authenticate")
	}
	if Anonymous().String() != "anonymous" {
		t.Fatalf("unexpected anonymous string")
	}
}
