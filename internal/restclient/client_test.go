package restclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/config"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	host, port := u.Hostname(), u.Port()
	return New(config.APISettings{Protocol: "http", Host: host, Port: port}, 2)
}

func TestLoginStoresBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/login/" {
			w.Write([]byte(`{"access":"tok123"}`))
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	if err := c.Login(context.Background(), "a@b.com", "secret"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if c.token != "tok123" {
		t.Fatalf("token = %q, want tok123", c.token)
	}

	if err := c.UpdateSessionState(context.Background(), "s1", "closed"); err != nil {
		t.Fatalf("update session state failed: %v", err)
	}
	if gotAuth != "Bearer tok123" {
		t.Fatalf("Authorization header = %q, want 'Bearer tok123'", gotAuth)
	}
}

func TestDoJSONRetries5xxThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	if err := c.UpdateSessionState(context.Background(), "s1", "closed"); err != nil {
		t.Fatalf("expected eventual success after retries, got: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (2 failures then success)", attempts)
	}
}

func TestDoJSONDoesNotRetryNon5xxClientError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	err := c.UpdateSessionState(context.Background(), "s1", "closed")
	if err == nil {
		t.Fatal("expected error on 400 response")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on non-5xx)", attempts)
	}
}

func TestDoJSONExhaustsRetriesOnPersistent5xx(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server)
	err := c.UpdateSessionState(context.Background(), "s1", "closed")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (1 + 2 retries)", attempts)
	}
}
