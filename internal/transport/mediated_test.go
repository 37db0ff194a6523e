package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

func newMediated(t *testing.T, h http.Handler) *MediatedClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return NewMediatedClient(u.Hostname(), port)
}

func TestMediatedClient_Post(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	c := newMediated(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, `{"scenes":{"0":"Home"}}`)
	}))

	data, err := c.Post(context.Background(), "/reolink/scenes", map[string]any{"host": "hub"})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if gotPath != "/reolink/scenes" || gotBody["host"] != "hub" {
		t.Errorf("request = %s %v", gotPath, gotBody)
	}
	if string(data) != `{"scenes":{"0":"Home"}}` {
		t.Errorf("data = %s", data)
	}
}

func TestMediatedClient_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not found", http.StatusNotFound, `{"detail":"Canal 9 non trouvé"}`},
		{"offline", http.StatusServiceUnavailable, `{"detail":"offline"}`},
		{"created is not ok", http.StatusCreated, `{}`},
		{"not json", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newMediated(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			if _, err := c.Post(context.Background(), "/x", struct{}{}); !errors.Is(err, ErrTransportUnreachable) {
				t.Errorf("Post() error = %v, want ErrTransportUnreachable", err)
			}
		})
	}
}

func TestMediatedClient_Ping(t *testing.T) {
	c := newMediated(t, http.NotFoundHandler())
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	down := NewMediatedClient("127.0.0.1", 1)
	if err := down.Ping(context.Background()); !errors.Is(err, ErrTransportUnreachable) {
		t.Errorf("Ping() on closed port error = %v, want ErrTransportUnreachable", err)
	}
}
