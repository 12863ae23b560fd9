package telco

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callbridge/internal/calls"
)

func TestOriginate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/calls" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("auth = %q", got)
		}
		w.Write([]byte(`{"data":{"call_control_id":"cc-123"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1", time.Second)
	id, err := c.Originate(context.Background(), "+1555", "+1666", calls.FlowTypeDirect)
	if err != nil {
		t.Fatalf("Originate: %v", err)
	}
	if id != "cc-123" {
		t.Errorf("id = %q, want cc-123", id)
	}
}

func TestProviderErrorMapping(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", time.Second)

	if err := c.Play(context.Background(), "cc-1", "tts:abc"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("429: err = %v, want ErrRateLimited", err)
	}

	status = http.StatusPaymentRequired
	if _, err := c.Originate(context.Background(), "+1", "+2", calls.FlowTypeDirect); !errors.Is(err, ErrPaymentRequired) {
		t.Errorf("402: err = %v, want ErrPaymentRequired", err)
	}

	status = http.StatusInternalServerError
	if err := c.Hangup(context.Background(), "cc-1"); err == nil {
		t.Error("500: want error")
	}
}
