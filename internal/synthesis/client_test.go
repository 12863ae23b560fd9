package synthesis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSynthesizeStoresAudioAndReturnsStableRef(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		w.Write([]byte("fake-ulaw-bytes"))
	}))
	defer srv.Close()

	store := NewMemoryStore()
	c := NewClient(srv.URL, "key-123", "voice-default", time.Second, store)

	ref1, err := c.Synthesize(context.Background(), "hello there", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !strings.HasPrefix(ref1, "tts:") {
		t.Errorf("ref = %q, want tts: prefix", ref1)
	}
	if gotPath != "/v1/text-to-speech/voice-default" {
		t.Errorf("path = %q, want default voice in path", gotPath)
	}
	if gotKey != "key-123" {
		t.Errorf("xi-api-key = %q", gotKey)
	}
	if audio, err := store.Get(context.Background(), ref1); err != nil || string(audio) != "fake-ulaw-bytes" {
		t.Errorf("stored audio = %q, %v", audio, err)
	}

	// Same text and voice yields the same reference.
	ref2, err := c.Synthesize(context.Background(), "hello there", "")
	if err != nil {
		t.Fatalf("Synthesize again: %v", err)
	}
	if ref1 != ref2 {
		t.Errorf("refs differ for identical input: %q vs %q", ref1, ref2)
	}
}

func TestSynthesizeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "voice", time.Second, NewMemoryStore())

	if _, err := c.Synthesize(context.Background(), "  ", "voice"); err != ErrEmptyText {
		t.Errorf("empty text: err = %v, want ErrEmptyText", err)
	}
	if _, err := c.Synthesize(context.Background(), "hi", "voice"); err == nil {
		t.Error("want error on non-200 response")
	}
}
