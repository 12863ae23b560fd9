package httpapi

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callbridge/internal/audit"
	"callbridge/internal/calls"
	"callbridge/internal/compliance"
	"callbridge/internal/config"
	"callbridge/internal/tenants"
	"callbridge/internal/webhook"

	"github.com/gin-gonic/gin"
)

type webhookFixture struct {
	router  *gin.Engine
	priv    ed25519.PrivateKey
	service *calls.Service
	repo    *calls.MemoryRepo
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	verifier, err := webhook.NewVerifier(config.WebhooksConfig{
		Providers: map[string]config.ProviderWebhookConfig{
			"telnyx": {
				Enabled:      true,
				Scheme:       config.SchemeEd25519,
				PublicKeyB64: base64.StdEncoding.EncodeToString(pub),
			},
		},
	}, true)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	repo := calls.NewMemoryRepo()
	writer := audit.NewWriter(audit.NewMemoryRepo(), nil)
	t.Cleanup(func() { writer.Close(context.Background()) })
	gate := compliance.NewGate(
		compliance.NewMemorySubjects(),
		compliance.NewMemoryCounter(7, 7*24*time.Hour),
		compliance.NewMemoryDecisions(),
		config.ComplianceConfig{
			ContactCap:      7,
			ContactWindow:   7 * 24 * time.Hour,
			WindowStartHour: 0,
			WindowEndHour:   24,
		},
	)
	directory := tenants.MemoryDirectory{"+15550001111": "tenant-a"}
	service := calls.NewService(repo, gate, directory, writer)

	h := NewWebhookHandler(verifier, service, "https://api.example.com")
	router := gin.New()
	router.POST("/webhooks/:provider", h.Handle)

	return &webhookFixture{router: router, priv: priv, service: service, repo: repo}
}

func (f *webhookFixture) post(t *testing.T, provider, body string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sign {
		ts := fmt.Sprintf("%d", time.Now().Unix())
		sig := ed25519.Sign(f.priv, []byte(ts+"|"+body))
		req.Header.Set("Telnyx-Timestamp", ts)
		req.Header.Set("Telnyx-Signature-Ed25519", base64.StdEncoding.EncodeToString(sig))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func initiatedBody(controlID string) string {
	return fmt.Sprintf(`{"data":{"event_type":"call.initiated","occurred_at":"2025-06-01T15:00:00Z","payload":{"call_control_id":%q,"direction":"incoming","from":"+15557779999","to":"+15550001111"}}}`, controlID)
}

func TestWebhookVerifiedAndApplied(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(t, "telnyx", initiatedBody("cc-1"), true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"outcome":"applied"`) {
		t.Errorf("body = %s, want applied outcome", w.Body.String())
	}

	// The call row exists under the resolved tenant.
	out, err := f.repo.List(context.Background(), "tenant-a", time.Time{}, time.Now().Add(time.Hour))
	if err != nil || len(out) != 1 {
		t.Fatalf("calls = %v, %v", out, err)
	}
	if out[0].Status != calls.CallStatusRinging {
		t.Errorf("status = %s, want ringing", out[0].Status)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(t, "telnyx", initiatedBody("cc-2"), false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned: status = %d, want 401", w.Code)
	}

	// Tampered body with a signature for different bytes.
	body := initiatedBody("cc-3")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telnyx", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ts := fmt.Sprintf("%d", time.Now().Unix())
	sig := ed25519.Sign(f.priv, []byte(ts+"|"+`{"other":"bytes"}`))
	req.Header.Set("Telnyx-Timestamp", ts)
	req.Header.Set("Telnyx-Signature-Ed25519", base64.StdEncoding.EncodeToString(sig))
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("tampered: status = %d, want 401", w.Code)
	}

	// Nothing was created either way.
	out, _ := f.repo.List(context.Background(), "tenant-a", time.Time{}, time.Now().Add(time.Hour))
	if len(out) != 0 {
		t.Errorf("unverified webhook created %d call rows", len(out))
	}
}

func TestWebhookUnknownProvider(t *testing.T) {
	f := newWebhookFixture(t)
	w := f.post(t, "nonesuch", initiatedBody("cc-1"), false)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestWebhookMalformedPayload(t *testing.T) {
	f := newWebhookFixture(t)
	w := f.post(t, "telnyx", `{"data":`, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWebhookUnknownEventTypeIsAcked(t *testing.T) {
	f := newWebhookFixture(t)
	body := `{"data":{"event_type":"call.fork.started","payload":{"call_control_id":"cc-9"}}}`
	w := f.post(t, "telnyx", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 so the provider stops retrying", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"outcome":"ignored"`) {
		t.Errorf("body = %s, want ignored", w.Body.String())
	}
}

func TestWebhookEventForUnknownCallReturns404(t *testing.T) {
	f := newWebhookFixture(t)
	body := `{"data":{"event_type":"call.answered","payload":{"call_control_id":"cc-never-seen"}}}`
	w := f.post(t, "telnyx", body, true)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 so the provider retries later", w.Code)
	}
}
