package webhook

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/url"
	"testing"

	"callbridge/internal/config"
)

func twilioSign(secret, fullURL string, form url.Values) string {
	data := fullURL
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	// Deterministic in tests because only single keys are used per case,
	// mirroring the sorted concatenation in the verifier.
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newTestVerifier(t *testing.T, cfg config.WebhooksConfig, production bool) *Verifier {
	t.Helper()
	v, err := NewVerifier(cfg, production)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	return v
}

func TestVerify_FormHMAC(t *testing.T) {
	const secret = "tw-secret"
	v := newTestVerifier(t, config.WebhooksConfig{
		Providers: map[string]config.ProviderWebhookConfig{
			"twilio": {Enabled: true, Scheme: config.SchemeHMACSHA1, Secret: secret},
		},
	}, true)

	form := url.Values{}
	form.Set("CallSid", "CA123")
	fullURL := "https://api.example.com/webhooks/twilio/calls"

	h := http.Header{}
	h.Set("X-Twilio-Signature", twilioSign(secret, fullURL, form))

	err := v.Verify(context.Background(), "twilio", Request{
		Header:     h,
		RequestURL: fullURL,
		Form:       form,
	})
	if err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	h.Set("X-Twilio-Signature", "bogus")
	err = v.Verify(context.Background(), "twilio", Request{
		Header:     h,
		RequestURL: fullURL,
		Form:       form,
	})
	if err == nil {
		t.Fatalf("expected invalid signature to be rejected")
	}
}

func TestVerify_BodyHMACSHA256(t *testing.T) {
	const secret = "hmac-secret"
	v := newTestVerifier(t, config.WebhooksConfig{
		Providers: map[string]config.ProviderWebhookConfig{
			"acme": {Enabled: true, Scheme: config.SchemeHMACSHA256, Secret: secret},
		},
	}, true)

	body := []byte(`{"event":"call.initiated"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	h := http.Header{}
	h.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))

	if err := v.Verify(context.Background(), "acme", Request{RawBody: body, Header: h}); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	if err := v.Verify(context.Background(), "acme", Request{RawBody: []byte("tampered"), Header: h}); err == nil {
		t.Fatalf("expected tampered body to be rejected")
	}
}

func TestVerify_Ed25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	v := newTestVerifier(t, config.WebhooksConfig{
		Providers: map[string]config.ProviderWebhookConfig{
			"telnyx": {
				Enabled:      true,
				Scheme:       config.SchemeEd25519,
				PublicKeyB64: base64.StdEncoding.EncodeToString(pub),
			},
		},
	}, true)

	body := []byte(`{"data":{"event_type":"call.initiated"}}`)
	ts := "1700000000"
	msg := append(append([]byte(ts), '|'), body...)
	sig := ed25519.Sign(priv, msg)

	h := http.Header{}
	h.Set("Telnyx-Signature-Ed25519", base64.StdEncoding.EncodeToString(sig))
	h.Set("Telnyx-Timestamp", ts)

	if err := v.Verify(context.Background(), "telnyx", Request{RawBody: body, Header: h}); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	h.Set("Telnyx-Timestamp", "1700000001")
	if err := v.Verify(context.Background(), "telnyx", Request{RawBody: body, Header: h}); err == nil {
		t.Fatalf("expected timestamp mismatch to be rejected")
	}
}

func TestVerify_FailsClosedWithoutSecret(t *testing.T) {
	v := newTestVerifier(t, config.WebhooksConfig{
		Providers: map[string]config.ProviderWebhookConfig{
			"twilio": {Enabled: true, Scheme: config.SchemeHMACSHA1},
		},
	}, true)

	err := v.Verify(context.Background(), "twilio", Request{Header: http.Header{}})
	if err == nil {
		t.Fatalf("expected missing secret to fail closed")
	}
}

func TestVerify_DegradedBypassOutsideProduction(t *testing.T) {
	v := newTestVerifier(t, config.WebhooksConfig{
		Providers: map[string]config.ProviderWebhookConfig{
			"twilio": {Enabled: true, Scheme: config.SchemeHMACSHA1},
		},
		AllowUnsigned: true,
	}, false)

	if err := v.Verify(context.Background(), "twilio", Request{Header: http.Header{}}); err != nil {
		t.Fatalf("expected degraded bypass to accept, got %v", err)
	}

	// The same config in production must still fail closed.
	prod := newTestVerifier(t, config.WebhooksConfig{
		Providers: map[string]config.ProviderWebhookConfig{
			"twilio": {Enabled: true, Scheme: config.SchemeHMACSHA1},
		},
		AllowUnsigned: true,
	}, true)
	if err := prod.Verify(context.Background(), "twilio", Request{Header: http.Header{}}); err == nil {
		t.Fatalf("expected production to ignore the bypass")
	}
}

func TestVerify_UnknownProvider(t *testing.T) {
	v := newTestVerifier(t, config.WebhooksConfig{}, true)
	if err := v.Verify(context.Background(), "nope", Request{}); err != ErrUnknownProvider {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
