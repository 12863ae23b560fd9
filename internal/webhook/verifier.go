package webhook

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"callbridge/internal/config"
	"callbridge/pkg/logger"
)

// Verification errors are deliberately coarse. The boundary maps all of them
// to a 401 without telling the caller which part of validation failed.
var (
	ErrUnknownProvider  = errors.New("webhook: unknown provider")
	ErrSignatureInvalid = errors.New("webhook: signature invalid")
)

const (
	headerTwilioSignature  = "X-Twilio-Signature"
	headerGenericSignature = "X-Webhook-Signature"
	headerTelnyxSignature  = "Telnyx-Signature-Ed25519"
	headerTelnyxTimestamp  = "Telnyx-Timestamp"
)

// Request carries everything a scheme may need to check authenticity.
// RawBody must be the exact bytes read off the wire, before any decoding.
type Request struct {
	RawBody []byte
	Header  http.Header

	// RequestURL is the full public URL of the webhook endpoint, required by
	// the form-signing HMAC scheme.
	RequestURL string
	// Form holds parsed form values for form-encoded providers.
	Form url.Values
}

// Verifier validates inbound webhook authenticity before any payload is trusted.
//
// The signature scheme is an explicit, provider-keyed configuration value.
// A provider with missing key material fails closed unless the degraded
// bypass is active, which is only permitted outside production and is
// logged on every accepted request.
type Verifier struct {
	providers     map[string]config.ProviderWebhookConfig
	keys          map[string]ed25519.PublicKey
	allowUnsigned bool
	production    bool
}

func NewVerifier(cfg config.WebhooksConfig, production bool) (*Verifier, error) {
	v := &Verifier{
		providers:     make(map[string]config.ProviderWebhookConfig, len(cfg.Providers)),
		keys:          make(map[string]ed25519.PublicKey),
		allowUnsigned: cfg.AllowUnsigned && !production,
		production:    production,
	}
	for slug, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		if p.Scheme == config.SchemeEd25519 && p.PublicKeyB64 != "" {
			key, err := base64.StdEncoding.DecodeString(p.PublicKeyB64)
			if err != nil || len(key) != ed25519.PublicKeySize {
				return nil, errors.New("webhook: invalid ed25519 public key for provider " + slug)
			}
			v.keys[slug] = ed25519.PublicKey(key)
		}
		v.providers[slug] = p
	}
	return v, nil
}

// Verify checks the request signature for the named provider.
// A nil return means the payload may be trusted for parsing.
func (v *Verifier) Verify(ctx context.Context, provider string, req Request) error {
	p, ok := v.providers[provider]
	if !ok {
		return ErrUnknownProvider
	}

	if !v.hasKeyMaterial(provider, p) {
		if v.allowUnsigned {
			logger.From(ctx).Warn("accepting unsigned webhook in degraded mode",
				"provider", provider, "scheme", string(p.Scheme))
			return nil
		}
		// Fail closed. Startup validation should have caught this already.
		return ErrSignatureInvalid
	}

	switch p.Scheme {
	case config.SchemeHMACSHA1:
		return v.verifyFormHMAC(p.Secret, req)
	case config.SchemeHMACSHA256:
		return v.verifyBodyHMAC(p.Secret, req)
	case config.SchemeEd25519:
		return v.verifyEd25519(v.keys[provider], req)
	default:
		return ErrSignatureInvalid
	}
}

func (v *Verifier) hasKeyMaterial(provider string, p config.ProviderWebhookConfig) bool {
	switch p.Scheme {
	case config.SchemeEd25519:
		_, ok := v.keys[provider]
		return ok
	default:
		return p.Secret != ""
	}
}

// verifyFormHMAC implements the form-signing scheme: base64 HMAC-SHA1 over the
// full URL concatenated with sorted form keys and values.
func (v *Verifier) verifyFormHMAC(secret string, req Request) error {
	sig := req.Header.Get(headerTwilioSignature)
	if sig == "" || req.RequestURL == "" {
		return ErrSignatureInvalid
	}

	data := req.RequestURL
	keys := make([]string, 0, len(req.Form))
	for k := range req.Form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + req.Form.Get(k)
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(data))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ErrSignatureInvalid
	}
	return nil
}

// verifyBodyHMAC checks a hex HMAC-SHA256 of the raw body.
func (v *Verifier) verifyBodyHMAC(secret string, req Request) error {
	sig := strings.TrimSpace(req.Header.Get(headerGenericSignature))
	if sig == "" {
		return ErrSignatureInvalid
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(req.RawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
		return ErrSignatureInvalid
	}
	return nil
}

// verifyEd25519 checks an asymmetric signature over "timestamp|body".
func (v *Verifier) verifyEd25519(key ed25519.PublicKey, req Request) error {
	sigB64 := req.Header.Get(headerTelnyxSignature)
	ts := req.Header.Get(headerTelnyxTimestamp)
	if sigB64 == "" || ts == "" {
		return ErrSignatureInvalid
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return ErrSignatureInvalid
	}
	msg := make([]byte, 0, len(ts)+1+len(req.RawBody))
	msg = append(msg, ts...)
	msg = append(msg, '|')
	msg = append(msg, req.RawBody...)
	if !ed25519.Verify(key, msg, sig) {
		return ErrSignatureInvalid
	}
	return nil
}
