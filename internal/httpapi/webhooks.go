package httpapi

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/event"
	"callbridge/internal/webhook"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// WebhookHandler is the unauthenticated provider-facing boundary. Signature
// verification stands in for authentication; nothing in the payload is
// trusted before Verify passes.
type WebhookHandler struct {
	verifier *webhook.Verifier
	service  *calls.Service

	// publicBaseURL rebuilds the exact URL the provider signed, which can
	// differ from the request URL behind a proxy.
	publicBaseURL string
}

func NewWebhookHandler(verifier *webhook.Verifier, service *calls.Service, publicBaseURL string) *WebhookHandler {
	return &WebhookHandler{
		verifier:      verifier,
		service:       service,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Handle processes POST /webhooks/:provider.
//
// Response codes drive provider retry behavior:
//   - 2xx: processed (including noop and ignored) — no retry
//   - 401: signature failed — retrying the same forgery is pointless
//   - 400: malformed payload — a retry sends the same bytes
//   - 404: event for a call we have not seen — retry may land after the
//     initiated event arrives
//   - 5xx: our fault — retry
func (h *WebhookHandler) Handle(c *gin.Context) {
	provider := c.Param("provider")
	log := logger.FromGin(c)

	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	isForm := strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded")
	req := webhook.Request{
		RawBody:    rawBody,
		Header:     c.Request.Header,
		RequestURL: h.requestURL(c),
	}
	if isForm {
		values, err := url.ParseQuery(string(rawBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed form body"})
			return
		}
		req.Form = values
	}

	if err := h.verifier.Verify(c.Request.Context(), provider, req); err != nil {
		if errors.Is(err, webhook.ErrUnknownProvider) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
			return
		}
		log.Warn("webhook signature rejected", "provider", provider)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}

	var ev event.Event
	if isForm {
		ev, err = event.NormalizeForm(provider, rawBody, req.Form, time.Now().UTC())
	} else {
		ev, err = event.NormalizeJSON(provider, rawBody)
	}
	if err != nil {
		var parseErr *event.ParseError
		if errors.As(err, &parseErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "normalization failed"})
		return
	}

	res, err := h.service.Apply(c.Request.Context(), ev)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		log.Error("webhook apply failed", "provider", provider, "event", string(ev.Kind()), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": string(res.Outcome)})
}

func (h *WebhookHandler) requestURL(c *gin.Context) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL + c.Request.URL.RequestURI()
	}
	scheme := "https"
	if c.Request.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}
