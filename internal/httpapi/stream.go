package httpapi

import (
	"errors"
	"net/http"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/stream"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StreamHandler bridges the SSE gateway onto gin.
type StreamHandler struct {
	gateway *stream.Gateway
	service *calls.Service
}

func NewStreamHandler(gateway *stream.Gateway, service *calls.Service) *StreamHandler {
	return &StreamHandler{gateway: gateway, service: service}
}

// Handle serves GET /calls/:id/stream.
func (h *StreamHandler) Handle(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// Ownership check happens before any SSE header goes out, so a foreign
	// or unknown call gets a clean JSON 404.
	callID := c.Param("id")
	if _, err := h.service.GetCall(c.Request.Context(), tenantID, callID); err != nil {
		if errors.Is(err, calls.ErrNotFound) || errors.Is(err, calls.ErrInvalidArgument) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		logger.FromGin(c).Error("stream call lookup failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	flush := func() { c.Writer.Flush() }
	if err := h.gateway.Stream(c.Request.Context(), c.Writer, flush, tenantID, callID); err != nil {
		logger.FromGin(c).Error("stream ended with error", "err", err)
	}
}
