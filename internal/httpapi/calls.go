package httpapi

import (
	"errors"
	"net/http"
	"time"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/injection"
	"callbridge/internal/translation"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallsHandler serves the authenticated client-facing call endpoints.
// Every query is scoped by the tenant from the verified token; the call id
// in the path is never trusted on its own.
type CallsHandler struct {
	service  *calls.Service
	segments translation.SegmentRepo
	configs  translation.ConfigStore
	queue    *injection.Queue
}

func NewCallsHandler(service *calls.Service, segments translation.SegmentRepo, configs translation.ConfigStore, queue *injection.Queue) *CallsHandler {
	return &CallsHandler{service: service, segments: segments, configs: configs, queue: queue}
}

type startCallRequest struct {
	From     string `json:"from" binding:"required"`
	To       string `json:"to" binding:"required"`
	FlowType string `json:"flow_type"`
}

// StartCall handles POST /calls.
func (h *CallsHandler) StartCall(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to are required"})
		return
	}

	call, err := h.service.StartOutbound(c.Request.Context(), tenantID, req.From, req.To, calls.FlowType(req.FlowType))
	if err != nil {
		if errors.Is(err, calls.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call parameters"})
			return
		}
		if errors.Is(err, calls.ErrComplianceBlocked) {
			// The refused call row is returned so the client can inspect it.
			c.JSON(http.StatusForbidden, gin.H{"error": "contact blocked by compliance policy", "call": call})
			return
		}
		logger.FromGin(c).Error("start call failed", "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "call could not be started"})
		return
	}
	c.JSON(http.StatusCreated, call)
}

// GetCall handles GET /calls/:id.
func (h *CallsHandler) GetCall(c *gin.Context) {
	_, call, ok := h.ownCall(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, call)
}

// ListCalls handles GET /calls?from=...&to=...
func (h *CallsHandler) ListCalls(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	from, to, err := timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.service.ListCalls(c.Request.Context(), tenantID, from, to)
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list calls"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out, "count": len(out)})
}

// ListSegments handles GET /calls/:id/segments — the call's translation
// history, ordered by segment index.
func (h *CallsHandler) ListSegments(c *gin.Context) {
	tenantID, call, ok := h.ownCall(c)
	if !ok {
		return
	}

	segs, err := h.segments.ListByCall(c.Request.Context(), tenantID, call.CallID)
	if err != nil {
		logger.FromGin(c).Error("list segments failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list segments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"segments": segs, "count": len(segs)})
}

type translationConfigRequest struct {
	Enabled    bool   `json:"enabled"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Synthesize bool   `json:"synthesize"`
	VoiceID    string `json:"voice_id"`
}

// SetTranslationConfig handles PUT /calls/:id/translation.
func (h *CallsHandler) SetTranslationConfig(c *gin.Context) {
	tenantID, call, ok := h.ownCall(c)
	if !ok {
		return
	}

	var req translationConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}
	if req.Enabled && (req.SourceLang == "" || req.TargetLang == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_lang and target_lang are required when enabled"})
		return
	}

	cfg := translation.CallConfig{
		TenantID:   tenantID,
		CallID:     call.CallID,
		Enabled:    req.Enabled,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Synthesize: req.Synthesize,
		VoiceID:    req.VoiceID,
	}
	if err := h.configs.Set(c.Request.Context(), cfg); err != nil {
		logger.FromGin(c).Error("set translation config failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save config"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// ListInjections handles GET /calls/:id/injections.
func (h *CallsHandler) ListInjections(c *gin.Context) {
	tenantID, call, ok := h.ownCall(c)
	if !ok {
		return
	}

	items, err := h.queue.ListByCall(c.Request.Context(), tenantID, call.CallID)
	if err != nil {
		logger.FromGin(c).Error("list injections failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// ownCall loads the path call scoped to the caller's tenant. A foreign
// tenant's call id yields the same 404 as a nonexistent one.
func (h *CallsHandler) ownCall(c *gin.Context) (string, calls.Call, bool) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", calls.Call{}, false
	}
	call, err := h.service.GetCall(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) || errors.Is(err, calls.ErrInvalidArgument) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return "", calls.Call{}, false
		}
		logger.FromGin(c).Error("call lookup failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return "", calls.Call{}, false
	}
	return tenantID, call, true
}

func timeRange(c *gin.Context) (time.Time, time.Time, error) {
	from := time.Now().UTC().Add(-24 * time.Hour)
	to := time.Now().UTC().Add(time.Minute)

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC3339")
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC3339")
		}
		to = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}
