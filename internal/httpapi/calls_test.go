package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callbridge/internal/audit"
	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/compliance"
	"callbridge/internal/config"
	"callbridge/internal/injection"
	"callbridge/internal/stream"
	"callbridge/internal/tenants"
	"callbridge/internal/translation"

	"github.com/gin-gonic/gin"
)

type apiFixture struct {
	router    *gin.Engine
	manager   *auth.Manager
	repo      *calls.MemoryRepo
	segments  *translation.MemorySegments
	service   *calls.Service
	subjects  *compliance.MemorySubjects
	decisions *compliance.MemoryDecisions
}

type fixturePlayer struct{}

func (fixturePlayer) Play(ctx context.Context, callControlID, audioRef string) error { return nil }

type fixtureOriginator struct{}

func (fixtureOriginator) Originate(ctx context.Context, from, to string, flow calls.FlowType) (string, error) {
	return "cc-originated", nil
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret"})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	repo := calls.NewMemoryRepo()
	writer := audit.NewWriter(audit.NewMemoryRepo(), nil)
	t.Cleanup(func() { writer.Close(context.Background()) })
	subjects := compliance.NewMemorySubjects()
	decisions := compliance.NewMemoryDecisions()
	gate := compliance.NewGate(
		subjects,
		compliance.NewMemoryCounter(7, 7*24*time.Hour),
		decisions,
		config.ComplianceConfig{ContactCap: 7, ContactWindow: 7 * 24 * time.Hour, WindowStartHour: 0, WindowEndHour: 24},
	)
	service := calls.NewService(repo, gate, tenants.MemoryDirectory{}, writer)
	service.SetOriginator(fixtureOriginator{})

	segments := translation.NewMemorySegments()
	configs := translation.NewMemoryConfigs()
	queue := injection.NewQueue(injection.NewMemoryRepo(), repo, injection.NewMemoryLease(), fixturePlayer{}, writer)
	gateway := stream.NewGateway(repo, segments, time.Millisecond, 3)

	callsHandler := NewCallsHandler(service, segments, configs, queue)
	streamHandler := NewStreamHandler(gateway, service)

	router := gin.New()
	authed := router.Group("/", auth.RequireAccessToken(manager))
	authed.POST("/calls", callsHandler.StartCall)
	authed.GET("/calls", callsHandler.ListCalls)
	authed.GET("/calls/:id", callsHandler.GetCall)
	authed.GET("/calls/:id/segments", callsHandler.ListSegments)
	authed.PUT("/calls/:id/translation", callsHandler.SetTranslationConfig)
	authed.GET("/calls/:id/injections", callsHandler.ListInjections)
	authed.GET("/calls/:id/stream", streamHandler.Handle)

	return &apiFixture{
		router: router, manager: manager, repo: repo, segments: segments,
		service: service, subjects: subjects, decisions: decisions,
	}
}

func (f *apiFixture) token(t *testing.T, tenantID string) string {
	t.Helper()
	tok, err := f.manager.Issue(time.Now(), "user-1", tenantID, "agent", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) seedCall(t *testing.T, tenantID, callID string, status calls.CallStatus) {
	t.Helper()
	_, _, err := f.repo.Insert(context.Background(), calls.Call{
		CallID:        callID,
		TenantID:      tenantID,
		CallControlID: "cc-" + callID,
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed call: %v", err)
	}
}

func TestEndpointsRequireAuth(t *testing.T) {
	f := newAPIFixture(t)
	for _, path := range []string{"/calls", "/calls/x", "/calls/x/segments", "/calls/x/stream"} {
		w := f.do(t, http.MethodGet, path, "", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token: status = %d, want 401", path, w.Code)
		}
	}
}

func TestStartCall(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "tenant-a")

	w := f.do(t, http.MethodPost, "/calls", tok, `{"from":"+15550001111","to":"+15557774444","flow_type":"bridge"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var created calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.TenantID != "tenant-a" || created.Status != calls.CallStatusPending {
		t.Errorf("created = %+v", created)
	}
	if created.CallControlID != "cc-originated" {
		t.Errorf("call_control_id = %q", created.CallControlID)
	}

	w = f.do(t, http.MethodPost, "/calls", tok, `{"from":"+15550001111"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing to: status = %d, want 400", w.Code)
	}
}

func TestStartCallHeldSubjectIsRefused(t *testing.T) {
	f := newAPIFixture(t)
	f.subjects.Put(compliance.Subject{
		TenantID: "tenant-a", SubjectID: "+15557774444",
		Timezone: "UTC", HoldActive: true, HoldReason: "dispute",
	})

	w := f.do(t, http.MethodPost, "/calls", f.token(t, "tenant-a"),
		`{"from":"+15550001111","to":"+15557774444"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403; body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Call calls.Call `json:"call"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Call.Status != calls.CallStatusFailed || resp.Call.FailReason != calls.FailReasonComplianceBlocked {
		t.Errorf("call = %s/%q, want failed/compliance_blocked", resp.Call.Status, resp.Call.FailReason)
	}

	// The block decision is on record and no provider ref exists: the
	// subject was never dialed.
	ds := f.decisions.Decisions()
	if len(ds) != 1 || ds[0].Decision != compliance.OutcomeBlock || ds[0].ReasonCode != compliance.ReasonHoldActive {
		t.Fatalf("decisions = %+v, want one hold_active block", ds)
	}
	if resp.Call.CallControlID != "" {
		t.Errorf("blocked call carries provider ref %q", resp.Call.CallControlID)
	}
}

func TestGetCallTenantIsolation(t *testing.T) {
	f := newAPIFixture(t)
	f.seedCall(t, "tenant-a", "call-1", calls.CallStatusInProgress)

	w := f.do(t, http.MethodGet, "/calls/call-1", f.token(t, "tenant-a"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("owner read: status = %d", w.Code)
	}

	// A foreign tenant sees the same 404 as for a nonexistent call.
	w = f.do(t, http.MethodGet, "/calls/call-1", f.token(t, "tenant-b"), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign read: status = %d, want 404", w.Code)
	}
	w = f.do(t, http.MethodGet, "/calls/nonesuch", f.token(t, "tenant-b"), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing read: status = %d, want 404", w.Code)
	}
}

func TestListSegmentsOrdered(t *testing.T) {
	f := newAPIFixture(t)
	f.seedCall(t, "tenant-a", "call-1", calls.CallStatusCompleted)
	for _, idx := range []int{2, 0, 1} {
		f.segments.Append(context.Background(), translation.Segment{
			TenantID: "tenant-a", CallID: "call-1", SegmentIndex: idx,
			SourceText: "s", TranslatedText: "t",
		})
	}

	w := f.do(t, http.MethodGet, "/calls/call-1/segments", f.token(t, "tenant-a"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Segments []translation.Segment `json:"segments"`
		Count    int                   `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 3 {
		t.Fatalf("count = %d, want 3", resp.Count)
	}
	for i, s := range resp.Segments {
		if s.SegmentIndex != i {
			t.Errorf("segments[%d].index = %d, want %d", i, s.SegmentIndex, i)
		}
	}
}

func TestSetTranslationConfigValidation(t *testing.T) {
	f := newAPIFixture(t)
	f.seedCall(t, "tenant-a", "call-1", calls.CallStatusInProgress)
	tok := f.token(t, "tenant-a")

	w := f.do(t, http.MethodPut, "/calls/call-1/translation", tok, `{"enabled":true,"source_lang":"es"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing target_lang: status = %d, want 400", w.Code)
	}

	w = f.do(t, http.MethodPut, "/calls/call-1/translation", tok, `{"enabled":true,"source_lang":"es","target_lang":"en"}`)
	if w.Code != http.StatusOK {
		t.Errorf("valid config: status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestStreamEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.seedCall(t, "tenant-a", "call-1", calls.CallStatusCompleted)
	f.segments.Append(context.Background(), translation.Segment{
		TenantID: "tenant-a", CallID: "call-1", SegmentIndex: 0,
		SourceText: "hola", TranslatedText: "hello",
	})

	w := f.do(t, http.MethodGet, "/calls/call-1/stream", f.token(t, "tenant-a"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content-type = %q", ct)
	}
	out := w.Body.String()
	if !strings.Contains(out, "event: segment") || !strings.Contains(out, `"status":"completed"`) {
		t.Errorf("stream body missing frames:\n%s", out)
	}

	w = f.do(t, http.MethodGet, "/calls/call-1/stream", f.token(t, "tenant-b"), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign stream: status = %d, want 404", w.Code)
	}
}
