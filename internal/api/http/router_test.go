package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/property-service/internal/api/http/handlers"
	"github.com/spec-kit/property-service/internal/auth"
	"github.com/spec-kit/property-service/internal/domain"
	"github.com/spec-kit/property-service/internal/events"
	"github.com/spec-kit/property-service/internal/idempotency"
	"github.com/spec-kit/property-service/internal/observability"
	"github.com/spec-kit/property-service/internal/repository"
	"github.com/spec-kit/property-service/internal/service"
)

type testServer struct {
	app     *fiber.App
	repo    *countingStore
	tokens  *auth.TokenManager
	metrics *observability.Metrics
}

// countingStore counts ticket writes so replays can be checked for side effects.
type countingStore struct {
	*repository.MemoryStore
	updates int
}

func (s *countingStore) Update(ctx context.Context, ticket *domain.Ticket, expected int64, evts ...domain.TimelineEvent) error {
	if err := s.MemoryStore.Update(ctx, ticket, expected, evts...); err != nil {
		return err
	}
	s.updates++
	return nil
}

type brokenSource struct{}

func (brokenSource) Name() string { return "tickets" }
func (brokenSource) ListJobs(context.Context, domain.JobState, int) ([]domain.QueueJob, error) {
	return nil, errors.New("redis: connection refused")
}
func (brokenSource) GetJob(context.Context, string) (*domain.JobDetail, error) {
	return nil, errors.New("redis: connection refused")
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	store := &countingStore{MemoryStore: repository.NewMemoryStore()}
	dispatcher := events.NewInMemoryDispatcher()
	tokens := auth.NewTokenManager("test-secret", 5)

	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo: store, TimelineRepo: store, Dispatcher: dispatcher, Logger: logger,
	})
	bulk := service.NewBulkService(service.BulkDependencies{
		TicketRepo:       store,
		IdempotencyStore: idempotency.NewMemoryStore(),
		Dispatcher:       dispatcher,
		Metrics:          metrics,
		Logger:           logger,
		MaxItems:         50,
		IdempotencyTTL:   time.Hour,
	})
	inspector := service.NewJobInspector([]service.JobSource{brokenSource{}}, 50, logger)

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("test", "dev", nil),
		Tickets:        handlers.NewTicketsHandler(tickets),
		Bulk:           handlers.NewBulkHandler(bulk, 50, BulkResultKey),
		Jobs:           handlers.NewJobsHandler(inspector),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})
	return &testServer{app: app, repo: store, tokens: tokens, metrics: metrics}
}

func (s *testServer) seed(t *testing.T, id string, status domain.TicketStatus) {
	t.Helper()
	now := time.Now().UTC()
	if err := s.repo.Create(context.Background(), &domain.Ticket{
		ID: id, PropertyID: "p-1", Title: "Broken window", Description: "Glass cracked",
		Category: "glazing", Priority: domain.TicketPriorityHigh, Status: status,
		CreatedBy: "tenant-1", CreatedByRole: domain.RoleTenant, Version: 1, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
}

func (s *testServer) do(t *testing.T, role domain.Role, method, path, body string, headers ...string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, _, err := s.tokens.GenerateToken(domain.Actor{ID: strings.ToLower(string(role)) + "-1", Role: role})
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(raw)
}

func bulkBody(ids ...string) string {
	raw, _ := json.Marshal(map[string]any{"ticketIds": ids, "resolutionNote": "Resolved as duplicate"})
	return string(raw)
}

func TestStatusFor(t *testing.T) {
	if StatusFor(domain.NewBulkResult(0)) != fiber.StatusOK {
		t.Fatalf("empty failures should be 200")
	}
	result := domain.BulkResult{OK: []string{}, Failed: []domain.BulkItemFailure{{ID: "x", Error: domain.BulkErrNotFound}}}
	if StatusFor(result) != fiber.StatusMultiStatus {
		t.Fatalf("any failure should be 207")
	}
}

func TestBulkCloseReturns200WhenAllSucceed(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "t-1", domain.TicketStatusQuoted)

	status, body := s.do(t, domain.RoleLandlord, "POST", "/tickets/bulk/close", bulkBody("t-1"))
	if status != fiber.StatusOK {
		t.Fatalf("status = %d body = %s", status, body)
	}
	if body != `{"ok":["t-1"],"failed":[]}` {
		t.Fatalf("body = %s", body)
	}
	if got := s.metrics.Snapshot()["bulk|close|ok"]; got != 1 {
		t.Fatalf("bulk ok counter = %d", got)
	}
}

func TestBulkCloseReturns207OnPartialFailure(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "t-1", domain.TicketStatusInProgress)
	s.seed(t, "t-2", domain.TicketStatusOpen)

	status, body := s.do(t, domain.RoleOps, "POST", "/tickets/bulk/close", bulkBody("t-1", "t-2", "nope"))
	if status != fiber.StatusMultiStatus {
		t.Fatalf("status = %d body = %s", status, body)
	}
	want := `{"ok":["t-1"],"failed":[{"id":"t-2","error":"INVALID_STATE"},{"id":"nope","error":"NOT_FOUND"}]}`
	if body != want {
		t.Fatalf("body = %s\nwant %s", body, want)
	}
}

func TestBulkIdempotentReplayOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "t-1", domain.TicketStatusApproved)
	s.seed(t, "t-2", domain.TicketStatusOpen)
	payload := bulkBody("t-1", "t-2")

	status1, body1 := s.do(t, domain.RoleOps, "POST", "/tickets/bulk/close", payload, "Idempotency-Key", "abc")
	status2, body2 := s.do(t, domain.RoleOps, "POST", "/tickets/bulk/close", payload, "Idempotency-Key", "abc")
	if status1 != fiber.StatusMultiStatus || status2 != fiber.StatusMultiStatus {
		t.Fatalf("statuses = %d, %d", status1, status2)
	}
	if body1 != body2 {
		t.Fatalf("replay differs:\n%s\n%s", body1, body2)
	}
	if s.repo.updates != 1 {
		t.Fatalf("updates = %d, want 1", s.repo.updates)
	}

	status3, body3 := s.do(t, domain.RoleOps, "POST", "/tickets/bulk/close", bulkBody("t-2"), "Idempotency-Key", "abc")
	if status3 != fiber.StatusConflict || !strings.Contains(body3, "CONFLICT") {
		t.Fatalf("reused key with other payload: %d %s", status3, body3)
	}
}

func TestBulkRejectsOversizedBatch(t *testing.T) {
	s := newTestServer(t)
	ids := make([]string, 51)
	for i := range ids {
		ids[i] = fmt.Sprintf("t-%d", i)
	}
	status, body := s.do(t, domain.RoleOps, "POST", "/tickets/bulk/close", bulkBody(ids...))
	if status != fiber.StatusBadRequest || !strings.Contains(body, "ticketIds") {
		t.Fatalf("status = %d body = %s", status, body)
	}
	status, _ = s.do(t, domain.RoleOps, "POST", "/tickets/bulk/close", bulkBody(ids[:50]...))
	if status != fiber.StatusMultiStatus {
		t.Fatalf("50 ids status = %d", status)
	}
}

func TestBulkUnknownOperationAndAuth(t *testing.T) {
	s := newTestServer(t)
	if status, _ := s.do(t, domain.RoleOps, "POST", "/tickets/bulk/merge", bulkBody("t-1")); status != fiber.StatusNotFound {
		t.Fatalf("unknown operation status = %d", status)
	}
	if status, _ := s.do(t, "", "POST", "/tickets/bulk/close", bulkBody("t-1")); status != fiber.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", status)
	}
}

func TestTicketLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, domain.RoleTenant, "POST", "/tickets",
		`{"propertyId":"p-1","title":"Leaking roof","description":"Water in loft","category":"roofing","priority":"emergency"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("create: %d %s", status, body)
	}
	var created struct {
		Data struct {
			ID       string `json:"id"`
			Priority string `json:"priority"`
		} `json:"data"`
	}
	_ = json.Unmarshal([]byte(body), &created)
	if created.Data.Priority != "URGENT" {
		t.Fatalf("priority alias not normalised: %s", body)
	}

	path := "/tickets/" + created.Data.ID + "/status"
	if status, body := s.do(t, domain.RoleLandlord, "PATCH", path, `{"status":"ASSIGNED"}`); status != fiber.StatusOK || !strings.Contains(body, `"TRIAGED"`) {
		t.Fatalf("triage: %d %s", status, body)
	}
	if status, _ := s.do(t, domain.RoleLandlord, "PATCH", path, `{"status":"AUDITED"}`); status != fiber.StatusUnprocessableEntity {
		t.Fatalf("non-edge transition status = %d", status)
	}
	if status, _ := s.do(t, domain.RoleTenant, "PATCH", path, `{"status":"CANCELLED"}`); status != fiber.StatusForbidden {
		t.Fatalf("tenant cancel of triaged ticket status = %d", status)
	}

	status, body = s.do(t, domain.RoleTenant, "GET", "/tickets/"+created.Data.ID, "")
	if status != fiber.StatusOK || !strings.Contains(body, `"timeline"`) || !strings.Contains(body, "STATUS_CHANGED") {
		t.Fatalf("detail: %d %s", status, body)
	}
	if status, _ := s.do(t, domain.RoleOps, "GET", "/tickets/missing", ""); status != fiber.StatusNotFound {
		t.Fatalf("missing ticket status = %d", status)
	}
}

func TestSearchValidation(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "t-1", domain.TicketStatusOpen)
	if status, body := s.do(t, domain.RoleOps, "GET", "/tickets?q=l", ""); status != fiber.StatusBadRequest || !strings.Contains(body, `"q"`) {
		t.Fatalf("q=l: %d %s", status, body)
	}
	status, body := s.do(t, domain.RoleOps, "GET", "/tickets?q=wi&page_size=100", "")
	if status != fiber.StatusOK || !strings.Contains(body, `"total":1`) {
		t.Fatalf("q=wi: %d %s", status, body)
	}
	if status, _ := s.do(t, domain.RoleOps, "GET", "/tickets?page_size=101", ""); status != fiber.StatusBadRequest {
		t.Fatalf("page_size=101 status = %d", status)
	}
}

func TestJobsEndpointsDegradeAndRequireOps(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, domain.RoleOps, "GET", "/jobs", "")
	if status != fiber.StatusOK || body != `{"data":[]}` {
		t.Fatalf("jobs: %d %s", status, body)
	}
	status, body = s.do(t, domain.RoleOps, "GET", "/jobs/42", "")
	if status != fiber.StatusOK || body != `{"data":null}` {
		t.Fatalf("job: %d %s", status, body)
	}
	if status, _ := s.do(t, domain.RoleLandlord, "GET", "/jobs", ""); status != fiber.StatusForbidden {
		t.Fatalf("landlord jobs status = %d", status)
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, "", "GET", "/nowhere", "")
	if status != fiber.StatusNotFound || !strings.Contains(body, "NOT_FOUND") {
		t.Fatalf("status = %d body = %s", status, body)
	}
}
