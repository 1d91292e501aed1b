package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/schedule/internal/auth"
	"example.com/schedule/internal/domain"
)

type mockRepo struct {
	schedules []domain.Schedule
	matrix    *domain.Matrix
	visitErr  error
	deleteErr error
}

func (m *mockRepo) CreateSchedule(ctx context.Context, schedule domain.Schedule) error {
	m.schedules = append(m.schedules, schedule)
	return nil
}

func (m *mockRepo) GetSchedule(ctx context.Context, tenantID, scheduleID string) (*domain.Schedule, error) {
	for _, schedule := range m.schedules {
		if schedule.ID == scheduleID && schedule.TenantID == tenantID {
			return &schedule, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) ListSchedules(ctx context.Context, tenantID string) ([]domain.Schedule, error) {
	var out []domain.Schedule
	for _, schedule := range m.schedules {
		if schedule.TenantID == tenantID {
			out = append(out, schedule)
		}
	}
	return out, nil
}

func (m *mockRepo) AddVisit(ctx context.Context, tenantID string, visit domain.Visit) (int, error) {
	if m.visitErr != nil {
		return 0, m.visitErr
	}
	return 1, nil
}

func (m *mockRepo) AddActivity(ctx context.Context, tenantID string, activity domain.Activity) (int, error) {
	return 1, nil
}

func (m *mockRepo) UpsertCell(ctx context.Context, tenantID string, cell domain.Cell) (domain.Cell, error) {
	return cell, nil
}

func (m *mockRepo) DeleteVisit(ctx context.Context, tenantID, scheduleID, visitID string) error {
	return m.deleteErr
}

func (m *mockRepo) DeleteActivity(ctx context.Context, tenantID, scheduleID, activityID string) error {
	return m.deleteErr
}

func (m *mockRepo) Matrix(ctx context.Context, tenantID, scheduleID string) (*domain.Matrix, error) {
	if m.matrix == nil {
		return &domain.Matrix{}, nil
	}
	return m.matrix, nil
}

func authedRequest(method, target string, body string, scopes ...string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scopeSet[scope] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:   "tester",
		TenantID:  "tenant-1",
		Scopes:    scopeSet,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func newTestHandler(repo domain.ScheduleRepository) *Handler {
	return NewHandler(domain.NewService(repo, failingWriter{}, nil, ""))
}

// failingWriter stands in for the serializer; handler tests that exercise the
// normalize path rely on it returning the empty-matrix error.
type failingWriter struct{}

func (failingWriter) Write(matrix domain.Matrix, path string) error {
	return domain.ErrEmptyMatrix
}

func TestCreateScheduleSuccess(t *testing.T) {
	repo := &mockRepo{}
	handler := newTestHandler(repo)

	req := authedRequest(http.MethodPost, "/v1/schedules", `{"name":"Trial X"}`, auth.ScopeSchedulesWrite)
	rr := httptest.NewRecorder()
	handler.schedules(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ScheduleView
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Name != "Trial X" || resp.ScheduleID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(repo.schedules) != 1 || repo.schedules[0].TenantID != "tenant-1" {
		t.Fatalf("schedule not persisted for tenant: %+v", repo.schedules)
	}
}

func TestCreateScheduleRequiresWriteScope(t *testing.T) {
	handler := newTestHandler(&mockRepo{})

	req := authedRequest(http.MethodPost, "/v1/schedules", `{"name":"Trial X"}`, auth.ScopeSchedulesRead)
	rr := httptest.NewRecorder()
	handler.schedules(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestCreateScheduleRequiresToken(t *testing.T) {
	handler := newTestHandler(&mockRepo{})

	req := httptest.NewRequest(http.MethodPost, "/v1/schedules", strings.NewReader(`{"name":"Trial X"}`))
	rr := httptest.NewRecorder()
	handler.schedules(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	handler := newTestHandler(&mockRepo{})

	req := authedRequest(http.MethodPost, "/v1/schedules", `{"name":"  "}`, auth.ScopeSchedulesWrite)
	rr := httptest.NewRecorder()
	handler.schedules(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestListSchedulesScopedToTenant(t *testing.T) {
	repo := &mockRepo{schedules: []domain.Schedule{
		{ID: "s1", TenantID: "tenant-1", Name: "Trial X", CreatedAt: time.Now().UTC()},
		{ID: "s2", TenantID: "tenant-2", Name: "Trial Y", CreatedAt: time.Now().UTC()},
	}}
	handler := newTestHandler(repo)

	req := authedRequest(http.MethodGet, "/v1/schedules", "", auth.ScopeSchedulesRead)
	rr := httptest.NewRecorder()
	handler.schedules(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp ListSchedulesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ScheduleID != "s1" {
		t.Fatalf("expected only the caller's schedules, got %+v", resp.Items)
	}
}

func TestSetCellValidation(t *testing.T) {
	handler := newTestHandler(&mockRepo{})

	req := authedRequest(http.MethodPost, "/v1/schedules/s1/cells", `{"activity_id":"a1","status":"X"}`, auth.ScopeSchedulesWrite)
	rr := httptest.NewRecorder()
	handler.scheduleSubtree(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSetCellAllowsEmptyStatus(t *testing.T) {
	handler := newTestHandler(&mockRepo{})

	req := authedRequest(http.MethodPost, "/v1/schedules/s1/cells", `{"visit_id":"v1","activity_id":"a1","status":""}`, auth.ScopeSchedulesWrite)
	rr := httptest.NewRecorder()
	handler.scheduleSubtree(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp SetCellResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "" || resp.CellID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestDeleteVisitNotFound(t *testing.T) {
	repo := &mockRepo{deleteErr: fmt.Errorf("visit v9 in schedule s1: %w", domain.ErrVisitNotFound)}
	handler := newTestHandler(repo)

	req := authedRequest(http.MethodDelete, "/v1/schedules/s1/visits/v9", "", auth.ScopeSchedulesWrite)
	rr := httptest.NewRecorder()
	handler.scheduleSubtree(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestGetMatrixReadScope(t *testing.T) {
	repo := &mockRepo{matrix: &domain.Matrix{
		Visits:     []domain.Visit{{ID: "v1", ScheduleID: "s1", Name: "Screening", RawHeader: "Screening", Position: 1}},
		Activities: []domain.Activity{{ID: "a1", ScheduleID: "s1", Name: "Consent", Position: 1}},
		Cells:      []domain.Cell{{ID: "c1", ScheduleID: "s1", VisitID: "v1", ActivityID: "a1", Status: "X"}},
	}}
	handler := newTestHandler(repo)

	req := authedRequest(http.MethodGet, "/v1/schedules/s1/matrix", "", auth.ScopeSchedulesRead)
	rr := httptest.NewRecorder()
	handler.scheduleSubtree(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp MatrixResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Visits) != 1 || len(resp.Activities) != 1 || len(resp.Cells) != 1 {
		t.Fatalf("unexpected matrix %+v", resp)
	}
	if resp.Visits[0].Position != 1 || resp.Cells[0].Status != "X" {
		t.Fatalf("unexpected matrix contents %+v", resp)
	}
}

func TestNormalizedEmptyMatrixMapsToUnprocessable(t *testing.T) {
	handler := newTestHandler(&mockRepo{})

	req := authedRequest(http.MethodGet, "/v1/schedules/s1/normalized", "", auth.ScopeSchedulesRead)
	rr := httptest.NewRecorder()
	handler.scheduleSubtree(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["type"] != "invalid_state" {
		t.Fatalf("expected invalid_state error type, got %q", resp["type"])
	}
}

func TestUnknownSubresource(t *testing.T) {
	handler := newTestHandler(&mockRepo{})

	req := authedRequest(http.MethodGet, "/v1/schedules/s1/unknown", "", auth.ScopeSchedulesRead)
	rr := httptest.NewRecorder()
	handler.scheduleSubtree(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(&mockRepo{})

	req := authedRequest(http.MethodPut, "/v1/schedules", `{}`, auth.ScopeSchedulesWrite)
	rr := httptest.NewRecorder()
	handler.schedules(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rr.Code)
	}
}
