// Package api exposes HTTP handlers for the schedule service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/schedule/internal/auth"
	"example.com/schedule/internal/domain"
	"example.com/schedule/internal/observability"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/schedules", h.schedules)
	mux.HandleFunc("/v1/schedules/", h.scheduleSubtree)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) schedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createSchedule(w, r)
	case http.MethodGet:
		h.listSchedules(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) scheduleSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/schedules/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing schedule id")
		return
	}
	scheduleID := segments[0]

	switch {
	case len(segments) == 1:
		h.requireMethod(w, r, http.MethodGet, func() { h.getSchedule(w, r, scheduleID) })
	case len(segments) == 2 && segments[1] == "visits":
		h.requireMethod(w, r, http.MethodPost, func() { h.addVisit(w, r, scheduleID) })
	case len(segments) == 3 && segments[1] == "visits":
		h.requireMethod(w, r, http.MethodDelete, func() { h.deleteVisit(w, r, scheduleID, segments[2]) })
	case len(segments) == 2 && segments[1] == "activities":
		h.requireMethod(w, r, http.MethodPost, func() { h.addActivity(w, r, scheduleID) })
	case len(segments) == 3 && segments[1] == "activities":
		h.requireMethod(w, r, http.MethodDelete, func() { h.deleteActivity(w, r, scheduleID, segments[2]) })
	case len(segments) == 2 && segments[1] == "cells":
		h.requireMethod(w, r, http.MethodPost, func() { h.setCell(w, r, scheduleID) })
	case len(segments) == 2 && segments[1] == "matrix":
		h.requireMethod(w, r, http.MethodGet, func() { h.getMatrix(w, r, scheduleID) })
	case len(segments) == 2 && segments[1] == "normalized":
		h.requireMethod(w, r, http.MethodGet, func() { h.getNormalized(w, r, scheduleID) })
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (h *Handler) requireMethod(w http.ResponseWriter, r *http.Request, method string, next func()) {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	next()
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeSchedulesWrite)
	if !ok {
		return
	}

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	schedule, err := h.service.CreateSchedule(r.Context(), claims.TenantID, req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleView(*schedule))
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeSchedulesRead, auth.ScopeSchedulesWrite)
	if !ok {
		return
	}

	schedules, err := h.service.ListSchedules(r.Context(), claims.TenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]ScheduleView, 0, len(schedules))
	for _, schedule := range schedules {
		items = append(items, toScheduleView(schedule))
	}
	writeJSON(w, http.StatusOK, ListSchedulesResponse{Items: items})
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request, scheduleID string) {
	claims, ok := requireScope(w, r, auth.ScopeSchedulesRead, auth.ScopeSchedulesWrite)
	if !ok {
		return
	}

	schedule, err := h.service.GetSchedule(r.Context(), claims.TenantID, scheduleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	matrix, err := h.service.Matrix(r.Context(), claims.TenantID, scheduleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ScheduleSummaryResponse{
		ScheduleView: toScheduleView(*schedule),
		Matrix:       toMatrixResponse(*matrix),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) addVisit(w http.ResponseWriter, r *http.Request, scheduleID string) {
	claims, ok := requireScope(w, r, auth.ScopeSchedulesWrite)
	if !ok {
		return
	}

	var req AddVisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	visit, err := h.service.AddVisit(r.Context(), domain.AddVisitInput{
		TenantID:   claims.TenantID,
		ScheduleID: scheduleID,
		Name:       req.Name,
		RawHeader:  req.RawHeader,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AddVisitResponse{VisitID: visit.ID, Position: visit.Position})
}

func (h *Handler) addActivity(w http.ResponseWriter, r *http.Request, scheduleID string) {
	claims, ok := requireScope(w, r, auth.ScopeSchedulesWrite)
	if !ok {
		return
	}

	var req AddActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	activity, err := h.service.AddActivity(r.Context(), domain.AddActivityInput{
		TenantID:   claims.TenantID,
		ScheduleID: scheduleID,
		Name:       req.Name,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AddActivityResponse{ActivityID: activity.ID, Position: activity.Position})
}

func (h *Handler) setCell(w http.ResponseWriter, r *http.Request, scheduleID string) {
	claims, ok := requireScope(w, r, auth.ScopeSchedulesWrite)
	if !ok {
		return
	}

	var req SetCellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	cell, err := h.service.SetCell(r.Context(), domain.SetCellInput{
		TenantID:   claims.TenantID,
		ScheduleID: scheduleID,
		VisitID:    req.VisitID,
		ActivityID: req.ActivityID,
		Status:     req.Status,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SetCellResponse{CellID: cell.ID, Status: cell.Status})
}

func (h *Handler) deleteVisit(w http.ResponseWriter, r *http.Request, scheduleID, visitID string) {
	claims, ok := requireScope(w, r, auth.ScopeSchedulesWrite)
	if !ok {
		return
	}

	if err := h.service.DeleteVisit(r.Context(), claims.TenantID, scheduleID, visitID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted_visit_id": visitID})
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request, scheduleID, activityID string) {
	claims, ok := requireScope(w, r, auth.ScopeSchedulesWrite)
	if !ok {
		return
	}

	if err := h.service.DeleteActivity(r.Context(), claims.TenantID, scheduleID, activityID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted_activity_id": activityID})
}

func (h *Handler) getMatrix(w http.ResponseWriter, r *http.Request, scheduleID string) {
	claims, ok := requireScope(w, r, auth.ScopeSchedulesRead, auth.ScopeSchedulesWrite)
	if !ok {
		return
	}

	matrix, err := h.service.Matrix(r.Context(), claims.TenantID, scheduleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatrixResponse(*matrix))
}

func (h *Handler) getNormalized(w http.ResponseWriter, r *http.Request, scheduleID string) {
	claims, ok := requireScope(w, r, auth.ScopeSchedulesRead, auth.ScopeSchedulesWrite)
	if !ok {
		return
	}

	start := time.Now()
	result, err := h.service.ExportNormalized(r.Context(), claims.TenantID, scheduleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	observability.ObserveExport(time.Since(start))

	writeJSON(w, http.StatusOK, NormalizedResponse{Summary: result.Summary, ArtifactsDir: result.ArtifactsDir})
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrScheduleNotFound),
		errors.Is(err, domain.ErrVisitNotFound),
		errors.Is(err, domain.ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrEmptyMatrix):
		writeError(w, http.StatusUnprocessableEntity, "invalid_state", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
