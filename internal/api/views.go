package api

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"example.com/schedule/internal/domain"
)

// CreateScheduleRequest is the payload for POST /v1/schedules.
type CreateScheduleRequest struct {
	Name string `json:"name"`
}

// Validate ensures request correctness.
func (r CreateScheduleRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

// AddVisitRequest is the payload for POST /v1/schedules/{id}/visits.
type AddVisitRequest struct {
	Name      string `json:"name"`
	RawHeader string `json:"raw_header,omitempty"`
}

// Validate ensures request correctness.
func (r AddVisitRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

// AddActivityRequest is the payload for POST /v1/schedules/{id}/activities.
type AddActivityRequest struct {
	Name string `json:"name"`
}

// Validate ensures request correctness.
func (r AddActivityRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

// SetCellRequest is the payload for POST /v1/schedules/{id}/cells. An empty
// status is a valid value: it clears the marker while keeping the cell.
type SetCellRequest struct {
	VisitID    string `json:"visit_id"`
	ActivityID string `json:"activity_id"`
	Status     string `json:"status"`
}

// Validate ensures request correctness.
func (r SetCellRequest) Validate() error {
	if strings.TrimSpace(r.VisitID) == "" {
		return errors.New("visit_id is required")
	}
	if strings.TrimSpace(r.ActivityID) == "" {
		return errors.New("activity_id is required")
	}
	return nil
}

// ScheduleView exposes schedule container details.
type ScheduleView struct {
	ScheduleID string    `json:"schedule_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListSchedulesResponse packages list results.
type ListSchedulesResponse struct {
	Items []ScheduleView `json:"items"`
}

// AddVisitResponse describes the response body for visit creation.
type AddVisitResponse struct {
	VisitID  string `json:"visit_id"`
	Position int    `json:"position"`
}

// AddActivityResponse describes the response body for activity creation.
type AddActivityResponse struct {
	ActivityID string `json:"activity_id"`
	Position   int    `json:"position"`
}

// SetCellResponse describes the response body for a cell upsert.
type SetCellResponse struct {
	CellID string `json:"cell_id"`
	Status string `json:"status"`
}

// VisitView exposes one visit column.
type VisitView struct {
	VisitID   string `json:"visit_id"`
	Name      string `json:"name"`
	RawHeader string `json:"raw_header"`
	Position  int    `json:"position"`
}

// ActivityView exposes one activity row.
type ActivityView struct {
	ActivityID string `json:"activity_id"`
	Name       string `json:"name"`
	Position   int    `json:"position"`
}

// CellView exposes one cell value.
type CellView struct {
	CellID     string `json:"cell_id"`
	VisitID    string `json:"visit_id"`
	ActivityID string `json:"activity_id"`
	Status     string `json:"status"`
}

// MatrixResponse packages the assembled matrix view.
type MatrixResponse struct {
	Visits     []VisitView    `json:"visits"`
	Activities []ActivityView `json:"activities"`
	Cells      []CellView     `json:"cells"`
}

// ScheduleSummaryResponse merges container details with the matrix view.
type ScheduleSummaryResponse struct {
	ScheduleView
	Matrix MatrixResponse `json:"matrix"`
}

// NormalizedResponse surfaces the pipeline summary and artifact location.
type NormalizedResponse struct {
	Summary      json.RawMessage `json:"summary"`
	ArtifactsDir string          `json:"artifacts_dir"`
}

func toScheduleView(schedule domain.Schedule) ScheduleView {
	return ScheduleView{
		ScheduleID: schedule.ID,
		Name:       schedule.Name,
		CreatedAt:  schedule.CreatedAt,
	}
}

func toMatrixResponse(matrix domain.Matrix) MatrixResponse {
	resp := MatrixResponse{
		Visits:     make([]VisitView, 0, len(matrix.Visits)),
		Activities: make([]ActivityView, 0, len(matrix.Activities)),
		Cells:      make([]CellView, 0, len(matrix.Cells)),
	}
	for _, visit := range matrix.Visits {
		resp.Visits = append(resp.Visits, VisitView{
			VisitID:   visit.ID,
			Name:      visit.Name,
			RawHeader: visit.RawHeader,
			Position:  visit.Position,
		})
	}
	for _, activity := range matrix.Activities {
		resp.Activities = append(resp.Activities, ActivityView{
			ActivityID: activity.ID,
			Name:       activity.Name,
			Position:   activity.Position,
		})
	}
	for _, cell := range matrix.Cells {
		resp.Cells = append(resp.Cells, CellView{
			CellID:     cell.ID,
			VisitID:    cell.VisitID,
			ActivityID: cell.ActivityID,
			Status:     cell.Status,
		})
	}
	return resp
}
