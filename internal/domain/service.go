// Package domain defines the schedule matrix engine: entities, sentinel
// errors and the service orchestrating repository, serializer and pipeline.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrScheduleNotFound is returned when a schedule cannot be located for the tenant.
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrVisitNotFound is returned when a visit does not belong to the stated schedule.
	ErrVisitNotFound = errors.New("visit not found")
	// ErrActivityNotFound is returned when an activity does not belong to the stated schedule.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrEmptyMatrix indicates an export was attempted with zero visits or zero activities.
	ErrEmptyMatrix = errors.New("cannot serialize without at least one visit and one activity")
)

// ScheduleRepository captures persistence operations. Every mutating call
// runs as one transaction: append assigns the next position, delete cascades
// cells and compacts sibling positions before committing.
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, schedule Schedule) error
	GetSchedule(ctx context.Context, tenantID, scheduleID string) (*Schedule, error)
	ListSchedules(ctx context.Context, tenantID string) ([]Schedule, error)
	AddVisit(ctx context.Context, tenantID string, visit Visit) (int, error)
	AddActivity(ctx context.Context, tenantID string, activity Activity) (int, error)
	UpsertCell(ctx context.Context, tenantID string, cell Cell) (Cell, error)
	DeleteVisit(ctx context.Context, tenantID, scheduleID, visitID string) error
	DeleteActivity(ctx context.Context, tenantID, scheduleID, activityID string) error
	Matrix(ctx context.Context, tenantID, scheduleID string) (*Matrix, error)
}

// WideTableWriter serializes a matrix snapshot into a dense table file.
type WideTableWriter interface {
	Write(matrix Matrix, path string) error
}

// Normalizer is the downstream normalization pipeline. The summary it returns
// is opaque to the engine and surfaced to callers unmodified.
type Normalizer interface {
	Normalize(ctx context.Context, tablePath, outDir, auxStorePath string) (json.RawMessage, error)
}

// Service orchestrates schedule matrix workflows.
type Service struct {
	repo           ScheduleRepository
	tables         WideTableWriter
	normalizer     Normalizer
	normalizedRoot string
}

// NewService constructs a Service.
func NewService(repo ScheduleRepository, tables WideTableWriter, normalizer Normalizer, normalizedRoot string) *Service {
	return &Service{repo: repo, tables: tables, normalizer: normalizer, normalizedRoot: normalizedRoot}
}

// CreateSchedule registers a new empty schedule for the tenant.
func (s *Service) CreateSchedule(ctx context.Context, tenantID, name string) (*Schedule, error) {
	schedule := Schedule{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateSchedule(ctx, schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// GetSchedule fetches a schedule by ID.
func (s *Service) GetSchedule(ctx context.Context, tenantID, scheduleID string) (*Schedule, error) {
	schedule, err := s.repo.GetSchedule(ctx, tenantID, scheduleID)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, ErrScheduleNotFound)
	}
	return schedule, nil
}

// ListSchedules returns all schedules of the tenant, newest first.
func (s *Service) ListSchedules(ctx context.Context, tenantID string) ([]Schedule, error) {
	return s.repo.ListSchedules(ctx, tenantID)
}

// AddVisitInput captures the payload from the API layer.
type AddVisitInput struct {
	TenantID   string
	ScheduleID string
	Name       string
	RawHeader  string
}

// AddVisit appends a visit column; its position is the live count + 1 at
// commit time. A missing raw header defaults to the visit name.
func (s *Service) AddVisit(ctx context.Context, input AddVisitInput) (*Visit, error) {
	rawHeader := input.RawHeader
	if rawHeader == "" {
		rawHeader = input.Name
	}
	visit := Visit{
		ID:         uuid.NewString(),
		ScheduleID: input.ScheduleID,
		Name:       input.Name,
		RawHeader:  rawHeader,
	}
	position, err := s.repo.AddVisit(ctx, input.TenantID, visit)
	if err != nil {
		return nil, err
	}
	visit.Position = position
	return &visit, nil
}

// AddActivityInput captures the payload from the API layer.
type AddActivityInput struct {
	TenantID   string
	ScheduleID string
	Name       string
}

// AddActivity appends an activity row, numbered independently of visits.
func (s *Service) AddActivity(ctx context.Context, input AddActivityInput) (*Activity, error) {
	activity := Activity{
		ID:         uuid.NewString(),
		ScheduleID: input.ScheduleID,
		Name:       input.Name,
	}
	position, err := s.repo.AddActivity(ctx, input.TenantID, activity)
	if err != nil {
		return nil, err
	}
	activity.Position = position
	return &activity, nil
}

// SetCellInput captures the payload from the API layer.
type SetCellInput struct {
	TenantID   string
	ScheduleID string
	VisitID    string
	ActivityID string
	Status     string
}

// SetCell upserts the cell at (visit, activity). Repeated calls with the same
// key overwrite the status in place and return the original cell identity.
func (s *Service) SetCell(ctx context.Context, input SetCellInput) (*Cell, error) {
	cell := Cell{
		ID:         uuid.NewString(),
		ScheduleID: input.ScheduleID,
		VisitID:    input.VisitID,
		ActivityID: input.ActivityID,
		Status:     input.Status,
	}
	stored, err := s.repo.UpsertCell(ctx, input.TenantID, cell)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// DeleteVisit removes the visit, all cells referencing it, and renumbers the
// remaining visits contiguously, all in one committed operation.
func (s *Service) DeleteVisit(ctx context.Context, tenantID, scheduleID, visitID string) error {
	return s.repo.DeleteVisit(ctx, tenantID, scheduleID, visitID)
}

// DeleteActivity is the row-axis counterpart of DeleteVisit.
func (s *Service) DeleteActivity(ctx context.Context, tenantID, scheduleID, activityID string) error {
	return s.repo.DeleteActivity(ctx, tenantID, scheduleID, activityID)
}

// Matrix assembles the read-only matrix view for a schedule.
func (s *Service) Matrix(ctx context.Context, tenantID, scheduleID string) (*Matrix, error) {
	return s.repo.Matrix(ctx, tenantID, scheduleID)
}

// NormalizedResult packages the pipeline summary with the artifact location.
type NormalizedResult struct {
	Summary      json.RawMessage
	ArtifactsDir string
}

// ExportNormalized serializes the schedule into the dense wide table, hands
// it to the normalization pipeline and surfaces the summary unmodified.
func (s *Service) ExportNormalized(ctx context.Context, tenantID, scheduleID string) (*NormalizedResult, error) {
	matrix, err := s.repo.Matrix(ctx, tenantID, scheduleID)
	if err != nil {
		return nil, err
	}

	tablePath := filepath.Join(os.TempDir(), fmt.Sprintf("soa_%s_wide.csv", scheduleID))
	if err := s.tables.Write(*matrix, tablePath); err != nil {
		return nil, err
	}

	outDir := filepath.Join(s.normalizedRoot, "soa_"+scheduleID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	summary, err := s.normalizer.Normalize(ctx, tablePath, outDir, filepath.Join(outDir, "soa.db"))
	if err != nil {
		return nil, err
	}

	return &NormalizedResult{Summary: summary, ArtifactsDir: outDir}, nil
}
