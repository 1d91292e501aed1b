// Package events defines outbound event payloads published by the schedule service.
package events

import "time"

// ScheduleCreated is emitted when a new schedule container is registered.
type ScheduleCreated struct {
	ScheduleID string    `json:"schedule_id"`
	TenantID   string    `json:"tenant_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// VisitAdded is emitted when a visit column is appended to a schedule.
type VisitAdded struct {
	ScheduleID string `json:"schedule_id"`
	TenantID   string `json:"tenant_id"`
	VisitID    string `json:"visit_id"`
	Name       string `json:"name"`
	RawHeader  string `json:"raw_header"`
	Position   int    `json:"position"`
}

// ActivityAdded is emitted when an activity row is appended to a schedule.
type ActivityAdded struct {
	ScheduleID string `json:"schedule_id"`
	TenantID   string `json:"tenant_id"`
	ActivityID string `json:"activity_id"`
	Name       string `json:"name"`
	Position   int    `json:"position"`
}

// CellSet is emitted on every cell upsert, including status overwrites.
type CellSet struct {
	ScheduleID string `json:"schedule_id"`
	TenantID   string `json:"tenant_id"`
	CellID     string `json:"cell_id"`
	VisitID    string `json:"visit_id"`
	ActivityID string `json:"activity_id"`
	Status     string `json:"status"`
}

// VisitDeleted is emitted after a visit delete, cell cascade and position
// compaction have committed.
type VisitDeleted struct {
	ScheduleID string    `json:"schedule_id"`
	TenantID   string    `json:"tenant_id"`
	VisitID    string    `json:"visit_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ActivityDeleted is the row-axis counterpart of VisitDeleted.
type ActivityDeleted struct {
	ScheduleID string    `json:"schedule_id"`
	TenantID   string    `json:"tenant_id"`
	ActivityID string    `json:"activity_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
