package domain

import "time"

// Schedule is a single Schedule-of-Activities container owning visits,
// activities and cells for one tenant.
type Schedule struct {
	ID        string
	TenantID  string
	Name      string
	CreatedAt time.Time
}

// Visit is a column of the schedule matrix. Position is the 1-based display
// order among live visits of the same schedule and stays contiguous across
// deletions.
type Visit struct {
	ID         string
	ScheduleID string
	Name       string
	RawHeader  string
	Position   int
}

// Activity is a row of the schedule matrix, numbered independently of visits.
type Activity struct {
	ID         string
	ScheduleID string
	Name       string
	Position   int
}

// Cell is the status value at a (visit, activity) intersection. At most one
// live cell exists per pair within a schedule.
type Cell struct {
	ID         string
	ScheduleID string
	VisitID    string
	ActivityID string
	Status     string
}

// Matrix is a read-only snapshot of one schedule: visits and activities in
// position order, cells unordered.
type Matrix struct {
	Visits     []Visit
	Activities []Activity
	Cells      []Cell
}
