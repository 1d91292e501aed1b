// Package postgres provides pgx-backed persistence for schedules and outbox events.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/schedule/internal/domain"
	"example.com/schedule/internal/events"
	"example.com/schedule/internal/observability"
)

// Repository provides Postgres-backed persistence for schedule matrices.
// Each logical operation — including cell cascade and position compaction on
// delete — executes inside a single transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) begin(ctx context.Context, tenantID string) (pgx.Tx, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		tx.Rollback(ctx)
		return nil, err
	}
	return tx, nil
}

// CreateSchedule persists the schedule and records the creation event in one transaction.
func (r *Repository) CreateSchedule(ctx context.Context, schedule domain.Schedule) error {
	tx, err := r.begin(ctx, schedule.TenantID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const stmt = `INSERT INTO schedules (schedule_id, tenant_id, name, created_at) VALUES ($1,$2,$3,$4)`
	if _, err := tx.Exec(ctx, stmt, schedule.ID, schedule.TenantID, schedule.Name, schedule.CreatedAt); err != nil {
		return err
	}

	if err := insertOutbox(ctx, tx, outboxRecord{
		TenantID:      schedule.TenantID,
		AggregateType: "schedule",
		AggregateID:   schedule.ID,
		EventType:     "schedule.created",
		PartitionKey:  schedule.ID,
	}, events.ScheduleCreated{
		ScheduleID: schedule.ID,
		TenantID:   schedule.TenantID,
		Name:       schedule.Name,
		CreatedAt:  schedule.CreatedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordMutation("create_schedule", schedule.CreatedAt)
	return nil
}

// GetSchedule retrieves a schedule by ID, or nil when absent.
func (r *Repository) GetSchedule(ctx context.Context, tenantID, scheduleID string) (*domain.Schedule, error) {
	tx, err := r.begin(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const query = `SELECT schedule_id, tenant_id, name, created_at FROM schedules WHERE tenant_id=$1 AND schedule_id=$2`
	row := tx.QueryRow(ctx, query, tenantID, scheduleID)

	var schedule domain.Schedule
	if err := row.Scan(&schedule.ID, &schedule.TenantID, &schedule.Name, &schedule.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// ListSchedules returns all schedules of the tenant, newest first.
func (r *Repository) ListSchedules(ctx context.Context, tenantID string) ([]domain.Schedule, error) {
	tx, err := r.begin(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const query = `SELECT schedule_id, tenant_id, name, created_at FROM schedules WHERE tenant_id=$1 ORDER BY created_at DESC, schedule_id DESC`
	rows, err := tx.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		var schedule domain.Schedule
		if err := rows.Scan(&schedule.ID, &schedule.TenantID, &schedule.Name, &schedule.CreatedAt); err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return schedules, nil
}

// AddVisit appends a visit column. The position index is assigned inside the
// transaction as live count + 1, so committed positions are always contiguous.
func (r *Repository) AddVisit(ctx context.Context, tenantID string, visit domain.Visit) (int, error) {
	tx, err := r.begin(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if err := lockSchedule(ctx, tx, tenantID, visit.ScheduleID); err != nil {
		return 0, err
	}

	var position int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*)+1 FROM visits WHERE schedule_id=$1`, visit.ScheduleID).Scan(&position); err != nil {
		return 0, err
	}

	const stmt = `INSERT INTO visits (visit_id, schedule_id, tenant_id, name, raw_header, position) VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := tx.Exec(ctx, stmt, visit.ID, visit.ScheduleID, tenantID, visit.Name, visit.RawHeader, position); err != nil {
		return 0, err
	}

	if err := insertOutbox(ctx, tx, outboxRecord{
		TenantID:      tenantID,
		AggregateType: "visit",
		AggregateID:   visit.ID,
		EventType:     "schedule.visit_added",
		PartitionKey:  visit.ScheduleID,
	}, events.VisitAdded{
		ScheduleID: visit.ScheduleID,
		TenantID:   tenantID,
		VisitID:    visit.ID,
		Name:       visit.Name,
		RawHeader:  visit.RawHeader,
		Position:   position,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	observability.RecordMutation("add_visit", time.Now().UTC())
	return position, nil
}

// AddActivity appends an activity row, numbered independently of visits.
func (r *Repository) AddActivity(ctx context.Context, tenantID string, activity domain.Activity) (int, error) {
	tx, err := r.begin(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if err := lockSchedule(ctx, tx, tenantID, activity.ScheduleID); err != nil {
		return 0, err
	}

	var position int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*)+1 FROM activities WHERE schedule_id=$1`, activity.ScheduleID).Scan(&position); err != nil {
		return 0, err
	}

	const stmt = `INSERT INTO activities (activity_id, schedule_id, tenant_id, name, position) VALUES ($1,$2,$3,$4,$5)`
	if _, err := tx.Exec(ctx, stmt, activity.ID, activity.ScheduleID, tenantID, activity.Name, position); err != nil {
		return 0, err
	}

	if err := insertOutbox(ctx, tx, outboxRecord{
		TenantID:      tenantID,
		AggregateType: "activity",
		AggregateID:   activity.ID,
		EventType:     "schedule.activity_added",
		PartitionKey:  activity.ScheduleID,
	}, events.ActivityAdded{
		ScheduleID: activity.ScheduleID,
		TenantID:   tenantID,
		ActivityID: activity.ID,
		Name:       activity.Name,
		Position:   position,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	observability.RecordMutation("add_activity", time.Now().UTC())
	return position, nil
}

// UpsertCell writes the cell status for the (visit, activity) key. The write
// is a single conditional insert backed by the composite unique index, so
// concurrent upserts on the same key can never both insert; the loser of the
// race updates the winner's row and the original cell identity is preserved.
func (r *Repository) UpsertCell(ctx context.Context, tenantID string, cell domain.Cell) (domain.Cell, error) {
	tx, err := r.begin(ctx, tenantID)
	if err != nil {
		return domain.Cell{}, err
	}
	defer tx.Rollback(ctx)

	if err := lockSchedule(ctx, tx, tenantID, cell.ScheduleID); err != nil {
		return domain.Cell{}, err
	}
	if err := visitExists(ctx, tx, cell.ScheduleID, cell.VisitID); err != nil {
		return domain.Cell{}, err
	}
	if err := activityExists(ctx, tx, cell.ScheduleID, cell.ActivityID); err != nil {
		return domain.Cell{}, err
	}

	const stmt = `INSERT INTO cells (cell_id, schedule_id, tenant_id, visit_id, activity_id, status)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (schedule_id, visit_id, activity_id)
        DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
        RETURNING cell_id, status`

	stored := cell
	if err := tx.QueryRow(ctx, stmt, cell.ID, cell.ScheduleID, tenantID, cell.VisitID, cell.ActivityID, cell.Status).
		Scan(&stored.ID, &stored.Status); err != nil {
		return domain.Cell{}, err
	}

	if err := insertOutbox(ctx, tx, outboxRecord{
		TenantID:      tenantID,
		AggregateType: "cell",
		AggregateID:   stored.ID,
		EventType:     "schedule.cell_set",
		PartitionKey:  cell.ScheduleID,
	}, events.CellSet{
		ScheduleID: cell.ScheduleID,
		TenantID:   tenantID,
		CellID:     stored.ID,
		VisitID:    cell.VisitID,
		ActivityID: cell.ActivityID,
		Status:     stored.Status,
	}); err != nil {
		return domain.Cell{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Cell{}, err
	}
	observability.RecordMutation("set_cell", time.Now().UTC())
	return stored, nil
}

// DeleteVisit removes the visit, cascades its cells and compacts remaining
// visit positions to exactly 1..N, all before committing.
func (r *Repository) DeleteVisit(ctx context.Context, tenantID, scheduleID, visitID string) error {
	tx, err := r.begin(ctx, tenantID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockSchedule(ctx, tx, tenantID, scheduleID); err != nil {
		return err
	}
	if err := visitExists(ctx, tx, scheduleID, visitID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cells WHERE schedule_id=$1 AND visit_id=$2`, scheduleID, visitID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM visits WHERE visit_id=$1`, visitID); err != nil {
		return err
	}
	if err := compact(ctx, tx, "visits", "visit_id", scheduleID); err != nil {
		return err
	}

	if err := insertOutbox(ctx, tx, outboxRecord{
		TenantID:      tenantID,
		AggregateType: "visit",
		AggregateID:   visitID,
		EventType:     "schedule.visit_deleted",
		PartitionKey:  scheduleID,
	}, events.VisitDeleted{
		ScheduleID: scheduleID,
		TenantID:   tenantID,
		VisitID:    visitID,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordMutation("delete_visit", time.Now().UTC())
	return nil
}

// DeleteActivity is the row-axis counterpart of DeleteVisit.
func (r *Repository) DeleteActivity(ctx context.Context, tenantID, scheduleID, activityID string) error {
	tx, err := r.begin(ctx, tenantID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockSchedule(ctx, tx, tenantID, scheduleID); err != nil {
		return err
	}
	if err := activityExists(ctx, tx, scheduleID, activityID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cells WHERE schedule_id=$1 AND activity_id=$2`, scheduleID, activityID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM activities WHERE activity_id=$1`, activityID); err != nil {
		return err
	}
	if err := compact(ctx, tx, "activities", "activity_id", scheduleID); err != nil {
		return err
	}

	if err := insertOutbox(ctx, tx, outboxRecord{
		TenantID:      tenantID,
		AggregateType: "activity",
		AggregateID:   activityID,
		EventType:     "schedule.activity_deleted",
		PartitionKey:  scheduleID,
	}, events.ActivityDeleted{
		ScheduleID: scheduleID,
		TenantID:   tenantID,
		ActivityID: activityID,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordMutation("delete_activity", time.Now().UTC())
	return nil
}

// Matrix assembles the read-only matrix view inside one read transaction.
func (r *Repository) Matrix(ctx context.Context, tenantID, scheduleID string) (*domain.Matrix, error) {
	tx, err := r.begin(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := scheduleExists(ctx, tx, tenantID, scheduleID); err != nil {
		return nil, err
	}

	matrix := &domain.Matrix{}

	rows, err := tx.Query(ctx, `SELECT visit_id, schedule_id, name, raw_header, position FROM visits WHERE schedule_id=$1 ORDER BY position`, scheduleID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var visit domain.Visit
		if err := rows.Scan(&visit.ID, &visit.ScheduleID, &visit.Name, &visit.RawHeader, &visit.Position); err != nil {
			rows.Close()
			return nil, err
		}
		matrix.Visits = append(matrix.Visits, visit)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `SELECT activity_id, schedule_id, name, position FROM activities WHERE schedule_id=$1 ORDER BY position`, scheduleID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var activity domain.Activity
		if err := rows.Scan(&activity.ID, &activity.ScheduleID, &activity.Name, &activity.Position); err != nil {
			rows.Close()
			return nil, err
		}
		matrix.Activities = append(matrix.Activities, activity)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `SELECT cell_id, schedule_id, visit_id, activity_id, status FROM cells WHERE schedule_id=$1`, scheduleID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var cell domain.Cell
		if err := rows.Scan(&cell.ID, &cell.ScheduleID, &cell.VisitID, &cell.ActivityID, &cell.Status); err != nil {
			rows.Close()
			return nil, err
		}
		matrix.Cells = append(matrix.Cells, cell)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return matrix, nil
}

// compact renumbers live positions of the schedule to 1..N in insertion
// order. Renumbering an already-contiguous set leaves every row untouched.
func compact(ctx context.Context, tx pgx.Tx, table, idColumn, scheduleID string) error {
	stmt := fmt.Sprintf(`WITH ordered AS (
            SELECT %[2]s AS id, ROW_NUMBER() OVER (ORDER BY position, created_at) AS rn
            FROM %[1]s WHERE schedule_id=$1
        )
        UPDATE %[1]s t SET position = ordered.rn
        FROM ordered WHERE t.%[2]s = ordered.id AND t.position <> ordered.rn`, table, idColumn)
	_, err := tx.Exec(ctx, stmt, scheduleID)
	return err
}

func scheduleExists(ctx context.Context, tx pgx.Tx, tenantID, scheduleID string) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM schedules WHERE tenant_id=$1 AND schedule_id=$2`, tenantID, scheduleID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("schedule %s: %w", scheduleID, domain.ErrScheduleNotFound)
	}
	return err
}

// lockSchedule row-locks the schedule container so mutations on the same
// schedule serialize. Without the lock two concurrent appends read the same
// COUNT and commit duplicate positions.
func lockSchedule(ctx context.Context, tx pgx.Tx, tenantID, scheduleID string) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM schedules WHERE tenant_id=$1 AND schedule_id=$2 FOR UPDATE`, tenantID, scheduleID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("schedule %s: %w", scheduleID, domain.ErrScheduleNotFound)
	}
	return err
}

func visitExists(ctx context.Context, tx pgx.Tx, scheduleID, visitID string) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM visits WHERE schedule_id=$1 AND visit_id=$2`, scheduleID, visitID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("visit %s in schedule %s: %w", visitID, scheduleID, domain.ErrVisitNotFound)
	}
	return err
}

func activityExists(ctx context.Context, tx pgx.Tx, scheduleID, activityID string) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM activities WHERE schedule_id=$1 AND activity_id=$2`, scheduleID, activityID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("activity %s in schedule %s: %w", activityID, scheduleID, domain.ErrActivityNotFound)
	}
	return err
}

type outboxRecord struct {
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	PartitionKey  string
}

var eventTopics = map[string]string{
	"schedule.created":          "soa_schedule_events",
	"schedule.visit_added":      "soa_schedule_events",
	"schedule.activity_added":   "soa_schedule_events",
	"schedule.visit_deleted":    "soa_schedule_events",
	"schedule.activity_deleted": "soa_schedule_events",
	"schedule.cell_set":         "soa_cell_events",
}

func insertOutbox(ctx context.Context, tx pgx.Tx, record outboxRecord, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	topic := eventTopics[record.EventType]
	if topic == "" {
		return fmt.Errorf("unknown event type: %s", record.EventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s", record.AggregateID, record.EventType)

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		record.TenantID,
		record.AggregateType,
		record.AggregateID,
		record.EventType,
		topic,
		record.PartitionKey,
		body,
		dedupeKey,
	)
	return err
}
