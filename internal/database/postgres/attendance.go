package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/database"
)

const attendanceColumns = "id, identity_id, identity_name, subject, day, recorded_at, status"

// AttendanceRepository implements database.AttendanceLedger on PostgreSQL.
// The attendance_key unique constraint makes RecordIfAbsent atomic.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

func scanRecord(scanner interface{ Scan(...any) error }) (*database.AttendanceRecord, error) {
	var (
		rec    database.AttendanceRecord
		day    string
		status string
	)
	if err := scanner.Scan(&rec.ID, &rec.IdentityID, &rec.IdentityName, &rec.Subject, &day, &rec.RecordedAt, &status); err != nil {
		return nil, err
	}
	rec.Day = database.Day(day)
	rec.Status = database.Status(status)
	return &rec, nil
}

// RecordIfAbsent inserts a PRESENT record unless the key already exists.
func (r *AttendanceRepository) RecordIfAbsent(ctx context.Context, entry database.AttendanceEntry) (database.RecordResult, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO attendance (`+attendanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT attendance_key DO NOTHING
		RETURNING `+attendanceColumns,
		uuid.New(), entry.IdentityID, entry.IdentityName, entry.Subject,
		string(entry.Day), entry.RecordedAt, string(database.StatusPresent))
	rec, err := scanRecord(row)
	if err == nil {
		return database.RecordResult{Outcome: database.Recorded, Record: *rec}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return database.RecordResult{}, fmt.Errorf("insert attendance: %w", err)
	}

	// Conflict: the winning insert is committed, read it back.
	row = r.pool.QueryRow(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE identity_id = $1 AND subject = $2 AND day = $3`,
		entry.IdentityID, entry.Subject, string(entry.Day))
	rec, err = scanRecord(row)
	if err != nil {
		return database.RecordResult{}, fmt.Errorf("get existing attendance: %w", err)
	}
	return database.RecordResult{Outcome: database.AlreadyMarked, Record: *rec}, nil
}

// UpdateStatus overwrites the status of a record
func (r *AttendanceRepository) UpdateStatus(ctx context.Context, recordID string, status database.Status) (*database.AttendanceRecord, error) {
	id, err := uuid.Parse(recordID)
	if err != nil {
		return nil, database.ErrNotFound
	}
	row := r.pool.QueryRow(ctx,
		"UPDATE attendance SET status = $2 WHERE id = $1 RETURNING "+attendanceColumns,
		id, string(status))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update attendance status: %w", err)
	}
	return rec, nil
}

// Get retrieves a record by id
func (r *AttendanceRepository) Get(ctx context.Context, recordID string) (*database.AttendanceRecord, error) {
	id, err := uuid.Parse(recordID)
	if err != nil {
		return nil, database.ErrNotFound
	}
	rec, err := scanRecord(r.pool.QueryRow(ctx, "SELECT "+attendanceColumns+" FROM attendance WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return rec, nil
}

// List returns records matching the filter, newest first
func (r *AttendanceRepository) List(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	limit := sql.NullInt64{}
	switch {
	case filter.Limit > 0:
		limit = sql.NullInt64{Int64: int64(filter.Limit), Valid: true}
	case filter.Day == "":
		limit = sql.NullInt64{Int64: database.DefaultListLimit, Valid: true}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE ($1::text = '' OR day = $1) AND ($2::text = '' OR subject = $2)
		ORDER BY recorded_at DESC, id
		LIMIT $3`, string(filter.Day), filter.Subject, limit)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var out []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return out, nil
}
