package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/database"
)

const attendanceColumns = "id, identity_id, identity_name, subject, day, recorded_at, status"

// AttendanceRepository implements database.AttendanceLedger on MariaDB.
type AttendanceRepository struct {
	db *sql.DB
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

// RecordIfAbsent inserts a PRESENT record; a duplicate-key error on
// attendance_key means another request already recorded it.
func (r *AttendanceRepository) RecordIfAbsent(ctx context.Context, entry database.AttendanceEntry) (database.RecordResult, error) {
	rec := database.AttendanceRecord{
		ID:           uuid.NewString(),
		IdentityID:   entry.IdentityID,
		IdentityName: entry.IdentityName,
		Subject:      entry.Subject,
		Day:          entry.Day,
		RecordedAt:   entry.RecordedAt.UTC(),
		Status:       database.StatusPresent,
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO attendance ("+attendanceColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.IdentityID, rec.IdentityName, rec.Subject, string(rec.Day), rec.RecordedAt, string(rec.Status))
	if err == nil {
		return database.RecordResult{Outcome: database.Recorded, Record: rec}, nil
	}
	if !isDuplicateEntry(err) {
		return database.RecordResult{}, fmt.Errorf("insert attendance: %w", err)
	}

	row := r.db.QueryRowContext(ctx,
		"SELECT "+attendanceColumns+" FROM attendance WHERE identity_id = ? AND subject = ? AND day = ?",
		entry.IdentityID, entry.Subject, string(entry.Day))
	existing, err := scanRecord(row)
	if err != nil {
		return database.RecordResult{}, fmt.Errorf("get existing attendance: %w", err)
	}
	return database.RecordResult{Outcome: database.AlreadyMarked, Record: *existing}, nil
}

// UpdateStatus overwrites the status of a record
func (r *AttendanceRepository) UpdateStatus(ctx context.Context, recordID string, status database.Status) (*database.AttendanceRecord, error) {
	if _, err := uuid.Parse(recordID); err != nil {
		return nil, database.ErrNotFound
	}
	result, err := r.db.ExecContext(ctx, "UPDATE attendance SET status = ? WHERE id = ?", string(status), recordID)
	if err != nil {
		return nil, fmt.Errorf("update attendance status: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return nil, err
	}
	return r.Get(ctx, recordID)
}

// Get retrieves a record by id
func (r *AttendanceRepository) Get(ctx context.Context, recordID string) (*database.AttendanceRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, "SELECT "+attendanceColumns+" FROM attendance WHERE id = ?", recordID))
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
	query := "SELECT " + attendanceColumns + " FROM attendance WHERE 1 = 1"
	var args []any
	if filter.Day != "" {
		query += " AND day = ?"
		args = append(args, string(filter.Day))
	}
	if filter.Subject != "" {
		query += " AND subject = ?"
		args = append(args, filter.Subject)
	}
	query += " ORDER BY recorded_at DESC, id"
	switch {
	case filter.Limit > 0:
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	case filter.Day == "":
		query += " LIMIT ?"
		args = append(args, database.DefaultListLimit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
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
