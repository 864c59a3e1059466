package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttendanceRepository implements database.AttendanceLedger with gorm.
type AttendanceRepository struct {
	db *gorm.DB
}

func (m *attendanceModel) record() database.AttendanceRecord {
	return database.AttendanceRecord{
		ID:           m.ID,
		IdentityID:   m.IdentityID,
		IdentityName: m.IdentityName,
		Subject:      m.Subject,
		Day:          database.Day(m.Day),
		RecordedAt:   m.RecordedAt,
		Status:       database.Status(m.Status),
	}
}

// RecordIfAbsent inserts a PRESENT record unless the key already exists.
func (r *AttendanceRepository) RecordIfAbsent(ctx context.Context, entry database.AttendanceEntry) (database.RecordResult, error) {
	m := attendanceModel{
		ID:           uuid.NewString(),
		IdentityID:   entry.IdentityID,
		IdentityName: entry.IdentityName,
		Subject:      entry.Subject,
		Day:          string(entry.Day),
		RecordedAt:   entry.RecordedAt.UTC(),
		Status:       string(database.StatusPresent),
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if result.Error != nil {
		return database.RecordResult{}, fmt.Errorf("insert attendance: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return database.RecordResult{Outcome: database.Recorded, Record: m.record()}, nil
	}

	var existing attendanceModel
	err := r.db.WithContext(ctx).
		Where("identity_id = ? AND subject = ? AND day = ?", entry.IdentityID, entry.Subject, string(entry.Day)).
		Take(&existing).Error
	if err != nil {
		return database.RecordResult{}, fmt.Errorf("get existing attendance: %w", err)
	}
	return database.RecordResult{Outcome: database.AlreadyMarked, Record: existing.record()}, nil
}

// UpdateStatus overwrites the status of a record
func (r *AttendanceRepository) UpdateStatus(ctx context.Context, recordID string, status database.Status) (*database.AttendanceRecord, error) {
	result := r.db.WithContext(ctx).Model(&attendanceModel{}).Where("id = ?", recordID).Update("status", string(status))
	if err := rowsAffected(result); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update attendance status: %w", err)
	}
	return r.Get(ctx, recordID)
}

// Get retrieves a record by id
func (r *AttendanceRepository) Get(ctx context.Context, recordID string) (*database.AttendanceRecord, error) {
	var m attendanceModel
	err := r.db.WithContext(ctx).Where("id = ?", recordID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	rec := m.record()
	return &rec, nil
}

// List returns records matching the filter, newest first
func (r *AttendanceRepository) List(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	query := r.db.WithContext(ctx).Model(&attendanceModel{})
	if filter.Day != "" {
		query = query.Where("day = ?", string(filter.Day))
	}
	if filter.Subject != "" {
		query = query.Where("subject = ?", filter.Subject)
	}
	switch {
	case filter.Limit > 0:
		query = query.Limit(filter.Limit)
	case filter.Day == "":
		query = query.Limit(database.DefaultListLimit)
	}

	var models []attendanceModel
	if err := query.Order("recorded_at DESC, id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	out := make([]database.AttendanceRecord, len(models))
	for i := range models {
		out[i] = models[i].record()
	}
	return out, nil
}
