package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubjectRepository implements database.SubjectStore with gorm.
type SubjectRepository struct {
	db *gorm.DB
}

// List returns all subjects ordered by abbreviation
func (r *SubjectRepository) List(ctx context.Context) ([]database.Subject, error) {
	var models []subjectModel
	if err := r.db.WithContext(ctx).Order("abbr").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	out := make([]database.Subject, len(models))
	for i, m := range models {
		out[i] = database.Subject{Abbr: m.Abbr, Code: m.Code, Name: m.Name}
	}
	return out, nil
}

// Add inserts a subject
func (r *SubjectRepository) Add(ctx context.Context, s database.Subject) error {
	err := r.db.WithContext(ctx).Create(&subjectModel{Abbr: s.Abbr, Code: s.Code, Name: s.Name}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("add subject %s: %w", s.Abbr, database.ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("add subject: %w", err)
	}
	return nil
}

// Upsert inserts or replaces a subject
func (r *SubjectRepository) Upsert(ctx context.Context, s database.Subject) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "abbr"}},
		DoUpdates: clause.AssignmentColumns([]string{"code", "name"}),
	}).Create(&subjectModel{Abbr: s.Abbr, Code: s.Code, Name: s.Name}).Error
	if err != nil {
		return fmt.Errorf("upsert subject: %w", err)
	}
	return nil
}

// Delete removes a subject
func (r *SubjectRepository) Delete(ctx context.Context, abbr string) error {
	result := r.db.WithContext(ctx).Where("abbr = ?", abbr).Delete(&subjectModel{})
	if err := rowsAffected(result); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete subject: %w", err)
	}
	return nil
}
