package mariadb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// SubjectRepository implements database.SubjectStore on MariaDB.
type SubjectRepository struct {
	db *sql.DB
}

// List returns all subjects ordered by abbreviation
func (r *SubjectRepository) List(ctx context.Context) ([]database.Subject, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT abbr, code, name FROM subjects ORDER BY abbr")
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	var out []database.Subject
	for rows.Next() {
		var s database.Subject
		if err := rows.Scan(&s.Abbr, &s.Code, &s.Name); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return out, nil
}

// Add inserts a subject
func (r *SubjectRepository) Add(ctx context.Context, s database.Subject) error {
	_, err := r.db.ExecContext(ctx, "INSERT INTO subjects (abbr, code, name) VALUES (?, ?, ?)", s.Abbr, s.Code, s.Name)
	if isDuplicateEntry(err) {
		return fmt.Errorf("add subject %s: %w", s.Abbr, database.ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("add subject: %w", err)
	}
	return nil
}

// Upsert inserts or replaces a subject
func (r *SubjectRepository) Upsert(ctx context.Context, s database.Subject) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subjects (abbr, code, name) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE code = VALUES(code), name = VALUES(name)`,
		s.Abbr, s.Code, s.Name)
	if err != nil {
		return fmt.Errorf("upsert subject: %w", err)
	}
	return nil
}

// Delete removes a subject
func (r *SubjectRepository) Delete(ctx context.Context, abbr string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM subjects WHERE abbr = ?", abbr)
	if err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	return expectOneRow(result)
}
