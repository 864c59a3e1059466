// Package sqlite stores identities, attendance and subjects in a SQLite file through gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type identityModel struct {
	Role       string `gorm:"primaryKey;size:16"`
	ID         string `gorm:"primaryKey;size:191"`
	Name       string `gorm:"not null"`
	Department string `gorm:"not null;default:''"`
	Subjects   string `gorm:"not null;default:'[]'"` // JSON array
	PIN        string `gorm:"column:pin;not null;default:''"`
	Photo      string `gorm:"not null;default:''"`
	Encoding   []byte
	CreatedAt  time.Time
}

func (identityModel) TableName() string { return "identities" }

type attendanceModel struct {
	ID           string    `gorm:"primaryKey;size:36"`
	IdentityID   string    `gorm:"not null;uniqueIndex:attendance_key"`
	IdentityName string    `gorm:"not null;default:''"`
	Subject      string    `gorm:"not null;uniqueIndex:attendance_key;index:attendance_day_idx,priority:2"`
	Day          string    `gorm:"size:10;not null;uniqueIndex:attendance_key;index:attendance_day_idx,priority:1"`
	RecordedAt   time.Time `gorm:"not null;index"`
	Status       string    `gorm:"size:16;not null;default:'PRESENT'"`
}

func (attendanceModel) TableName() string { return "attendance" }

type subjectModel struct {
	Abbr string `gorm:"primaryKey;size:64"`
	Code string `gorm:"not null;default:''"`
	Name string `gorm:"not null"`
}

func (subjectModel) TableName() string { return "subjects" }

// dsn appends the pragmas every connection needs.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// OpenDB opens the database file and migrates the schema.
func OpenDB(ctx context.Context, opts database.Options) (*gorm.DB, error) {
	if opts.URL == "" {
		return nil, errors.New("SQLite path is required")
	}
	log.Println("initializing database connection...")

	db, err := gorm.Open(sqlite.Open(dsn(opts.URL)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection pool: %w", err)
	}
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 || strings.Contains(opts.URL, ":memory:") {
		// SQLite has a single writer; an in-memory database also exists once per connection
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)

	if err := db.WithContext(ctx).AutoMigrate(&identityModel{}, &attendanceModel{}, &subjectModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return db, nil
}

// Open returns the repositories backed by one SQLite database.
func Open(ctx context.Context, opts database.Options) (*database.Backend, error) {
	if opts.Dim <= 0 {
		opts.Dim = biometric.Dim
	}
	db, err := OpenDB(ctx, opts)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	return database.NewBackend(
		&IdentityRepository{db: db, dim: opts.Dim},
		&AttendanceRepository{db: db},
		&SubjectRepository{db: db},
		sqlDB.Close,
	), nil
}

func init() {
	database.Register("sqlite", Open)
}
