// Package mariadb stores identities, attendance and subjects in MariaDB or MySQL.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new MariaDB connection pool.
// The DSN is adjusted so that timestamps scan into time.Time and
// UPDATE reports matched rather than changed rows.
func NewPool(ctx context.Context, opts database.Options) (*Pool, error) {
	if opts.URL == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	cfg, err := mysql.ParseDSN(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MariaDB DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}
	db := sql.OpenDB(connector)

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 5
	}
	maxIdle := opts.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 2
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// schema is applied in order on every start; each statement is idempotent.
// Keys use a binary collation so ORDER BY matches byte order.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS identities (
		role        VARCHAR(16)  CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
		id          VARCHAR(191) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
		name        TEXT         NOT NULL,
		department  TEXT         NOT NULL,
		subjects    TEXT         NOT NULL,
		pin         VARCHAR(64)  NOT NULL DEFAULT '',
		photo       MEDIUMTEXT   NOT NULL,
		encoding    BLOB         NULL,
		created_at  DATETIME(6)  NOT NULL,
		PRIMARY KEY (role, id)
	) DEFAULT CHARSET = utf8mb4`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id             CHAR(36)     NOT NULL PRIMARY KEY,
		identity_id    VARCHAR(191) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
		identity_name  TEXT         NOT NULL,
		subject        VARCHAR(64)  CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
		day            CHAR(10)     NOT NULL,
		recorded_at    DATETIME(6)  NOT NULL,
		status         VARCHAR(16)  NOT NULL DEFAULT 'PRESENT',
		UNIQUE KEY attendance_key (identity_id, subject, day),
		KEY attendance_day_idx (day, subject)
	) DEFAULT CHARSET = utf8mb4`,
	`CREATE TABLE IF NOT EXISTS subjects (
		abbr  VARCHAR(64) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL PRIMARY KEY,
		code  VARCHAR(64) NOT NULL DEFAULT '',
		name  TEXT        NOT NULL
	) DEFAULT CHARSET = utf8mb4`,
}

// Migrate creates missing tables.
func (p *Pool) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// duplicateEntry is the server error number for ER_DUP_ENTRY.
const duplicateEntry = 1062

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == duplicateEntry
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// Open connects, creates the schema and returns the repositories.
func Open(ctx context.Context, opts database.Options) (*database.Backend, error) {
	if opts.Dim <= 0 {
		opts.Dim = biometric.Dim
	}
	pool, err := NewPool(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := pool.Migrate(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return database.NewBackend(
		&IdentityRepository{db: pool.db, dim: opts.Dim},
		&AttendanceRepository{db: pool.db},
		&SubjectRepository{db: pool.db},
		pool.Close,
	), nil
}

func init() {
	database.Register("mariadb", Open)
}
