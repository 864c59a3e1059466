package database

import (
	"context"
	"iter"

	"github.com/kozaktomas/face-attendance/internal/biometric"
)

// DefaultListLimit caps attendance listings that have no day filter.
const DefaultListLimit = 500

// IdentityReader provides read-only access to enrolled identities
type IdentityReader interface {
	// Get retrieves an identity by role and id, returns ErrNotFound if absent
	Get(ctx context.Context, role Role, id string) (*Identity, error)
	// List returns every identity of a role ordered by id, including ones without an embedding
	List(ctx context.Context, role Role) ([]Identity, error)
	// AllWithEmbedding enumerates identities that carry an embedding, ordered by (role, id).
	// An empty roles list means every role. A stored embedding that fails to decode is
	// yielded as a *biometric.MalformedEmbeddingError and never as an identity; any
	// other error ends the sequence.
	AllWithEmbedding(ctx context.Context, roles ...Role) iter.Seq2[*Identity, error]
}

// IdentityWriter provides write access to identities
type IdentityWriter interface {
	IdentityReader

	// Insert stores a new identity, returns ErrDuplicateID if (role, id) exists.
	// A malformed embedding is rejected before anything is written.
	Insert(ctx context.Context, identity *Identity) error

	// Update overwrites profile metadata (name, department, subjects, pin, photo).
	// The embedding is left untouched.
	Update(ctx context.Context, identity *Identity) error

	// UpdateEmbedding replaces the stored vector of an identity
	UpdateEmbedding(ctx context.Context, ref Ref, embedding biometric.Embedding) error

	// Delete removes an identity together with its attendance records
	Delete(ctx context.Context, ref Ref) error
}

// EncodingScanner exposes raw stored encodings for integrity checks
type EncodingScanner interface {
	// ScanEncodings calls fn for every identity holding an encoding blob, ordered by (role, id)
	ScanEncodings(ctx context.Context, fn func(ref Ref, blob []byte) error) error
}

// AttendanceLedger stores attendance records
type AttendanceLedger interface {
	// RecordIfAbsent creates a record for the entry's key unless one exists.
	// Concurrent calls with the same key yield exactly one Recorded outcome.
	RecordIfAbsent(ctx context.Context, entry AttendanceEntry) (RecordResult, error)
	// UpdateStatus overwrites the status of a record, returns ErrNotFound if absent
	UpdateStatus(ctx context.Context, recordID string, status Status) (*AttendanceRecord, error)
	// Get retrieves a record by id, returns ErrNotFound if absent
	Get(ctx context.Context, recordID string) (*AttendanceRecord, error)
	// List returns records matching the filter, newest first
	List(ctx context.Context, filter AttendanceFilter) ([]AttendanceRecord, error)
}

// SubjectStore manages the subject catalog
type SubjectStore interface {
	// List returns all subjects ordered by abbreviation
	List(ctx context.Context) ([]Subject, error)
	// Add inserts a subject, returns ErrDuplicateID if the abbreviation exists
	Add(ctx context.Context, subject Subject) error
	// Upsert inserts or replaces a subject
	Upsert(ctx context.Context, subject Subject) error
	// Delete removes a subject, returns ErrNotFound if absent
	Delete(ctx context.Context, abbr string) error
}
