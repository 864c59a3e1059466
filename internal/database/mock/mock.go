// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
)

type identityRow struct {
	identity database.Identity
	encoding []byte
}

// MockIdentityStore is an in-memory database.IdentityWriter.
// Embeddings are kept encoded so tests can plant corrupt blobs.
type MockIdentityStore struct {
	mu     sync.RWMutex
	dim    int
	rows   map[database.Ref]*identityRow
	ledger *MockLedger

	// Error injection
	GetError    error
	ListError   error
	ScanError   error
	InsertError error
	UpdateError error
	DeleteError error
}

// NewMockIdentityStore creates an empty identity store for dim-sized embeddings.
// If ledger is non-nil, Delete cascades into it.
func NewMockIdentityStore(dim int, ledger *MockLedger) *MockIdentityStore {
	return &MockIdentityStore{
		dim:    dim,
		rows:   make(map[database.Ref]*identityRow),
		ledger: ledger,
	}
}

// PutRawEncoding stores an arbitrary blob as the encoding of an identity,
// creating the identity if needed.
func (m *MockIdentityStore) PutRawEncoding(ref database.Ref, name string, blob []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[ref]
	if !ok {
		row = &identityRow{identity: database.Identity{ID: ref.ID, Role: ref.Role, Name: name, CreatedAt: time.Now()}}
		m.rows[ref] = row
	}
	row.encoding = slices.Clone(blob)
}

// Count returns the number of stored identities.
func (m *MockIdentityStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

func (m *MockIdentityStore) materialize(row *identityRow) (*database.Identity, error) {
	id := row.identity
	id.Subjects = slices.Clone(row.identity.Subjects)
	if row.encoding != nil {
		emb, err := biometric.Decode(row.encoding, m.dim)
		if err != nil {
			return nil, err
		}
		id.Embedding = emb
	}
	return &id, nil
}

// withheld returns the profile of a row whose encoding does not decode.
func (m *MockIdentityStore) withheld(row *identityRow) *database.Identity {
	id := row.identity
	id.Subjects = slices.Clone(row.identity.Subjects)
	id.Embedding = nil
	id.MalformedEncoding = true
	return &id
}

// sortedRefs returns refs in (role, id) order.
func (m *MockIdentityStore) sortedRefs(roles []database.Role) []database.Ref {
	refs := make([]database.Ref, 0, len(m.rows))
	for ref := range m.rows {
		if len(roles) > 0 && !slices.Contains(roles, ref.Role) {
			continue
		}
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, func(a, b database.Ref) int {
		return cmp.Or(cmp.Compare(a.Role, b.Role), cmp.Compare(a.ID, b.ID))
	})
	return refs
}

// Get retrieves an identity by role and id
func (m *MockIdentityStore) Get(ctx context.Context, role database.Role, id string) (*database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[database.Ref{Role: role, ID: id}]
	if !ok {
		return nil, database.ErrNotFound
	}
	identity, err := m.materialize(row)
	if err != nil {
		// A corrupt vector is withheld, the profile is still returned.
		identity = m.withheld(row)
	}
	return identity, nil
}

// List returns every identity of a role
func (m *MockIdentityStore) List(ctx context.Context, role database.Role) ([]database.Identity, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Identity
	for _, ref := range m.sortedRefs([]database.Role{role}) {
		row := m.rows[ref]
		identity, err := m.materialize(row)
		if err != nil {
			identity = m.withheld(row)
		}
		out = append(out, *identity)
	}
	return out, nil
}

// AllWithEmbedding enumerates identities holding a decodable embedding
func (m *MockIdentityStore) AllWithEmbedding(ctx context.Context, roles ...database.Role) iter.Seq2[*database.Identity, error] {
	return func(yield func(*database.Identity, error) bool) {
		if m.ScanError != nil {
			yield(nil, m.ScanError)
			return
		}
		// Snapshot under the lock, yield outside it.
		m.mu.RLock()
		type entry struct {
			ref database.Ref
			row identityRow
		}
		var snapshot []entry
		for _, ref := range m.sortedRefs(roles) {
			row := m.rows[ref]
			if row.encoding == nil {
				continue
			}
			snapshot = append(snapshot, entry{ref: ref, row: *row})
		}
		m.mu.RUnlock()

		for _, e := range snapshot {
			identity, err := m.materialize(&e.row)
			if err != nil {
				var me *biometric.MalformedEmbeddingError
				if errors.As(err, &me) {
					me.Owner = e.ref.String()
				}
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(identity, nil) {
				return
			}
		}
	}
}

// ScanEncodings calls fn for every stored blob
func (m *MockIdentityStore) ScanEncodings(ctx context.Context, fn func(ref database.Ref, blob []byte) error) error {
	if m.ScanError != nil {
		return m.ScanError
	}
	m.mu.RLock()
	type entry struct {
		ref  database.Ref
		blob []byte
	}
	var snapshot []entry
	for _, ref := range m.sortedRefs(nil) {
		if blob := m.rows[ref].encoding; blob != nil {
			snapshot = append(snapshot, entry{ref, blob})
		}
	}
	m.mu.RUnlock()
	for _, e := range snapshot {
		if err := fn(e.ref, e.blob); err != nil {
			return err
		}
	}
	return nil
}

// Insert stores a new identity
func (m *MockIdentityStore) Insert(ctx context.Context, identity *database.Identity) error {
	if m.InsertError != nil {
		return m.InsertError
	}
	var blob []byte
	if identity.Embedding != nil {
		if err := identity.Embedding.Validate(m.dim); err != nil {
			return fmt.Errorf("insert identity: %w", err)
		}
		blob = biometric.Encode(identity.Embedding)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := identity.Ref()
	if _, exists := m.rows[ref]; exists {
		return fmt.Errorf("insert identity %s: %w", ref, database.ErrDuplicateID)
	}
	row := &identityRow{identity: *identity, encoding: blob}
	row.identity.Embedding = nil
	row.identity.MalformedEncoding = false
	row.identity.Subjects = slices.Clone(identity.Subjects)
	if row.identity.CreatedAt.IsZero() {
		row.identity.CreatedAt = time.Now()
	}
	m.rows[ref] = row
	return nil
}

// Update overwrites profile metadata
func (m *MockIdentityStore) Update(ctx context.Context, identity *database.Identity) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[identity.Ref()]
	if !ok {
		return database.ErrNotFound
	}
	row.identity.Name = identity.Name
	row.identity.Department = identity.Department
	row.identity.Subjects = slices.Clone(identity.Subjects)
	row.identity.PIN = identity.PIN
	row.identity.Photo = identity.Photo
	return nil
}

// UpdateEmbedding replaces the stored vector
func (m *MockIdentityStore) UpdateEmbedding(ctx context.Context, ref database.Ref, embedding biometric.Embedding) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	if err := embedding.Validate(m.dim); err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[ref]
	if !ok {
		return database.ErrNotFound
	}
	row.encoding = biometric.Encode(embedding)
	return nil
}

// Delete removes an identity; deleting a student cascades to attendance
func (m *MockIdentityStore) Delete(ctx context.Context, ref database.Ref) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[ref]; !ok {
		return database.ErrNotFound
	}
	delete(m.rows, ref)
	if m.ledger != nil && ref.Role == database.RoleStudent {
		m.ledger.deleteIdentity(ref.ID)
	}
	return nil
}

// MockLedger is an in-memory database.AttendanceLedger.
// A single mutex makes the check and insert atomic per key.
type MockLedger struct {
	mu      sync.Mutex
	records map[string]*database.AttendanceRecord
	byKey   map[database.AttendanceKey]string

	// Error injection
	RecordError error
	UpdateError error
	ListError   error
}

// NewMockLedger creates an empty ledger
func NewMockLedger() *MockLedger {
	return &MockLedger{
		records: make(map[string]*database.AttendanceRecord),
		byKey:   make(map[database.AttendanceKey]string),
	}
}

// Len returns the number of stored records.
func (l *MockLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *MockLedger) deleteIdentity(identityID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, rec := range l.records {
		if rec.IdentityID == identityID {
			delete(l.byKey, rec.Key())
			delete(l.records, id)
		}
	}
}

// RecordIfAbsent creates a record unless the key already has one
func (l *MockLedger) RecordIfAbsent(ctx context.Context, entry database.AttendanceEntry) (database.RecordResult, error) {
	if l.RecordError != nil {
		return database.RecordResult{}, l.RecordError
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.byKey[entry.AttendanceKey]; ok {
		return database.RecordResult{Outcome: database.AlreadyMarked, Record: *l.records[id]}, nil
	}
	rec := &database.AttendanceRecord{
		ID:           uuid.NewString(),
		IdentityID:   entry.IdentityID,
		IdentityName: entry.IdentityName,
		Subject:      entry.Subject,
		Day:          entry.Day,
		RecordedAt:   entry.RecordedAt,
		Status:       database.StatusPresent,
	}
	l.records[rec.ID] = rec
	l.byKey[entry.AttendanceKey] = rec.ID
	return database.RecordResult{Outcome: database.Recorded, Record: *rec}, nil
}

// UpdateStatus overwrites the status of a record
func (l *MockLedger) UpdateStatus(ctx context.Context, recordID string, status database.Status) (*database.AttendanceRecord, error) {
	if l.UpdateError != nil {
		return nil, l.UpdateError
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[recordID]
	if !ok {
		return nil, database.ErrNotFound
	}
	rec.Status = status
	cp := *rec
	return &cp, nil
}

// Get retrieves a record by id
func (l *MockLedger) Get(ctx context.Context, recordID string) (*database.AttendanceRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[recordID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// List returns records matching the filter, newest first
func (l *MockLedger) List(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	if l.ListError != nil {
		return nil, l.ListError
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []database.AttendanceRecord
	for _, rec := range l.records {
		if filter.Day != "" && rec.Day != filter.Day {
			continue
		}
		if filter.Subject != "" && rec.Subject != filter.Subject {
			continue
		}
		out = append(out, *rec)
	}
	slices.SortFunc(out, func(a, b database.AttendanceRecord) int {
		return cmp.Or(b.RecordedAt.Compare(a.RecordedAt), cmp.Compare(a.ID, b.ID))
	})
	limit := filter.Limit
	if filter.Day == "" && limit <= 0 {
		limit = database.DefaultListLimit
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MockSubjectStore is an in-memory database.SubjectStore
type MockSubjectStore struct {
	mu       sync.RWMutex
	subjects map[string]database.Subject

	ListError error
}

// NewMockSubjectStore creates an empty subject store
func NewMockSubjectStore() *MockSubjectStore {
	return &MockSubjectStore{subjects: make(map[string]database.Subject)}
}

// List returns all subjects ordered by abbreviation
func (s *MockSubjectStore) List(ctx context.Context) ([]database.Subject, error) {
	if s.ListError != nil {
		return nil, s.ListError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]database.Subject, 0, len(s.subjects))
	for _, subj := range s.subjects {
		out = append(out, subj)
	}
	slices.SortFunc(out, func(a, b database.Subject) int { return cmp.Compare(a.Abbr, b.Abbr) })
	return out, nil
}

// Add inserts a subject
func (s *MockSubjectStore) Add(ctx context.Context, subject database.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects[subject.Abbr]; ok {
		return fmt.Errorf("add subject %s: %w", subject.Abbr, database.ErrDuplicateID)
	}
	s.subjects[subject.Abbr] = subject
	return nil
}

// Upsert inserts or replaces a subject
func (s *MockSubjectStore) Upsert(ctx context.Context, subject database.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[subject.Abbr] = subject
	return nil
}

// Delete removes a subject
func (s *MockSubjectStore) Delete(ctx context.Context, abbr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects[abbr]; !ok {
		return database.ErrNotFound
	}
	delete(s.subjects, abbr)
	return nil
}

// NewBackend returns a database.Backend wired to fresh in-memory stores.
func NewBackend(dim int) (*database.Backend, *MockIdentityStore, *MockLedger, *MockSubjectStore) {
	ledger := NewMockLedger()
	identities := NewMockIdentityStore(dim, ledger)
	subjects := NewMockSubjectStore()
	return database.NewBackend(identities, ledger, subjects, nil), identities, ledger, subjects
}

func init() {
	database.Register("memory", func(ctx context.Context, opts database.Options) (*database.Backend, error) {
		dim := opts.Dim
		if dim <= 0 {
			dim = biometric.Dim
		}
		b, _, _, _ := NewBackend(dim)
		return b, nil
	})
}
