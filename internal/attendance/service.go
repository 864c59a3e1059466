// Package attendance ties the identity store, the enrollment guard, the
// matcher and the attendance ledger into the operations the HTTP layer and
// CLI expose.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/matching"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

var (
	// ErrInvalid marks requests rejected by validation.
	ErrInvalid = errors.New("invalid request")
	// ErrAdminExists is returned when setting up an admin that already exists.
	ErrAdminExists = errors.New("admin already configured")
	// ErrAdminNotConfigured is returned when logging in before setup.
	ErrAdminNotConfigured = errors.New("admin not configured")
	// ErrFaceMismatch is returned when a face does not authenticate.
	ErrFaceMismatch = errors.New("face does not match")
)

// IndexMaintainer is kept in sync with embedding writes.
type IndexMaintainer interface {
	Add(identity *database.Identity)
	Remove(ref database.Ref)
}

// Options configures a Service.
type Options struct {
	Dim            int
	MatchThreshold float64
	DefaultSubject string
	Location       *time.Location
	Now            func() time.Time
}

// Service implements enrollment, identification and attendance marking.
type Service struct {
	identities database.IdentityWriter
	ledger     database.AttendanceLedger
	guard      *matching.Guard
	matcher    matching.Matcher
	index      IndexMaintainer
	opts       Options
}

// NewService wires the core components together.
func NewService(identities database.IdentityWriter, ledger database.AttendanceLedger, guard *matching.Guard, matcher matching.Matcher, opts Options) *Service {
	if opts.Dim <= 0 {
		opts.Dim = biometric.Dim
	}
	if opts.DefaultSubject == "" {
		opts.DefaultSubject = DefaultSubject
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		identities: identities,
		ledger:     ledger,
		guard:      guard,
		matcher:    matcher,
		opts:       opts,
	}
}

// DefaultSubject is recorded when a kiosk does not name a subject.
const DefaultSubject = "General"

// WithIndex registers an index to update on enrollment changes.
func (s *Service) WithIndex(index IndexMaintainer) *Service {
	s.index = index
	return s
}

// Identities exposes the underlying store for read-only handlers.
func (s *Service) Identities() database.IdentityReader {
	return s.identities
}

// Ledger exposes the attendance ledger.
func (s *Service) Ledger() database.AttendanceLedger {
	return s.ledger
}

// Today returns the current attendance day.
func (s *Service) Today() database.Day {
	return database.DayOf(s.opts.Now(), s.opts.Location)
}

func (s *Service) validateEmbedding(e biometric.Embedding) error {
	return e.Validate(s.opts.Dim)
}

func validateIdentity(identity *database.Identity) error {
	identity.ID = strings.TrimSpace(identity.ID)
	identity.Name = strings.TrimSpace(identity.Name)
	if identity.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if identity.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if _, err := database.ParseRole(string(identity.Role)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Enroll stores a new student or faculty member. Students must carry an
// embedding. Any embedding is checked against enrolled faces first.
func (s *Service) Enroll(ctx context.Context, identity *database.Identity) error {
	if err := validateIdentity(identity); err != nil {
		return err
	}
	switch identity.Role {
	case database.RoleAdmin:
		return fmt.Errorf("%w: admin is enrolled through setup", ErrInvalid)
	case database.RoleStudent:
		if identity.Embedding == nil {
			return fmt.Errorf("%w: a face is required to enroll a student", ErrInvalid)
		}
	}

	err := s.insert(ctx, identity)
	metrics.Enrollments.WithLabelValues(string(identity.Role), enrollResult(err)).Inc()
	return err
}

func (s *Service) insert(ctx context.Context, identity *database.Identity) error {
	if identity.Embedding == nil {
		return s.identities.Insert(ctx, identity)
	}
	if err := s.validateEmbedding(identity.Embedding); err != nil {
		return err
	}
	err := s.guard.Enroll(ctx, identity.Embedding, identity.Role, database.Ref{}, func(ctx context.Context) error {
		return s.identities.Insert(ctx, identity)
	})
	if err != nil {
		return err
	}
	if s.index != nil {
		s.index.Add(identity)
	}
	return nil
}

func enrollResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, matching.ErrDuplicateFace):
		return "duplicate_face"
	case errors.Is(err, database.ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, ErrInvalid), errors.Is(err, biometric.ErrMalformedEmbedding):
		return "invalid"
	}
	return "error"
}

// UpdateProfile overwrites profile metadata and, when embedding is non-nil,
// replaces the face. The profile is written first and the face only after
// it, under the duplicate guard.
func (s *Service) UpdateProfile(ctx context.Context, identity *database.Identity, embedding biometric.Embedding) error {
	if err := validateIdentity(identity); err != nil {
		return err
	}
	if embedding != nil {
		if err := s.validateEmbedding(embedding); err != nil {
			return err
		}
	}
	current, err := s.identities.Get(ctx, identity.Role, identity.ID)
	if err != nil {
		return err
	}

	ref := identity.Ref()
	write := func(ctx context.Context) error {
		if err := s.identities.Update(ctx, identity); err != nil {
			return fmt.Errorf("update %s: %w", ref, err)
		}
		if embedding == nil {
			return nil
		}
		return s.identities.UpdateEmbedding(ctx, ref, embedding)
	}
	if embedding == nil {
		err = write(ctx)
	} else {
		err = s.guard.Enroll(ctx, embedding, ref.Role, ref, write)
	}
	if err != nil {
		return err
	}

	updated := *identity
	updated.CreatedAt = current.CreatedAt
	updated.Embedding = current.Embedding
	if embedding != nil {
		updated.Embedding = embedding
	}
	s.reindex(&updated)
	return nil
}

// reindex refreshes the index entry of an identity that carries a face.
func (s *Service) reindex(identity *database.Identity) {
	if s.index != nil && identity.Embedding != nil {
		s.index.Add(identity)
	}
}

// ReplaceEmbedding swaps the stored face of an identity after checking it
// against every other enrolled face.
func (s *Service) ReplaceEmbedding(ctx context.Context, ref database.Ref, embedding biometric.Embedding) error {
	if err := s.validateEmbedding(embedding); err != nil {
		return err
	}
	identity, err := s.identities.Get(ctx, ref.Role, ref.ID)
	if err != nil {
		return err
	}
	err = s.guard.Enroll(ctx, embedding, ref.Role, ref, func(ctx context.Context) error {
		return s.identities.UpdateEmbedding(ctx, ref, embedding)
	})
	if err != nil {
		return err
	}
	identity.Embedding = embedding
	s.reindex(identity)
	return nil
}

// Delete removes an identity and its attendance.
func (s *Service) Delete(ctx context.Context, ref database.Ref) error {
	if err := s.identities.Delete(ctx, ref); err != nil {
		return err
	}
	if s.index != nil {
		s.index.Remove(ref)
	}
	return nil
}

// Mark is the result of presenting a face at a kiosk.
type Mark struct {
	Match         matching.Result
	Subject       string
	Day           database.Day
	Record        *database.AttendanceRecord
	AlreadyMarked bool
}

// MarkAttendance identifies a student and records attendance for subject
// today. A repeated identification for the same subject and day reports the
// existing record.
func (s *Service) MarkAttendance(ctx context.Context, embedding biometric.Embedding, subject string) (*Mark, error) {
	if err := s.validateEmbedding(embedding); err != nil {
		return nil, err
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = s.opts.DefaultSubject
	}
	if utf8.RuneCountInString(subject) > constants.MaxSubjectLength {
		return nil, fmt.Errorf("%w: subject must be at most %d characters", ErrInvalid, constants.MaxSubjectLength)
	}

	now := s.opts.Now()
	mark := &Mark{Subject: subject, Day: database.DayOf(now, s.opts.Location)}

	res, err := s.identify(ctx, embedding, database.RoleStudent)
	if err != nil {
		return nil, err
	}
	mark.Match = res
	if res.Outcome != matching.Matched {
		return mark, nil
	}

	recorded, err := s.ledger.RecordIfAbsent(ctx, database.AttendanceEntry{
		AttendanceKey: database.AttendanceKey{
			IdentityID: res.Identity.ID,
			Subject:    subject,
			Day:        mark.Day,
		},
		IdentityName: res.Identity.Name,
		RecordedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("record attendance: %w", err)
	}
	metrics.AttendanceRecords.WithLabelValues(recorded.Outcome.String()).Inc()

	mark.Record = &recorded.Record
	mark.AlreadyMarked = recorded.Outcome == database.AlreadyMarked
	return mark, nil
}

func (s *Service) identify(ctx context.Context, embedding biometric.Embedding, role database.Role) (matching.Result, error) {
	res, err := s.matcher.Identify(ctx, embedding, role)
	if err != nil {
		return matching.Result{}, fmt.Errorf("identify %s: %w", role, err)
	}
	metrics.Identifications.WithLabelValues(string(role), res.Outcome.String()).Inc()
	if res.Identity != nil {
		metrics.IdentifyDistance.Observe(res.Distance)
	}
	return res, nil
}

// Identify finds the closest enrolled identity of role without recording
// anything.
func (s *Service) Identify(ctx context.Context, embedding biometric.Embedding, role database.Role) (matching.Result, error) {
	if err := s.validateEmbedding(embedding); err != nil {
		return matching.Result{}, err
	}
	return s.identify(ctx, embedding, role)
}

// IdentifyFaculty authenticates a faculty member by face.
func (s *Service) IdentifyFaculty(ctx context.Context, embedding biometric.Embedding) (matching.Result, error) {
	return s.Identify(ctx, embedding, database.RoleFaculty)
}

// UpdateStatus manually overrides the status of an attendance record.
func (s *Service) UpdateStatus(ctx context.Context, recordID string, status database.Status) (*database.AttendanceRecord, error) {
	return s.ledger.UpdateStatus(ctx, recordID, status)
}
