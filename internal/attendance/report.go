package attendance

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// ReportEntry is one student in a session report.
type ReportEntry struct {
	ID         string
	Name       string
	Department string
	Status     database.Status
	RecordID   string
	RecordedAt time.Time
}

// Report lists who attended a subject on a day.
type Report struct {
	Subject string
	Day     database.Day
	Present []ReportEntry
	Absent  []ReportEntry
}

// SessionReport splits the student roster into present and absent for one
// subject and day. LATE counts as present; students without a record or
// with ABSENT are absent.
func (s *Service) SessionReport(ctx context.Context, subject string, day database.Day) (*Report, error) {
	if subject == "" {
		subject = s.opts.DefaultSubject
	}
	if day == "" {
		day = s.Today()
	}

	students, err := s.identities.List(ctx, database.RoleStudent)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	records, err := s.ledger.List(ctx, database.AttendanceFilter{Day: day, Subject: subject})
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}

	byStudent := make(map[string]database.AttendanceRecord, len(records))
	for _, rec := range records {
		byStudent[rec.IdentityID] = rec
	}

	report := &Report{Subject: subject, Day: day}
	for _, st := range students {
		entry := ReportEntry{ID: st.ID, Name: st.Name, Department: st.Department, Status: database.StatusAbsent}
		rec, ok := byStudent[st.ID]
		if ok {
			entry.Status = rec.Status
			entry.RecordID = rec.ID
			entry.RecordedAt = rec.RecordedAt
		}
		if ok && rec.Status != database.StatusAbsent {
			report.Present = append(report.Present, entry)
		} else {
			report.Absent = append(report.Absent, entry)
		}
	}
	slices.SortFunc(report.Present, func(a, b ReportEntry) int {
		return cmp.Or(a.RecordedAt.Compare(b.RecordedAt), cmp.Compare(a.ID, b.ID))
	})
	return report, nil
}
