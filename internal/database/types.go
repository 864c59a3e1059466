package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/biometric"
)

// Role partitions identities into separate id namespaces.
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
)

// AdminID is the fixed id of the singleton admin identity.
const AdminID = "ADMIN"

// Roles lists every role in enumeration order.
var Roles = []Role{RoleAdmin, RoleFaculty, RoleStudent}

// ParseRole converts a string into a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStudent, RoleFaculty, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Identity is an enrolled person. Embedding is nil when none was captured,
// or when the stored encoding is corrupt, in which case MalformedEncoding is set.
type Identity struct {
	ID         string
	Role       Role
	Name       string
	Department string
	Subjects   []string // faculty only
	PIN        string   // faculty only
	Photo      string   // base64 image, data-URL prefix allowed
	Embedding  biometric.Embedding
	CreatedAt  time.Time

	MalformedEncoding bool
}

// HasEncoding reports whether a face encoding is stored for i, decodable or not.
func (i *Identity) HasEncoding() bool {
	return i.Embedding != nil || i.MalformedEncoding
}

// Ref returns the (role, id) pair identifying i.
func (i *Identity) Ref() Ref {
	return Ref{Role: i.Role, ID: i.ID}
}

// Ref addresses an identity within its role namespace.
type Ref struct {
	Role Role
	ID   string
}

func (r Ref) String() string {
	return string(r.Role) + "/" + r.ID
}

// IsZero reports whether r is unset.
func (r Ref) IsZero() bool {
	return r.Role == "" && r.ID == ""
}

// Status is the state of an attendance record.
type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusLate    Status = "LATE"
	StatusAbsent  Status = "ABSENT"
)

// ParseStatus validates a status received from a client.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPresent, StatusLate, StatusAbsent:
		return st, nil
	}
	return "", fmt.Errorf("unknown attendance status %q", s)
}

// dayLayout is the civil date format used for attendance days.
const dayLayout = "2006-01-02"

// Day is a calendar date formatted as YYYY-MM-DD.
type Day string

// DayOf returns the calendar date of t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Day(t.In(loc).Format(dayLayout))
}

// ParseDay validates a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return Day(t.Format(dayLayout)), nil
}

// AttendanceKey is the dedup key: at most one automatic record per key.
type AttendanceKey struct {
	IdentityID string
	Subject    string
	Day        Day
}

// AttendanceEntry is the input to RecordIfAbsent.
type AttendanceEntry struct {
	AttendanceKey
	IdentityName string
	RecordedAt   time.Time
}

// AttendanceRecord is a stored attendance event.
type AttendanceRecord struct {
	ID           string
	IdentityID   string
	IdentityName string
	Subject      string
	Day          Day
	RecordedAt   time.Time
	Status       Status
}

// Key returns the dedup key of r.
func (r *AttendanceRecord) Key() AttendanceKey {
	return AttendanceKey{IdentityID: r.IdentityID, Subject: r.Subject, Day: r.Day}
}

// RecordOutcome tells whether RecordIfAbsent created a record.
type RecordOutcome int

const (
	Recorded RecordOutcome = iota
	AlreadyMarked
)

func (o RecordOutcome) String() string {
	if o == Recorded {
		return "recorded"
	}
	return "already_marked"
}

// RecordResult carries the created or pre-existing record.
type RecordResult struct {
	Outcome RecordOutcome
	Record  AttendanceRecord
}

// AttendanceFilter selects records for listing. An empty Day returns the
// most recent records up to Limit.
type AttendanceFilter struct {
	Day     Day
	Subject string
	Limit   int
}

// Subject is a course in the catalog.
type Subject struct {
	Abbr string `yaml:"abbr" json:"abbr"`
	Code string `yaml:"code" json:"code"`
	Name string `yaml:"name" json:"name"`
}
