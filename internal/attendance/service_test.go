package attendance

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/matching"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc    *Service
	store  *mock.MockIdentityStore
	ledger *mock.MockLedger
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	_, store, ledger, _ := mock.NewBackend(biometric.Dim)
	f := &fixture{store: store, ledger: ledger, now: time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)}
	f.svc = NewService(store, ledger,
		matching.NewGuard(store, 0.4, matching.ScopeRole),
		matching.NewLinearMatcher(store, 0.5),
		Options{MatchThreshold: 0.5, Location: time.UTC, Now: func() time.Time { return f.now }},
	)
	return f
}

// syntheticFace returns a fixed unit-length vector.
func syntheticFace(seed uint64) biometric.Embedding {
	r := rand.New(rand.NewPCG(seed, seed+1))
	e := make(biometric.Embedding, biometric.Dim)
	var norm float64
	for i := range e {
		e[i] = r.NormFloat64()
		norm += e[i] * e[i]
	}
	norm = math.Sqrt(norm)
	for i := range e {
		e[i] /= norm
	}
	return e
}

// withNoise moves e by exactly dist along one axis.
func withNoise(e biometric.Embedding, axis int, dist float64) biometric.Embedding {
	out := append(biometric.Embedding(nil), e...)
	out[axis] += dist
	return out
}

func student(id string, e biometric.Embedding) *database.Identity {
	return &database.Identity{ID: id, Role: database.RoleStudent, Name: "Student " + id, Department: "AIDS", Embedding: e}
}

func TestMarkAttendance_MatchedThenAlreadyMarked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := syntheticFace(1)
	require.NoError(t, f.svc.Enroll(ctx, student("S1", e)))

	probe := withNoise(e, 10, 0.1)
	first, err := f.svc.MarkAttendance(ctx, probe, "CS101")
	require.NoError(t, err)
	assert.Equal(t, matching.Matched, first.Match.Outcome)
	assert.Equal(t, "S1", first.Match.Identity.ID)
	assert.InDelta(t, 0.1, first.Match.Distance, 1e-9)
	assert.False(t, first.AlreadyMarked)
	require.NotNil(t, first.Record)
	assert.Equal(t, database.Day("2024-06-01"), first.Record.Day)
	assert.Equal(t, "CS101", first.Record.Subject)
	assert.Equal(t, database.StatusPresent, first.Record.Status)

	second, err := f.svc.MarkAttendance(ctx, probe, "CS101")
	require.NoError(t, err)
	assert.Equal(t, matching.Matched, second.Match.Outcome)
	assert.True(t, second.AlreadyMarked)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, 1, f.ledger.Len())
}

func TestMarkAttendance_NoMatchCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := syntheticFace(2)
	require.NoError(t, f.svc.Enroll(ctx, student("S1", e)))

	mark, err := f.svc.MarkAttendance(ctx, withNoise(e, 3, 0.9), "CS101")
	require.NoError(t, err)
	assert.Equal(t, matching.NoMatch, mark.Match.Outcome)
	assert.Nil(t, mark.Record)
	assert.Equal(t, 0, f.ledger.Len())
}

func TestMarkAttendance_NoCandidates(t *testing.T) {
	f := newFixture(t)
	mark, err := f.svc.MarkAttendance(context.Background(), syntheticFace(3), "")
	require.NoError(t, err)
	assert.Equal(t, matching.NoCandidates, mark.Match.Outcome)
	assert.Equal(t, DefaultSubject, mark.Subject)
}

func TestIdentify_RecordsNothingAndRespectsRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := syntheticFace(4)
	require.NoError(t, f.svc.Enroll(ctx, student("S1", e)))

	res, err := f.svc.Identify(ctx, withNoise(e, 5, 0.05), database.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, matching.Matched, res.Outcome)
	assert.Equal(t, "S1", res.Identity.ID)
	assert.Equal(t, 0, f.ledger.Len())

	res, err = f.svc.Identify(ctx, e, database.RoleFaculty)
	require.NoError(t, err)
	assert.Equal(t, matching.NoCandidates, res.Outcome)
}

func TestMarkAttendance_NextDayRecordsAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := syntheticFace(4)
	require.NoError(t, f.svc.Enroll(ctx, student("S1", e)))

	_, err := f.svc.MarkAttendance(ctx, e, "ML")
	require.NoError(t, err)
	f.now = f.now.Add(24 * time.Hour)
	mark, err := f.svc.MarkAttendance(ctx, e, "ML")
	require.NoError(t, err)
	assert.False(t, mark.AlreadyMarked)
	assert.Equal(t, 2, f.ledger.Len())
}

func TestMarkAttendance_ConcurrentSameFace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := syntheticFace(5)
	require.NoError(t, f.svc.Enroll(ctx, student("S1", e)))

	const n = 20
	var wg sync.WaitGroup
	marks := make([]*Mark, n)
	for i := range n {
		wg.Go(func() {
			m, err := f.svc.MarkAttendance(ctx, e, "CS101")
			assert.NoError(t, err)
			marks[i] = m
		})
	}
	wg.Wait()

	recorded := 0
	for _, m := range marks {
		require.NotNil(t, m)
		if !m.AlreadyMarked {
			recorded++
		}
	}
	assert.Equal(t, 1, recorded)
	assert.Equal(t, 1, f.ledger.Len())
}

func TestMarkAttendance_RejectsWrongDimension(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.MarkAttendance(context.Background(), make(biometric.Embedding, 64), "ML")
	assert.ErrorIs(t, err, biometric.ErrMalformedEmbedding)
}

func TestMarkAttendance_LedgerError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := syntheticFace(6)
	require.NoError(t, f.svc.Enroll(ctx, student("S1", e)))
	f.ledger.RecordError = errors.New("db down")

	_, err := f.svc.MarkAttendance(ctx, e, "ML")
	assert.ErrorContains(t, err, "db down")
}

func TestEnroll_DuplicateFaceAndID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e1 := syntheticFace(7)
	require.NoError(t, f.svc.Enroll(ctx, student("A", e1)))

	err := f.svc.Enroll(ctx, student("B", withNoise(e1, 0, 0.3)))
	var dup *matching.DuplicateFaceError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "A", dup.Conflict.ID)

	require.NoError(t, f.svc.Enroll(ctx, student("B", withNoise(e1, 0, 0.45))))

	err = f.svc.Enroll(ctx, student("A", syntheticFace(8)))
	assert.ErrorIs(t, err, database.ErrDuplicateID)
}

func TestEnroll_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		identity *database.Identity
	}{
		{"missing id", &database.Identity{Role: database.RoleStudent, Name: "x", Embedding: syntheticFace(1)}},
		{"missing name", &database.Identity{ID: "S", Role: database.RoleStudent, Embedding: syntheticFace(1)}},
		{"student without face", &database.Identity{ID: "S", Name: "x", Role: database.RoleStudent}},
		{"admin", &database.Identity{ID: "A", Name: "x", Role: database.RoleAdmin}},
		{"bad role", &database.Identity{ID: "A", Name: "x", Role: "guest"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.svc.Enroll(ctx, tt.identity), ErrInvalid)
		})
	}
}

func TestEnroll_FacultyWithoutFace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fac := &database.Identity{ID: "F1", Role: database.RoleFaculty, Name: "Prof", Subjects: []string{"ML"}, PIN: "1234"}
	require.NoError(t, f.svc.Enroll(ctx, fac))

	res, err := f.svc.IdentifyFaculty(ctx, syntheticFace(9))
	require.NoError(t, err)
	assert.Equal(t, matching.NoCandidates, res.Outcome)
}

func TestReplaceEmbedding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e1, e2 := syntheticFace(10), syntheticFace(11)
	require.NoError(t, f.svc.Enroll(ctx, student("A", e1)))
	require.NoError(t, f.svc.Enroll(ctx, student("B", e2)))

	refA := database.Ref{Role: database.RoleStudent, ID: "A"}
	// Small change of own face is fine.
	require.NoError(t, f.svc.ReplaceEmbedding(ctx, refA, withNoise(e1, 1, 0.05)))
	// Taking B's face is not.
	assert.ErrorIs(t, f.svc.ReplaceEmbedding(ctx, refA, e2), matching.ErrDuplicateFace)
	// Unknown identity.
	assert.ErrorIs(t, f.svc.ReplaceEmbedding(ctx, database.Ref{Role: database.RoleStudent, ID: "Z"}, e1), database.ErrNotFound)
}

func TestDelete_CascadesAttendance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := syntheticFace(12)
	require.NoError(t, f.svc.Enroll(ctx, student("S1", e)))
	_, err := f.svc.MarkAttendance(ctx, e, "ML")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, database.Ref{Role: database.RoleStudent, ID: "S1"}))
	assert.Equal(t, 0, f.ledger.Len())

	mark, err := f.svc.MarkAttendance(ctx, e, "ML")
	require.NoError(t, err)
	assert.Equal(t, matching.NoCandidates, mark.Match.Outcome)
}

func TestUpdateStatus_Overwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := syntheticFace(13)
	require.NoError(t, f.svc.Enroll(ctx, student("S1", e)))
	mark, err := f.svc.MarkAttendance(ctx, e, "ML")
	require.NoError(t, err)

	rec, err := f.svc.UpdateStatus(ctx, mark.Record.ID, database.StatusLate)
	require.NoError(t, err)
	assert.Equal(t, database.StatusLate, rec.Status)

	again, err := f.svc.MarkAttendance(ctx, e, "ML")
	require.NoError(t, err)
	assert.True(t, again.AlreadyMarked)
	assert.Equal(t, database.StatusLate, again.Record.Status)
}

type recordingIndex struct {
	added   []string
	removed []string
}

func (r *recordingIndex) Add(identity *database.Identity) { r.added = append(r.added, identity.ID) }
func (r *recordingIndex) Remove(ref database.Ref)         { r.removed = append(r.removed, ref.ID) }

func TestService_KeepsIndexInSync(t *testing.T) {
	f := newFixture(t)
	idx := &recordingIndex{}
	f.svc.WithIndex(idx)
	ctx := context.Background()

	require.NoError(t, f.svc.Enroll(ctx, student("S1", syntheticFace(14))))
	require.NoError(t, f.svc.Delete(ctx, database.Ref{Role: database.RoleStudent, ID: "S1"}))
	assert.Equal(t, []string{"S1"}, idx.added)
	assert.Equal(t, []string{"S1"}, idx.removed)
}

func TestService_ReplaceEmbeddingWithHNSWIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Enroll(ctx, student("S1", syntheticFace(15))))
	require.NoError(t, f.svc.Enroll(ctx, student("S2", syntheticFace(16))))

	idx := matching.NewHNSWIndex("")
	require.NoError(t, idx.Build(ctx, f.store))
	f.svc.WithIndex(idx)

	replacement := syntheticFace(17)
	ref := database.Ref{Role: database.RoleStudent, ID: "S1"}
	require.NotPanics(t, func() {
		require.NoError(t, f.svc.ReplaceEmbedding(ctx, ref, replacement))
	})
	assert.Equal(t, 2, idx.Len())

	got, err := idx.Nearest(ctx, replacement, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "S1", got[0].ID)

	renamed := student("S1", nil)
	renamed.Name = "Renamed"
	require.NotPanics(t, func() {
		require.NoError(t, f.svc.UpdateProfile(ctx, renamed, syntheticFace(18)))
	})
	got, err = idx.Nearest(ctx, syntheticFace(18), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Renamed", got[0].Name)
}

// profileFailingStore rejects profile writes and accepts everything else.
type profileFailingStore struct {
	*mock.MockIdentityStore
}

func (s profileFailingStore) Update(context.Context, *database.Identity) error {
	return errors.New("profile write failed")
}

func TestUpdateProfile_FailedProfileWriteKeepsFace(t *testing.T) {
	_, store, ledger, _ := mock.NewBackend(biometric.Dim)
	svc := NewService(profileFailingStore{store}, ledger,
		matching.NewGuard(store, 0.4, matching.ScopeRole),
		matching.NewLinearMatcher(store, 0.5),
		Options{MatchThreshold: 0.5, Location: time.UTC},
	)
	ctx := context.Background()
	original := syntheticFace(19)
	require.NoError(t, svc.Enroll(ctx, student("S1", original)))

	err := svc.UpdateProfile(ctx, student("S1", nil), syntheticFace(20))
	require.Error(t, err)

	stored, err := store.Get(ctx, database.RoleStudent, "S1")
	require.NoError(t, err)
	assert.Equal(t, original, stored.Embedding)
	assert.Equal(t, "Student S1", stored.Name)
}

func TestUpdateProfile_RejectsInvalidFaceBeforeWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Enroll(ctx, student("S1", syntheticFace(21))))

	renamed := student("S1", nil)
	renamed.Name = "Renamed"
	err := f.svc.UpdateProfile(ctx, renamed, biometric.Embedding{1, 2})
	require.ErrorIs(t, err, biometric.ErrMalformedEmbedding)

	stored, err := f.store.Get(ctx, database.RoleStudent, "S1")
	require.NoError(t, err)
	assert.Equal(t, "Student S1", stored.Name)
}

func TestMarkAttendance_SubjectTooLong(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := syntheticFace(22)
	require.NoError(t, f.svc.Enroll(ctx, student("S1", e)))

	_, err := f.svc.MarkAttendance(ctx, e, strings.Repeat("é", constants.MaxSubjectLength+1))
	require.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 0, f.ledger.Len())

	mark, err := f.svc.MarkAttendance(ctx, e, strings.Repeat("é", constants.MaxSubjectLength))
	require.NoError(t, err)
	require.NotNil(t, mark.Record)
}
