package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// ErrDuplicateFace matches every *DuplicateFaceError.
var ErrDuplicateFace = errors.New("duplicate face")

// DuplicateFaceError rejects an enrollment whose face is already enrolled.
type DuplicateFaceError struct {
	Conflict *database.Identity
	Distance float64
}

func (e *DuplicateFaceError) Error() string {
	return fmt.Sprintf("duplicate face: matches %s %q (distance %.3f)", e.Conflict.Ref(), e.Conflict.Name, e.Distance)
}

func (e *DuplicateFaceError) Is(target error) bool {
	return target == ErrDuplicateFace
}

// Scope selects which enrolled identities a new face is compared against.
type Scope string

const (
	// ScopeRole compares only with identities of the candidate's role.
	ScopeRole Scope = "role"
	// ScopeAll compares with every enrolled identity.
	ScopeAll Scope = "all"
)

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScopeRole, ScopeAll:
		return sc, nil
	}
	return "", fmt.Errorf("unknown duplicate scope %q (want %q or %q)", s, ScopeRole, ScopeAll)
}

func (s Scope) roles(candidate database.Role) []database.Role {
	if s == ScopeAll {
		return nil
	}
	return []database.Role{candidate}
}

// Guard rejects enrollments that duplicate an enrolled face. Enroll holds a
// single-writer lock across the check and the write, so an embedding is
// always checked against every embedding committed before it.
type Guard struct {
	mu        sync.Mutex
	store     database.IdentityReader
	threshold float64
	scope     Scope
}

// NewGuard creates a guard rejecting distances below threshold.
func NewGuard(store database.IdentityReader, threshold float64, scope Scope) *Guard {
	if scope == "" {
		scope = ScopeRole
	}
	return &Guard{store: store, threshold: threshold, scope: scope}
}

// Scope returns the configured duplicate scope.
func (g *Guard) Scope() Scope {
	return g.scope
}

// CheckDuplicate returns the first identity in scope whose embedding lies
// within the duplicate threshold of candidate, or a nil identity. The
// identity addressed by exclude is ignored so re-enrolling a face does not
// conflict with itself.
func (g *Guard) CheckDuplicate(ctx context.Context, candidate biometric.Embedding, role database.Role, exclude database.Ref) (*database.Identity, float64, error) {
	for identity, err := range g.store.AllWithEmbedding(ctx, g.scope.roles(role)...) {
		if err != nil {
			if errors.Is(err, biometric.ErrMalformedEmbedding) {
				skipMalformed(err)
				continue
			}
			return nil, 0, fmt.Errorf("scan identities: %w", err)
		}
		if !exclude.IsZero() && identity.Ref() == exclude {
			continue
		}
		d, err := biometric.Distance(candidate, identity.Embedding)
		if err != nil {
			skipMalformed(fmt.Errorf("%s: %w", identity.Ref(), err))
			continue
		}
		if biometric.Accepts(d, g.threshold) {
			return identity, d, nil
		}
	}
	return nil, 0, nil
}

// Enroll runs write only if candidate is not a duplicate. The check and the
// write happen under the guard's lock. exclude is passed to CheckDuplicate.
func (g *Guard) Enroll(ctx context.Context, candidate biometric.Embedding, role database.Role, exclude database.Ref, write func(ctx context.Context) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	conflict, d, err := g.CheckDuplicate(ctx, candidate, role, exclude)
	if err != nil {
		return err
	}
	if conflict != nil {
		return &DuplicateFaceError{Conflict: conflict, Distance: d}
	}
	return write(ctx)
}
