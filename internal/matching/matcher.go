// Package matching finds the enrolled identity closest to an unknown face and
// guards enrollment against duplicate faces.
package matching

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// Outcome classifies an identification attempt.
type Outcome int

const (
	// NoCandidates means nothing in scope carries an embedding.
	NoCandidates Outcome = iota
	// NoMatch means the closest identity is not within the match threshold.
	NoMatch
	// Matched means Identity is accepted at Distance.
	Matched
)

func (o Outcome) String() string {
	switch o {
	case NoCandidates:
		return "no_candidates"
	case NoMatch:
		return "no_match"
	case Matched:
		return "matched"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result of Matcher.Identify. For NoMatch, Identity and Distance describe the
// closest rejected candidate. Skipped counts records excluded as malformed.
type Result struct {
	Outcome  Outcome
	Identity *database.Identity
	Distance float64
	Skipped  int
}

// Matcher identifies an unknown embedding among enrolled identities of the
// given roles (all roles when none are given).
type Matcher interface {
	Identify(ctx context.Context, unknown biometric.Embedding, roles ...database.Role) (Result, error)
}

// LinearMatcher compares the unknown embedding with every enrolled one.
// The minimum distance wins; on ties the first identity in (role, id) order wins.
type LinearMatcher struct {
	store     database.IdentityReader
	threshold float64
}

// NewLinearMatcher creates a matcher accepting distances below threshold.
func NewLinearMatcher(store database.IdentityReader, threshold float64) *LinearMatcher {
	return &LinearMatcher{store: store, threshold: threshold}
}

// Identify scans the store and returns the best candidate.
func (m *LinearMatcher) Identify(ctx context.Context, unknown biometric.Embedding, roles ...database.Role) (Result, error) {
	return bestOf(m.store.AllWithEmbedding(ctx, roles...), unknown, m.threshold)
}

// bestOf reduces a candidate sequence to a Result. Malformed entries are
// logged and skipped, any other error aborts.
func bestOf(candidates iter.Seq2[*database.Identity, error], unknown biometric.Embedding, threshold float64) (Result, error) {
	var res Result
	for identity, err := range candidates {
		if err != nil {
			if errors.Is(err, biometric.ErrMalformedEmbedding) {
				res.Skipped++
				skipMalformed(err)
				continue
			}
			return Result{}, fmt.Errorf("scan identities: %w", err)
		}
		d, err := biometric.Distance(unknown, identity.Embedding)
		if err != nil {
			res.Skipped++
			skipMalformed(fmt.Errorf("%s: %w", identity.Ref(), err))
			continue
		}
		if res.Identity == nil || d < res.Distance {
			res.Identity = identity
			res.Distance = d
		}
	}

	switch {
	case res.Identity == nil:
		res.Outcome = NoCandidates
	case biometric.Accepts(res.Distance, threshold):
		res.Outcome = Matched
	default:
		res.Outcome = NoMatch
	}
	return res, nil
}

func skipMalformed(err error) {
	log.Printf("Warning: excluding identity from face scan: %v", err)
	metrics.MalformedEmbeddings.Inc()
}
