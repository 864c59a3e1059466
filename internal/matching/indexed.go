package matching

import (
	"cmp"
	"context"
	"log"
	"slices"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// NearestSource returns up to k identities whose embeddings lie near query.
// Sources may be approximate; callers re-rank with exact distances.
type NearestSource interface {
	Nearest(ctx context.Context, query biometric.Embedding, k int, roles ...database.Role) ([]*database.Identity, error)
}

// IndexedMatcher narrows the population with a NearestSource and applies the
// exact distance, threshold and tie rule of LinearMatcher to the candidates.
// An approximate source can miss the true nearest identity; the accepted
// distance is always the exact one.
type IndexedMatcher struct {
	source    NearestSource
	fallback  Matcher
	k         int
	threshold float64
}

// NewIndexedMatcher creates a matcher asking source for k candidates.
// fallback answers when the source fails or yields nothing in scope.
func NewIndexedMatcher(source NearestSource, fallback Matcher, k int, threshold float64) *IndexedMatcher {
	if k <= 0 {
		k = DefaultCandidates
	}
	return &IndexedMatcher{source: source, fallback: fallback, k: k, threshold: threshold}
}

// Identify returns the best candidate among the source's nearest identities.
func (m *IndexedMatcher) Identify(ctx context.Context, unknown biometric.Embedding, roles ...database.Role) (Result, error) {
	candidates, err := m.source.Nearest(ctx, unknown, m.k, roles...)
	if err != nil {
		log.Printf("Warning: nearest-neighbour lookup failed, using linear scan: %v", err)
		return m.fallback.Identify(ctx, unknown, roles...)
	}
	if len(candidates) == 0 {
		return m.fallback.Identify(ctx, unknown, roles...)
	}

	slices.SortFunc(candidates, func(a, b *database.Identity) int {
		return cmp.Or(cmp.Compare(a.Role, b.Role), cmp.Compare(a.ID, b.ID))
	})
	return bestOf(func(yield func(*database.Identity, error) bool) {
		for _, c := range candidates {
			if !yield(c, nil) {
				return
			}
		}
	}, unknown, m.threshold)
}
