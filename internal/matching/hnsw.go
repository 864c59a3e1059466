package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// HNSW graph parameters for 128-dim face descriptors.
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 64

	// HNSWSearchMultiplier widens the search so role filtering still leaves k results.
	HNSWSearchMultiplier = 3

	// DefaultCandidates is how many nearest identities are re-ranked exactly.
	DefaultCandidates = 10
)

// HNSWIndex is an in-memory approximate nearest-neighbour index over
// enrolled embeddings, keyed by "role/id".
type HNSWIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[string]
	identities map[string]*database.Identity
	path       string // optional file the graph is persisted to
}

// NewHNSWIndex creates an empty index. If path is non-empty, Build tries to
// reuse a graph saved there and Save writes to it.
func NewHNSWIndex(path string) *HNSWIndex {
	return &HNSWIndex{
		identities: make(map[string]*database.Identity),
		path:       path,
	}
}

// graphOf builds a fresh graph holding every identity.
func graphOf(identities map[string]*database.Identity) *hnsw.Graph[string] {
	g := newGraph()
	for key, identity := range identities {
		g.Add(hnsw.MakeNode(key, identity.Embedding.Float32()))
	}
	return g
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build loads every enrolled embedding from store. A saved graph is reused
// only when it holds exactly the stored vectors.
func (h *HNSWIndex) Build(ctx context.Context, store database.IdentityReader) error {
	identities := make(map[string]*database.Identity)
	for identity, err := range store.AllWithEmbedding(ctx) {
		if err != nil {
			if errors.Is(err, biometric.ErrMalformedEmbedding) {
				skipMalformed(err)
				continue
			}
			return fmt.Errorf("loading embeddings: %w", err)
		}
		identities[identity.Ref().String()] = identity
	}

	graph := h.loadSaved(identities)
	if graph == nil {
		graph = graphOf(identities)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = graph
	h.identities = identities
	return nil
}

// loadSaved returns the persisted graph if it is in sync with identities.
func (h *HNSWIndex) loadSaved(identities map[string]*database.Identity) *hnsw.Graph[string] {
	if h.path == "" {
		return nil
	}
	if _, err := os.Stat(h.path); err != nil {
		return nil
	}
	saved, err := hnsw.LoadSavedGraph[string](h.path)
	if err != nil {
		log.Printf("Warning: ignoring HNSW index at %s: %v", h.path, err)
		return nil
	}
	if saved.Len() != len(identities) {
		return nil
	}
	for key, identity := range identities {
		vec, ok := saved.Lookup(key)
		if !ok || !slices.Equal(vec, identity.Embedding.Float32()) {
			return nil
		}
	}
	return saved.Graph
}

// Add inserts or replaces the embedding of identity. hnsw.Graph cannot
// re-add a key it already holds, so a replacement rebuilds the graph.
func (h *HNSWIndex) Add(identity *database.Identity) {
	if identity.Embedding == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	key := identity.Ref().String()
	cp := *identity
	h.identities[key] = &cp

	if h.graph == nil {
		h.graph = newGraph()
	}
	if _, exists := h.graph.Lookup(key); exists {
		h.graph = graphOf(h.identities)
		return
	}
	h.graph.Add(hnsw.MakeNode(key, identity.Embedding.Float32()))
}

// Remove drops an identity and rebuilds the graph without it.
func (h *HNSWIndex) Remove(ref database.Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := ref.String()
	if _, ok := h.identities[key]; !ok {
		return
	}
	delete(h.identities, key)
	h.graph = graphOf(h.identities)
}

// Len returns the number of searchable identities.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.identities)
}

// Nearest implements NearestSource.
func (h *HNSWIndex) Nearest(ctx context.Context, query biometric.Embedding, k int, roles ...database.Role) ([]*database.Identity, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || h.graph.Len() == 0 {
		return nil, nil
	}

	nodes := h.graph.Search(query.Float32(), k*HNSWSearchMultiplier)
	out := make([]*database.Identity, 0, k)
	for _, n := range nodes {
		identity, ok := h.identities[n.Key]
		if !ok {
			continue
		}
		if len(roles) > 0 && !slices.Contains(roles, identity.Role) {
			continue
		}
		cp := *identity
		out = append(out, &cp)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Save persists the graph to the configured path.
func (h *HNSWIndex) Save() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.path == "" {
		return nil
	}
	if h.graph == nil || len(h.identities) == 0 {
		// Remove stale file (best-effort).
		_ = os.Remove(h.path)
		return nil
	}

	f, err := os.Create(h.path)
	if err != nil {
		return fmt.Errorf("creating HNSW index file: %w", err)
	}
	defer f.Close()

	if err := h.graph.Export(f); err != nil {
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	return nil
}
