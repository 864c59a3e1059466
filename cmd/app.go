package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/matching"

	// Database drivers register themselves with the database package.
	_ "github.com/kozaktomas/face-attendance/internal/database/mariadb"
	_ "github.com/kozaktomas/face-attendance/internal/database/mock"
	_ "github.com/kozaktomas/face-attendance/internal/database/postgres"
	_ "github.com/kozaktomas/face-attendance/internal/database/sqlite"
)

// app holds what every command opens from the environment.
type app struct {
	cfg     *config.Config
	backend *database.Backend
	service *attendance.Service
	index   *matching.HNSWIndex // nil unless MATCHER=hnsw
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (*database.Backend, error) {
	backend, err := database.Open(ctx, cfg.Database.Driver, database.Options{
		URL:          cfg.Database.URL,
		Dim:          cfg.Embedding.Dim,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Database.Driver, err)
	}
	return backend, nil
}

func newEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	emb, err := embedder.New(embedder.Options{
		Backend:        cfg.Embedding.Backend,
		URL:            cfg.Embedding.URL,
		ModelsDir:      cfg.Embedding.ModelsDir,
		Dim:            cfg.Embedding.Dim,
		MaxConcurrency: cfg.Embedding.MaxConcurrency,
		MaxSide:        cfg.Embedding.MaxSide,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s embedder: %w", cfg.Embedding.Backend, err)
	}
	return emb, nil
}

// newApp loads the configuration, opens the database and wires the
// attendance service with the configured matcher.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a, err := wireApp(ctx, cfg, backend)
	if err != nil {
		return nil, errors.Join(err, backend.Close())
	}
	return a, nil
}

func wireApp(ctx context.Context, cfg *config.Config, backend *database.Backend) (*app, error) {
	scope, err := matching.ParseScope(cfg.Matching.DuplicateScope)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Attendance.Location()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, backend: backend}
	matcher, err := a.buildMatcher(ctx)
	if err != nil {
		return nil, err
	}

	a.service = attendance.NewService(
		backend.Identities,
		backend.Attendance,
		matching.NewGuard(backend.Identities, cfg.Matching.DuplicateThreshold, scope),
		matcher,
		attendance.Options{
			Dim:            cfg.Embedding.Dim,
			MatchThreshold: cfg.Matching.MatchThreshold,
			DefaultSubject: cfg.Attendance.DefaultSubject,
			Location:       loc,
		},
	)
	if a.index != nil {
		a.service.WithIndex(a.index)
	}
	return a, nil
}

// buildMatcher selects the identification strategy. Indexed matchers fall
// back to the linear scan when their candidate source fails.
func (a *app) buildMatcher(ctx context.Context) (matching.Matcher, error) {
	m := a.cfg.Matching
	linear := matching.NewLinearMatcher(a.backend.Identities, m.MatchThreshold)

	switch m.Matcher {
	case "hnsw":
		if m.HNSWIndexPath != "" {
			fmt.Printf("Loading face HNSW index from %s...\n", m.HNSWIndexPath)
		} else {
			fmt.Printf("Building in-memory HNSW index for face matching...\n")
		}
		index := matching.NewHNSWIndex(m.HNSWIndexPath)
		if err := index.Build(ctx, a.backend.Identities); err != nil {
			fmt.Printf("Warning: Failed to build face HNSW index: %v\n", err)
			fmt.Printf("Face matching will use a linear scan (slower)\n")
			return linear, nil
		}
		fmt.Printf("Face HNSW index ready with %d faces\n", index.Len())
		a.index = index
		return matching.NewIndexedMatcher(index, linear, m.Candidates, m.MatchThreshold), nil
	case "pgvector":
		source, ok := a.backend.Identities.(matching.NearestSource)
		if !ok {
			return nil, fmt.Errorf("%s backend does not support vector search", a.cfg.Database.Driver)
		}
		return matching.NewIndexedMatcher(source, linear, m.Candidates, m.MatchThreshold), nil
	default:
		return linear, nil
	}
}

// saveIndex persists the HNSW index when one is configured with a path.
func (a *app) saveIndex() {
	if a.index == nil || a.cfg.Matching.HNSWIndexPath == "" {
		return
	}
	if err := a.index.Save(); err != nil {
		fmt.Printf("Warning: failed to save face HNSW index: %v\n", err)
		return
	}
	fmt.Println("Face HNSW index saved to disk")
}

func (a *app) Close() error {
	return a.backend.Close()
}
