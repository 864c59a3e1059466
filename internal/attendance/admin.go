package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/matching"
)

var adminRef = database.Ref{Role: database.RoleAdmin, ID: database.AdminID}

// AdminConfigured reports whether the singleton admin has a face enrolled.
// A corrupt stored face still counts: it must be removed deliberately.
func (s *Service) AdminConfigured(ctx context.Context) (bool, error) {
	admin, err := s.identities.Get(ctx, database.RoleAdmin, database.AdminID)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get admin: %w", err)
	}
	return admin.HasEncoding(), nil
}

// SetupAdmin enrolls the admin face. Without replace it fails with
// ErrAdminExists once an admin is configured.
func (s *Service) SetupAdmin(ctx context.Context, name, photo string, embedding biometric.Embedding, replace bool) (*database.Identity, error) {
	if err := s.validateEmbedding(embedding); err != nil {
		return nil, err
	}
	if name == "" {
		name = "Administrator"
	}

	existing, err := s.identities.Get(ctx, database.RoleAdmin, database.AdminID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		admin := &database.Identity{
			ID:        database.AdminID,
			Role:      database.RoleAdmin,
			Name:      name,
			Photo:     photo,
			Embedding: embedding,
		}
		if err := s.identities.Insert(ctx, admin); err != nil {
			if errors.Is(err, database.ErrDuplicateID) {
				return nil, ErrAdminExists
			}
			return nil, fmt.Errorf("insert admin: %w", err)
		}
		if s.index != nil {
			s.index.Add(admin)
		}
		return admin, nil
	case err != nil:
		return nil, fmt.Errorf("get admin: %w", err)
	}

	if existing.HasEncoding() && !replace {
		return nil, ErrAdminExists
	}
	existing.Name = name
	existing.Photo = photo
	if err := s.identities.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("update admin: %w", err)
	}
	if err := s.identities.UpdateEmbedding(ctx, adminRef, embedding); err != nil {
		return nil, fmt.Errorf("update admin face: %w", err)
	}
	existing.Embedding = embedding
	existing.MalformedEncoding = false
	if s.index != nil {
		s.index.Add(existing)
	}
	return existing, nil
}

// AuthenticateAdmin accepts the admin when embedding lies within the match
// threshold of the enrolled admin face.
func (s *Service) AuthenticateAdmin(ctx context.Context, embedding biometric.Embedding) (*database.Identity, float64, error) {
	if err := s.validateEmbedding(embedding); err != nil {
		return nil, 0, err
	}
	res, err := s.identify(ctx, embedding, database.RoleAdmin)
	if err != nil {
		return nil, 0, err
	}
	switch res.Outcome {
	case matching.NoCandidates:
		return nil, 0, ErrAdminNotConfigured
	case matching.NoMatch:
		return nil, res.Distance, ErrFaceMismatch
	}
	return res.Identity, res.Distance, nil
}
