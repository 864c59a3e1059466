package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
	"gorm.io/gorm"
)

// IdentityRepository implements database.IdentityWriter with gorm.
type IdentityRepository struct {
	db  *gorm.DB
	dim int
}

func (r *IdentityRepository) toIdentity(m *identityModel) (*database.Identity, error) {
	identity := &database.Identity{
		ID:         m.ID,
		Role:       database.Role(m.Role),
		Name:       m.Name,
		Department: m.Department,
		PIN:        m.PIN,
		Photo:      m.Photo,
		CreatedAt:  m.CreatedAt,
	}
	if m.Subjects != "" {
		if err := json.Unmarshal([]byte(m.Subjects), &identity.Subjects); err != nil {
			return nil, fmt.Errorf("decode subjects of %s: %w", identity.Ref(), err)
		}
	}
	if m.Encoding == nil {
		return identity, nil
	}
	emb, err := biometric.Decode(m.Encoding, r.dim)
	if err != nil {
		var me *biometric.MalformedEmbeddingError
		if errors.As(err, &me) {
			me.Owner = identity.Ref().String()
		}
		identity.MalformedEncoding = true
		return identity, err
	}
	identity.Embedding = emb
	return identity, nil
}

// malformed reports whether err came from decoding a stored encoding.
func malformed(err error) bool {
	return errors.Is(err, biometric.ErrMalformedEmbedding)
}

func subjectsJSON(subjects []string) (string, error) {
	if subjects == nil {
		subjects = []string{}
	}
	data, err := json.Marshal(subjects)
	if err != nil {
		return "", fmt.Errorf("marshal subjects: %w", err)
	}
	return string(data), nil
}

func roleStrings(roles []database.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// Get retrieves an identity by role and id
func (r *IdentityRepository) Get(ctx context.Context, role database.Role, id string) (*database.Identity, error) {
	var m identityModel
	err := r.db.WithContext(ctx).Where("role = ? AND id = ?", string(role), id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	identity, err := r.toIdentity(&m)
	if malformed(err) {
		log.Printf("Warning: %v", err)
		return identity, nil
	}
	return identity, err
}

// List returns all identities of a role
func (r *IdentityRepository) List(ctx context.Context, role database.Role) ([]database.Identity, error) {
	var models []identityModel
	if err := r.db.WithContext(ctx).Where("role = ?", string(role)).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	out := make([]database.Identity, 0, len(models))
	for i := range models {
		identity, err := r.toIdentity(&models[i])
		if malformed(err) {
			log.Printf("Warning: %v", err)
		} else if err != nil {
			return nil, err
		}
		out = append(out, *identity)
	}
	return out, nil
}

// AllWithEmbedding streams identities with an encoding, ordered by (role, id).
// The sequence holds a connection until it is exhausted.
func (r *IdentityRepository) AllWithEmbedding(ctx context.Context, roles ...database.Role) iter.Seq2[*database.Identity, error] {
	return func(yield func(*database.Identity, error) bool) {
		query := r.db.WithContext(ctx).Model(&identityModel{}).Where("encoding IS NOT NULL")
		if len(roles) > 0 {
			query = query.Where("role IN ?", roleStrings(roles))
		}
		rows, err := query.Order("role, id").Rows()
		if err != nil {
			yield(nil, fmt.Errorf("query identities: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var m identityModel
			if err := r.db.ScanRows(rows, &m); err != nil {
				yield(nil, fmt.Errorf("scan identity: %w", err))
				return
			}
			identity, err := r.toIdentity(&m)
			if err != nil {
				if !malformed(err) {
					yield(nil, err)
					return
				}
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(identity, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("iterate identities: %w", err))
		}
	}
}

// ScanEncodings calls fn with every raw encoding
func (r *IdentityRepository) ScanEncodings(ctx context.Context, fn func(ref database.Ref, blob []byte) error) error {
	var models []identityModel
	err := r.db.WithContext(ctx).Select("role", "id", "encoding").
		Where("encoding IS NOT NULL").Order("role, id").Find(&models).Error
	if err != nil {
		return fmt.Errorf("query encodings: %w", err)
	}
	for _, m := range models {
		if err := fn(database.Ref{Role: database.Role(m.Role), ID: m.ID}, m.Encoding); err != nil {
			return err
		}
	}
	return nil
}

// Insert stores a new identity
func (r *IdentityRepository) Insert(ctx context.Context, identity *database.Identity) error {
	m := identityModel{
		Role:       string(identity.Role),
		ID:         identity.ID,
		Name:       identity.Name,
		Department: identity.Department,
		PIN:        identity.PIN,
		Photo:      identity.Photo,
	}
	if identity.Embedding != nil {
		if err := identity.Embedding.Validate(r.dim); err != nil {
			return fmt.Errorf("insert identity: %w", err)
		}
		m.Encoding = biometric.Encode(identity.Embedding)
	}
	subjects, err := subjectsJSON(identity.Subjects)
	if err != nil {
		return err
	}
	m.Subjects = subjects

	err = r.db.WithContext(ctx).Create(&m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("insert identity %s: %w", identity.Ref(), database.ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	identity.CreatedAt = m.CreatedAt
	return nil
}

func rowsAffected(result *gorm.DB) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return database.ErrNotFound
	}
	return nil
}

// Update overwrites profile metadata
func (r *IdentityRepository) Update(ctx context.Context, identity *database.Identity) error {
	subjects, err := subjectsJSON(identity.Subjects)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&identityModel{}).
		Where("role = ? AND id = ?", string(identity.Role), identity.ID).
		Updates(map[string]any{
			"name":       identity.Name,
			"department": identity.Department,
			"subjects":   subjects,
			"pin":        identity.PIN,
			"photo":      identity.Photo,
		})
	if err := rowsAffected(result); err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	return nil
}

// UpdateEmbedding replaces the stored vector
func (r *IdentityRepository) UpdateEmbedding(ctx context.Context, ref database.Ref, embedding biometric.Embedding) error {
	if err := embedding.Validate(r.dim); err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	result := r.db.WithContext(ctx).Model(&identityModel{}).
		Where("role = ? AND id = ?", string(ref.Role), ref.ID).
		Update("encoding", biometric.Encode(embedding))
	if err := rowsAffected(result); err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	return nil
}

// Delete removes an identity; deleting a student also removes its attendance
func (r *IdentityRepository) Delete(ctx context.Context, ref database.Ref) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("role = ? AND id = ?", string(ref.Role), ref.ID).Delete(&identityModel{})
		if err := rowsAffected(result); err != nil {
			return fmt.Errorf("delete identity: %w", err)
		}
		if ref.Role != database.RoleStudent {
			return nil
		}
		if err := tx.Where("identity_id = ?", ref.ID).Delete(&attendanceModel{}).Error; err != nil {
			return fmt.Errorf("delete attendance: %w", err)
		}
		return nil
	})
}
