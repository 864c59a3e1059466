package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
)

const identityColumns = "role, id, name, department, subjects, pin, photo, encoding, created_at"

// IdentityRepository implements database.IdentityWriter on MariaDB.
// Faculty subjects are stored as a JSON array.
type IdentityRepository struct {
	db  *sql.DB
	dim int
}

func scanIdentity(scanner interface{ Scan(...any) error }) (*database.Identity, []byte, error) {
	var (
		identity database.Identity
		role     string
		subjects string
		encoding []byte
	)
	err := scanner.Scan(&role, &identity.ID, &identity.Name, &identity.Department,
		&subjects, &identity.PIN, &identity.Photo, &encoding, &identity.CreatedAt)
	if err != nil {
		return nil, nil, err
	}
	identity.Role = database.Role(role)
	if subjects != "" {
		if err := json.Unmarshal([]byte(subjects), &identity.Subjects); err != nil {
			return nil, nil, fmt.Errorf("decode subjects of %s: %w", identity.Ref(), err)
		}
	}
	return &identity, encoding, nil
}

func (r *IdentityRepository) decodeInto(identity *database.Identity, encoding []byte) error {
	if encoding == nil {
		return nil
	}
	emb, err := biometric.Decode(encoding, r.dim)
	if err != nil {
		var me *biometric.MalformedEmbeddingError
		if errors.As(err, &me) {
			me.Owner = identity.Ref().String()
		}
		identity.MalformedEncoding = true
		return err
	}
	identity.Embedding = emb
	return nil
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

// roleFilter builds the optional "role IN (...)" condition.
func roleFilter(roles []database.Role) (string, []any) {
	if len(roles) == 0 {
		return "", nil
	}
	args := make([]any, len(roles))
	for i, role := range roles {
		args[i] = string(role)
	}
	return " AND role IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(roles)), ", ") + ")", args
}

// Get retrieves an identity by role and id
func (r *IdentityRepository) Get(ctx context.Context, role database.Role, id string) (*database.Identity, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+identityColumns+" FROM identities WHERE role = ? AND id = ?", string(role), id)
	identity, encoding, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	if err := r.decodeInto(identity, encoding); err != nil {
		log.Printf("Warning: %v", err)
	}
	return identity, nil
}

// List returns all identities of a role
func (r *IdentityRepository) List(ctx context.Context, role database.Role) ([]database.Identity, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+identityColumns+" FROM identities WHERE role = ? ORDER BY id", string(role))
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var out []database.Identity
	for rows.Next() {
		identity, encoding, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		if err := r.decodeInto(identity, encoding); err != nil {
			log.Printf("Warning: %v", err)
		}
		out = append(out, *identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// AllWithEmbedding streams identities with an encoding, ordered by (role, id)
func (r *IdentityRepository) AllWithEmbedding(ctx context.Context, roles ...database.Role) iter.Seq2[*database.Identity, error] {
	return func(yield func(*database.Identity, error) bool) {
		cond, args := roleFilter(roles)
		rows, err := r.db.QueryContext(ctx,
			"SELECT "+identityColumns+" FROM identities WHERE encoding IS NOT NULL"+cond+" ORDER BY role, id", args...)
		if err != nil {
			yield(nil, fmt.Errorf("query identities: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			identity, encoding, err := scanIdentity(rows)
			if err != nil {
				yield(nil, fmt.Errorf("scan identity: %w", err))
				return
			}
			if err := r.decodeInto(identity, encoding); err != nil {
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
	rows, err := r.db.QueryContext(ctx, "SELECT role, id, encoding FROM identities WHERE encoding IS NOT NULL ORDER BY role, id")
	if err != nil {
		return fmt.Errorf("query encodings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			role string
			ref  database.Ref
			blob []byte
		)
		if err := rows.Scan(&role, &ref.ID, &blob); err != nil {
			return fmt.Errorf("scan encoding: %w", err)
		}
		ref.Role = database.Role(role)
		if err := fn(ref, blob); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate encodings: %w", err)
	}
	return nil
}

// Insert stores a new identity
func (r *IdentityRepository) Insert(ctx context.Context, identity *database.Identity) error {
	var encoding []byte
	if identity.Embedding != nil {
		if err := identity.Embedding.Validate(r.dim); err != nil {
			return fmt.Errorf("insert identity: %w", err)
		}
		encoding = biometric.Encode(identity.Embedding)
	}
	subjects, err := subjectsJSON(identity.Subjects)
	if err != nil {
		return err
	}

	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO identities (role, id, name, department, subjects, pin, photo, encoding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(identity.Role), identity.ID, identity.Name, identity.Department,
		subjects, identity.PIN, identity.Photo, encoding, createdAt)
	if isDuplicateEntry(err) {
		return fmt.Errorf("insert identity %s: %w", identity.Ref(), database.ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	identity.CreatedAt = createdAt
	return nil
}

// Update overwrites profile metadata
func (r *IdentityRepository) Update(ctx context.Context, identity *database.Identity) error {
	subjects, err := subjectsJSON(identity.Subjects)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE identities SET name = ?, department = ?, subjects = ?, pin = ?, photo = ?
		WHERE role = ? AND id = ?`,
		identity.Name, identity.Department, subjects, identity.PIN, identity.Photo,
		string(identity.Role), identity.ID)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	return expectOneRow(result)
}

// UpdateEmbedding replaces the stored vector
func (r *IdentityRepository) UpdateEmbedding(ctx context.Context, ref database.Ref, embedding biometric.Embedding) error {
	if err := embedding.Validate(r.dim); err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	result, err := r.db.ExecContext(ctx, "UPDATE identities SET encoding = ? WHERE role = ? AND id = ?",
		biometric.Encode(embedding), string(ref.Role), ref.ID)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	return expectOneRow(result)
}

// Delete removes an identity; deleting a student also removes its attendance
func (r *IdentityRepository) Delete(ctx context.Context, ref database.Ref) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	result, err := tx.ExecContext(ctx, "DELETE FROM identities WHERE role = ? AND id = ?", string(ref.Role), ref.ID)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return err
	}
	if ref.Role == database.RoleStudent {
		if _, err := tx.ExecContext(ctx, "DELETE FROM attendance WHERE identity_id = ?", ref.ID); err != nil {
			return fmt.Errorf("delete attendance: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}
