package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

const identityColumns = "role, id, name, department, subjects, pin, photo, encoding, created_at"

// IdentityRepository implements database.IdentityWriter on PostgreSQL.
type IdentityRepository struct {
	pool *Pool
	dim  int
}

// NewIdentityRepository creates a repository for dim-sized embeddings.
func NewIdentityRepository(pool *Pool, dim int) *IdentityRepository {
	return &IdentityRepository{pool: pool, dim: dim}
}

// scanIdentity reads identityColumns; the encoding is returned undecoded.
func scanIdentity(scanner interface{ Scan(...any) error }) (*database.Identity, []byte, error) {
	var (
		identity database.Identity
		role     string
		subjects []string
		encoding []byte
	)
	err := scanner.Scan(&role, &identity.ID, &identity.Name, &identity.Department,
		pq.Array(&subjects), &identity.PIN, &identity.Photo, &encoding, &identity.CreatedAt)
	if err != nil {
		return nil, nil, err
	}
	identity.Role = database.Role(role)
	identity.Subjects = subjects
	return &identity, encoding, nil
}

// decodeInto attaches the decoded encoding to identity, tagging decode
// failures with the owning identity.
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

func roleStrings(roles []database.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// encodedParams returns the BYTEA and vector parameters for an embedding.
func encodedParams(emb biometric.Embedding) (any, any) {
	if emb == nil {
		return nil, nil
	}
	return biometric.Encode(emb), pgvector.NewVector(emb.Float32())
}

// Get retrieves an identity by role and id
func (r *IdentityRepository) Get(ctx context.Context, role database.Role, id string) (*database.Identity, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+identityColumns+" FROM identities WHERE role = $1 AND id = $2", string(role), id)
	identity, encoding, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	if err := r.decodeInto(identity, encoding); err != nil {
		// The profile is still served, the corrupt vector is not.
		log.Printf("Warning: %v", err)
	}
	return identity, nil
}

// List returns every identity of a role ordered by id
func (r *IdentityRepository) List(ctx context.Context, role database.Role) ([]database.Identity, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+identityColumns+" FROM identities WHERE role = $1 ORDER BY id", string(role))
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
		rows, err := r.pool.Query(ctx, `
			SELECT `+identityColumns+`
			FROM identities
			WHERE encoding IS NOT NULL
			  AND (cardinality($1::text[]) = 0 OR role = ANY($1))
			ORDER BY role, id`, pq.Array(roleStrings(roles)))
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

// Nearest returns up to k identities ordered by pgvector L2 distance.
// Rows whose encoding fails to decode are skipped.
func (r *IdentityRepository) Nearest(ctx context.Context, query biometric.Embedding, k int, roles ...database.Role) ([]*database.Identity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE embedding IS NOT NULL
		  AND (cardinality($1::text[]) = 0 OR role = ANY($1))
		ORDER BY embedding <-> $2, role, id
		LIMIT $3`, pq.Array(roleStrings(roles)), pgvector.NewVector(query.Float32()), k)
	if err != nil {
		return nil, fmt.Errorf("query nearest identities: %w", err)
	}
	defer rows.Close()

	var out []*database.Identity
	for rows.Next() {
		identity, encoding, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		if encoding == nil {
			continue
		}
		if err := r.decodeInto(identity, encoding); err != nil {
			log.Printf("Warning: excluding identity from face scan: %v", err)
			continue
		}
		out = append(out, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest identities: %w", err)
	}
	return out, nil
}

// ScanEncodings calls fn with every raw encoding
func (r *IdentityRepository) ScanEncodings(ctx context.Context, fn func(ref database.Ref, blob []byte) error) error {
	rows, err := r.pool.Query(ctx, "SELECT role, id, encoding FROM identities WHERE encoding IS NOT NULL ORDER BY role, id")
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
	if identity.Embedding != nil {
		if err := identity.Embedding.Validate(r.dim); err != nil {
			return fmt.Errorf("insert identity: %w", err)
		}
	}
	encoding, vec := encodedParams(identity.Embedding)
	subjects := identity.Subjects
	if subjects == nil {
		subjects = []string{}
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO identities (role, id, name, department, subjects, pin, photo, encoding, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		string(identity.Role), identity.ID, identity.Name, identity.Department,
		pq.Array(subjects), identity.PIN, identity.Photo, encoding, vec)
	if err := row.Scan(&identity.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert identity %s: %w", identity.Ref(), database.ErrDuplicateID)
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

// Update overwrites profile metadata
func (r *IdentityRepository) Update(ctx context.Context, identity *database.Identity) error {
	subjects := identity.Subjects
	if subjects == nil {
		subjects = []string{}
	}
	result, err := r.pool.Exec(ctx, `
		UPDATE identities
		SET name = $3, department = $4, subjects = $5, pin = $6, photo = $7
		WHERE role = $1 AND id = $2`,
		string(identity.Role), identity.ID, identity.Name, identity.Department,
		pq.Array(subjects), identity.PIN, identity.Photo)
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
	encoding, vec := encodedParams(embedding)
	result, err := r.pool.Exec(ctx,
		"UPDATE identities SET encoding = $3, embedding = $4 WHERE role = $1 AND id = $2",
		string(ref.Role), ref.ID, encoding, vec)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	return expectOneRow(result)
}

// Delete removes an identity; deleting a student also removes its attendance
func (r *IdentityRepository) Delete(ctx context.Context, ref database.Ref) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	result, err := tx.ExecContext(ctx, "DELETE FROM identities WHERE role = $1 AND id = $2", string(ref.Role), ref.ID)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return err
	}
	if ref.Role == database.RoleStudent {
		if _, err := tx.ExecContext(ctx, "DELETE FROM attendance WHERE identity_id = $1", ref.ID); err != nil {
			return fmt.Errorf("delete attendance: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}
