package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sqlgateway/internal/dialect"
	"sqlgateway/internal/models"
)

// CredentialCipher seals credential URIs at rest.
type CredentialCipher interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

type DatabaseTargetRepository struct {
	pool   *pgxpool.Pool
	cipher CredentialCipher
}

func NewDatabaseTargetRepository(pool *pgxpool.Pool, cipher CredentialCipher) *DatabaseTargetRepository {
	return &DatabaseTargetRepository{pool: pool, cipher: cipher}
}

const targetColumns = `id, display_name, credential_uri, owner_kind, owner_ref, dialect, active,
		schema_digest, sample_digest, created_by, created_at, last_used_at`

func (r *DatabaseTargetRepository) Create(ctx context.Context, target *models.DatabaseTarget) error {
	target.Prepare()

	if target.Owner == nil {
		return errors.New("target owner is required")
	}

	sealed, err := r.cipher.Seal(target.CredentialURI)
	if err != nil {
		return fmt.Errorf("failed to seal credential: %w", err)
	}

	query := `
		INSERT INTO database_targets (` + targetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.pool.Exec(ctx, query,
		target.ID,
		target.DisplayName,
		sealed,
		string(target.Owner.Kind()),
		target.Owner.Ref(),
		target.Dialect.String(),
		target.Active,
		target.SchemaDigest,
		target.SampleDigest,
		target.CreatedBy,
		target.CreatedAt,
		target.LastUsedAt,
	)

	return err
}

func (r *DatabaseTargetRepository) GetByID(ctx context.Context, id string) (*models.DatabaseTarget, error) {
	query := `SELECT ` + targetColumns + ` FROM database_targets WHERE id = $1`

	target, err := r.scanTarget(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return target, nil
}

// ListByOwner returns active targets for the owner, newest first.
func (r *DatabaseTargetRepository) ListByOwner(ctx context.Context, kind models.OwnerKind, ref string) ([]models.DatabaseTarget, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM database_targets
		WHERE owner_kind = $1 AND owner_ref = $2 AND active = TRUE
		ORDER BY created_at DESC, pk DESC
	`

	rows, err := r.pool.Query(ctx, query, string(kind), ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []models.DatabaseTarget
	for rows.Next() {
		target, err := r.scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *target)
	}

	return targets, rows.Err()
}

func (r *DatabaseTargetRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE database_targets SET active = $2 WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, active)
	return err
}

func (r *DatabaseTargetRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE database_targets SET last_used_at = $2 WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, at)
	return err
}

// Delete removes the row and records a tombstone for id in one transaction.
// It reports whether a row was removed.
func (r *DatabaseTargetRepository) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM database_targets WHERE id = $1`, id)
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `INSERT INTO deleted_database_targets (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id); err != nil {
		return false, fmt.Errorf("failed to record deleted target: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *DatabaseTargetRepository) WasDeleted(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deleted_database_targets WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *DatabaseTargetRepository) scanTarget(row pgx.Row) (*models.DatabaseTarget, error) {
	var (
		target       models.DatabaseTarget
		sealed       string
		ownerKind    string
		ownerRef     string
		dialectName  string
		schemaDigest *string
		sampleDigest *string
	)

	err := row.Scan(
		&target.ID,
		&target.DisplayName,
		&sealed,
		&ownerKind,
		&ownerRef,
		&dialectName,
		&target.Active,
		&schemaDigest,
		&sampleDigest,
		&target.CreatedBy,
		&target.CreatedAt,
		&target.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	target.CredentialURI, err = r.cipher.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target.ID, err)
	}

	// An unrecognised owner kind leaves Owner nil, which access control denies.
	if owner, err := models.NewOwner(models.OwnerKind(ownerKind), ownerRef); err == nil {
		target.Owner = owner
	}

	target.Dialect = dialect.Parse(dialectName)
	if schemaDigest != nil {
		target.SchemaDigest = *schemaDigest
	}
	if sampleDigest != nil {
		target.SampleDigest = *sampleDigest
	}

	return &target, nil
}
