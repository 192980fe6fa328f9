package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/revision-checker/internal/models"
)

// BlobRepository stores immutable content-addressed payloads.
type BlobRepository struct {
	db *sqlx.DB
}

// NewBlobRepository constructs the repository.
func NewBlobRepository(db *sqlx.DB) *BlobRepository {
	return &BlobRepository{db: db}
}

// Store saves data under its SHA-256 id. The insert is a no-op when the id
// already exists; created reports whether this call wrote the row.
func (r *BlobRepository) Store(ctx context.Context, data []byte) (string, bool, error) {
	id := models.BlobID(data)
	const query = `INSERT INTO blobs (id, blob) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, id, data)
	if err != nil {
		return "", false, fmt.Errorf("store blob %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("store blob %s: %w", id, err)
	}
	return id, affected > 0, nil
}

// Get returns the payload stored under id.
func (r *BlobRepository) Get(ctx context.Context, id string) ([]byte, error) {
	const query = `SELECT blob FROM blobs WHERE id = $1`
	var data []byte
	if err := r.db.GetContext(ctx, &data, query, id); err != nil {
		return nil, fmt.Errorf("get blob %s: %w", id, err)
	}
	return data, nil
}
