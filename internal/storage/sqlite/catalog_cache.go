package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CatalogCache keeps the single most recent catalog document.
type CatalogCache struct {
	db *sql.DB
}

func NewCatalogCache(dbConn *sql.DB) *CatalogCache {
	return &CatalogCache{db: dbConn}
}

func (c *CatalogCache) LoadCatalog(ctx context.Context) ([]byte, time.Time, error) {
	var (
		body      []byte
		fetchedAt string
	)

	err := c.db.QueryRowContext(ctx, `SELECT body, fetched_at FROM catalog_cache WHERE id = 1`).Scan(&body, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}

	if err != nil {
		return nil, time.Time{}, err
	}

	t, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil {
		// unparseable timestamp: treat the copy as stale
		return body, time.Time{}, nil
	}

	return body, t, nil
}

func (c *CatalogCache) SaveCatalog(ctx context.Context, data []byte, fetchedAt time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO catalog_cache (id, body, fetched_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, fetched_at = excluded.fetched_at
	`, data, fetchedAt.UTC().Format(time.RFC3339))

	return err
}
