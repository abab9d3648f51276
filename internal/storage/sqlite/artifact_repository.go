package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/apphub_installer/internal/storage"
)

// ArtifactRepository implements storage.ArtifactRepository on SQLite.
type ArtifactRepository struct {
	db *sql.DB
}

func NewArtifactRepository(dbConn *sql.DB) *ArtifactRepository {
	return &ArtifactRepository{db: dbConn}
}

// TrackArtifact records an artifact. A second download to the same path replaces the row.
func (r *ArtifactRepository) TrackArtifact(ctx context.Context, rec storage.ArtifactRecord) error {
	if rec.DownloadedAt.IsZero() {
		rec.DownloadedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO artifacts (app_id, version, file_path, size, downloaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			app_id = excluded.app_id,
			version = excluded.version,
			size = excluded.size,
			downloaded_at = excluded.downloaded_at
	`, rec.AppID, rec.Version, rec.Path, rec.Size, rec.DownloadedAt.UTC().Format(time.RFC3339))

	return err
}

func (r *ArtifactRepository) GetArtifacts(ctx context.Context) ([]storage.ArtifactRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT app_id, version, file_path, size, downloaded_at FROM artifacts ORDER BY downloaded_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanArtifacts(rows)
}

// GetArtifactsBefore returns artifacts downloaded before cutoff.
func (r *ArtifactRepository) GetArtifactsBefore(ctx context.Context, cutoff time.Time) ([]storage.ArtifactRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT app_id, version, file_path, size, downloaded_at FROM artifacts
		WHERE downloaded_at < ?
		ORDER BY downloaded_at`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanArtifacts(rows)
}

func (r *ArtifactRepository) DeleteArtifact(ctx context.Context, path string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM artifacts WHERE file_path = ?`, path)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func scanArtifacts(rows *sql.Rows) ([]storage.ArtifactRecord, error) {
	var artifacts []storage.ArtifactRecord

	for rows.Next() {
		var (
			rec          storage.ArtifactRecord
			version      sql.NullString
			downloadedAt string
		)

		if err := rows.Scan(&rec.AppID, &version, &rec.Path, &rec.Size, &downloadedAt); err != nil {
			return nil, err
		}

		rec.Version = version.String

		t, err := time.Parse(time.RFC3339, downloadedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse downloaded_at for %s: %w", rec.Path, err)
		}

		rec.DownloadedAt = t
		artifacts = append(artifacts, rec)
	}

	return artifacts, rows.Err()
}
