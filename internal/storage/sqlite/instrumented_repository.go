package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/apphub_installer/internal/storage"
	"github.com/italolelis/apphub_installer/internal/telemetry"
)

// InstrumentedArtifactRepository wraps ArtifactRepository with telemetry.
type InstrumentedArtifactRepository struct {
	repo      *ArtifactRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedArtifactRepository creates a new instrumented artifact repository.
func NewInstrumentedArtifactRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedArtifactRepository {
	return &InstrumentedArtifactRepository{
		repo:      NewArtifactRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedArtifactRepository) TrackArtifact(ctx context.Context, rec storage.ArtifactRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_artifact", func(ctx context.Context) error {
		return r.repo.TrackArtifact(ctx, rec)
	})
}

func (r *InstrumentedArtifactRepository) GetArtifacts(ctx context.Context) ([]storage.ArtifactRecord, error) {
	var result []storage.ArtifactRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_artifacts", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetArtifacts(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedArtifactRepository) GetArtifactsBefore(ctx context.Context, cutoff time.Time) ([]storage.ArtifactRecord, error) {
	var result []storage.ArtifactRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_artifacts_before", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetArtifactsBefore(ctx, cutoff)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedArtifactRepository) DeleteArtifact(ctx context.Context, path string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_artifact", func(ctx context.Context) error {
		return r.repo.DeleteArtifact(ctx, path)
	})
}

// InstrumentedCatalogCache wraps CatalogCache with telemetry.
type InstrumentedCatalogCache struct {
	cache     *CatalogCache
	telemetry *telemetry.Telemetry
}

func NewInstrumentedCatalogCache(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedCatalogCache {
	return &InstrumentedCatalogCache{cache: NewCatalogCache(dbConn), telemetry: tel}
}

func (c *InstrumentedCatalogCache) LoadCatalog(ctx context.Context) ([]byte, time.Time, error) {
	var (
		data      []byte
		fetchedAt time.Time
	)

	err := c.telemetry.InstrumentDBOperation(ctx, "load_catalog", func(ctx context.Context) error {
		var err error

		data, fetchedAt, err = c.cache.LoadCatalog(ctx)

		return err
	})

	return data, fetchedAt, err
}

func (c *InstrumentedCatalogCache) SaveCatalog(ctx context.Context, data []byte, fetchedAt time.Time) error {
	return c.telemetry.InstrumentDBOperation(ctx, "save_catalog", func(ctx context.Context) error {
		return c.cache.SaveCatalog(ctx, data, fetchedAt)
	})
}
