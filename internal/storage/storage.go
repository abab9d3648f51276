package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ArtifactRecord is a downloaded installer kept on disk.
type ArtifactRecord struct {
	AppID        string
	Version      string
	Path         string
	Size         int64
	DownloadedAt time.Time
}

// ArtifactRepository keeps the ledger of artifacts written to the download directory.
type ArtifactRepository interface {
	TrackArtifact(ctx context.Context, rec ArtifactRecord) error
	GetArtifacts(ctx context.Context) ([]ArtifactRecord, error)
	GetArtifactsBefore(ctx context.Context, cutoff time.Time) ([]ArtifactRecord, error)
	DeleteArtifact(ctx context.Context, path string) error
}

// CatalogCache stores the last fetched catalog document. LoadCatalog returns
// nil data when nothing is cached.
type CatalogCache interface {
	LoadCatalog(ctx context.Context) ([]byte, time.Time, error)
	SaveCatalog(ctx context.Context, data []byte, fetchedAt time.Time) error
}
