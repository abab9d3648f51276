package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/apphub_installer/internal/logctx"
	"github.com/italolelis/apphub_installer/internal/storage"
)

// DeleteExpiredArtifacts removes artifacts downloaded more than keepDuration
// before now, together with their ledger rows. Files that are already gone are
// only dropped from the ledger. It returns how many artifacts were removed.
func DeleteExpiredArtifacts(ctx context.Context, repo storage.ArtifactRepository, keepDuration time.Duration, now time.Time) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	expired, err := repo.GetArtifactsBefore(ctx, now.Add(-keepDuration))
	if err != nil {
		return 0, fmt.Errorf("failed to list expired artifacts: %w", err)
	}

	removed := 0

	for _, rec := range expired {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		if err := os.Remove(rec.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.ErrorContext(ctx, "failed to delete expired artifact", "file", rec.Path, "err", err)

			return removed, err
		}

		if err := repo.DeleteArtifact(ctx, rec.Path); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return removed, fmt.Errorf("failed to untrack artifact %s: %w", rec.Path, err)
		}

		removed++

		logger.InfoContext(ctx, "deleted expired artifact",
			"app_id", rec.AppID,
			"file", rec.Path,
			"size", humanize.Bytes(uint64(max(rec.Size, 0))),
			"downloaded", humanize.RelTime(rec.DownloadedAt, now, "ago", "from now"),
		)
	}

	return removed, nil
}
