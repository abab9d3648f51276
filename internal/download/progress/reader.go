package progress

import (
	"context"
	"io"
)

// Indeterminate is reported as the fraction when the total size is unknown.
const Indeterminate = -1.0

// Reader wraps an io.Reader and reports progress on every read that returns
// data. Reads fail with the context error once ctx is done, so a cancelled
// transfer stops within one read.
type Reader struct {
	ctx        context.Context
	r          io.Reader
	total      int64
	read       int64
	last       float64
	onProgress func(fraction float64, read, total int64)
}

// NewReader reports read/total as a fraction in [0, 1] that never decreases.
// total <= 0 reports Indeterminate.
func NewReader(ctx context.Context, r io.Reader, total int64, cb func(fraction float64, read, total int64)) *Reader {
	return &Reader{ctx: ctx, r: r, total: total, onProgress: cb}
}

func (pr *Reader) Read(p []byte) (int, error) {
	if err := pr.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := pr.r.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.report()
	}

	return n, err
}

func (pr *Reader) report() {
	if pr.onProgress == nil {
		return
	}

	if pr.total <= 0 {
		pr.onProgress(Indeterminate, pr.read, pr.total)

		return
	}

	f := float64(pr.read) / float64(pr.total)
	if f > 1 {
		f = 1
	}

	if f < pr.last {
		f = pr.last
	}

	pr.last = f
	pr.onProgress(f, pr.read, pr.total)
}
