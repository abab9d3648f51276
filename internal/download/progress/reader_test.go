package progress

import (
	"bytes"
	"context"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReportsMonotonicFractions(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 100)

	var (
		fractions []float64
		lastRead  int64
	)

	r := NewReader(context.Background(), iotest.OneByteReader(bytes.NewReader(data)), 50, func(f float64, read, _ int64) {
		fractions = append(fractions, f)
		lastRead = read
	})

	n, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
	assert.Equal(t, int64(100), lastRead)
	require.Len(t, fractions, 100)

	for i, f := range fractions {
		assert.GreaterOrEqual(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)

		if i > 0 {
			assert.GreaterOrEqual(t, f, fractions[i-1])
		}
	}

	assert.Equal(t, 1.0, fractions[len(fractions)-1])
}

func TestReader_UnknownTotal(t *testing.T) {
	var got []float64

	r := NewReader(context.Background(), bytes.NewReader([]byte("abc")), 0, func(f float64, _, _ int64) {
		got = append(got, f)
	})

	_, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.Equal(t, []float64{Indeterminate}, got)
}

func TestReader_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	r := NewReader(ctx, iotest.OneByteReader(bytes.NewReader(make([]byte, 10))), 10, func(float64, int64, int64) {
		calls++
		if calls == 3 {
			cancel()
		}
	})

	_, err := io.Copy(io.Discard, r)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls)
}
