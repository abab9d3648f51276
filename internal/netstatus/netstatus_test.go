package netstatus

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_Probe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := NewMonitor(ln.Addr().String(), time.Second)
	assert.True(t, m.Online())
	assert.True(t, m.Probe(context.Background()))

	require.NoError(t, ln.Close())

	assert.False(t, m.Probe(context.Background()))
	assert.False(t, m.Online())
}

func TestMonitor_Set(t *testing.T) {
	m := NewMonitor("127.0.0.1:1", time.Second)

	m.Set(false)
	assert.False(t, m.Online())
	assert.True(t, Always{}.Online())
}
