// Package netstatus tracks whether the machine currently has network connectivity.
package netstatus

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/italolelis/apphub_installer/internal/logctx"
)

// Monitor keeps the result of the last connectivity probe. It starts out
// online so the first transfer is not refused before any probe ran.
type Monitor struct {
	addr    string
	timeout time.Duration
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)

	online atomic.Bool
}

// NewMonitor probes addr (host:port) with a TCP dial bounded by timeout.
func NewMonitor(addr string, timeout time.Duration) *Monitor {
	d := &net.Dialer{Timeout: timeout}

	m := &Monitor{
		addr:    addr,
		timeout: timeout,
		dial:    d.DialContext,
	}
	m.online.Store(true)

	return m
}

// Online reports the last observed connectivity.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Set overrides the observed connectivity, e.g. from an OS notification.
func (m *Monitor) Set(online bool) {
	m.online.Store(online)
}

// Probe dials the probe address once and records the result.
func (m *Monitor) Probe(ctx context.Context) bool {
	logger := logctx.LoggerFromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.dial(ctx, "tcp", m.addr)
	online := err == nil

	if conn != nil {
		_ = conn.Close()
	}

	if prev := m.online.Swap(online); prev != online {
		if online {
			logger.InfoContext(ctx, "network connectivity restored", "probe_addr", m.addr)
		} else {
			logger.WarnContext(ctx, "network connectivity lost", "probe_addr", m.addr, "err", err)
		}
	}

	return online
}

// Always is a connectivity source that never reports offline.
type Always struct{}

func (Always) Online() bool { return true }
