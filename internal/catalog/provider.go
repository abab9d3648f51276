package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/apphub_installer/internal/logctx"
)

const maxCatalogSize = 20 * 1024 * 1024 // 20MB

// Cache persists the raw catalog document between runs.
// LoadCatalog returns nil data when nothing has been cached yet.
type Cache interface {
	LoadCatalog(ctx context.Context) ([]byte, time.Time, error)
	SaveCatalog(ctx context.Context, data []byte, fetchedAt time.Time) error
}

// Provider fetches the catalog document over HTTP and keeps the last good copy.
type Provider struct {
	url     string
	client  *http.Client
	cache   Cache
	ttl     time.Duration
	now     func() time.Time
	maxSize int64

	mu      sync.RWMutex
	current *Catalog
}

func NewProvider(url string, client *http.Client, cache Cache, ttl time.Duration) *Provider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Provider{
		url:     url,
		client:  client,
		cache:   cache,
		ttl:     ttl,
		now:     time.Now,
		maxSize: maxCatalogSize,
	}
}

// Current returns the last loaded catalog, or nil before the first
// successful Fetch.
func (p *Provider) Current() *Catalog {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.current
}

// Fetch loads the catalog. A fresh cached copy is used unless forceRefresh is
// set; when the network fetch fails a stale cached copy is returned instead.
func (p *Provider) Fetch(ctx context.Context, forceRefresh bool) (*Catalog, error) {
	logger := logctx.LoggerFromContext(ctx).With("catalog_url", p.url)

	var (
		cached    []byte
		fetchedAt time.Time
	)

	if p.cache != nil {
		var err error

		cached, fetchedAt, err = p.cache.LoadCatalog(ctx)
		if err != nil {
			logger.WarnContext(ctx, "failed to load cached catalog", "err", err)
		}
	}

	if !forceRefresh && cached != nil && p.now().Sub(fetchedAt) < p.ttl {
		c, err := decode(cached)
		if err == nil {
			logger.DebugContext(ctx, "using cached catalog", "fetched_at", fetchedAt, "app_count", len(c.Apps))
			p.set(c)

			return c, nil
		}

		logger.WarnContext(ctx, "cached catalog is unreadable, refetching", "err", err)
	}

	data, err := p.download(ctx)
	if err != nil {
		if cached != nil {
			if c, decodeErr := decode(cached); decodeErr == nil {
				logger.WarnContext(ctx, "catalog fetch failed, falling back to cached copy", "err", err, "fetched_at", fetchedAt)
				p.set(c)

				return c, nil
			}
		}

		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}

	c, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	if p.cache != nil {
		if err := p.cache.SaveCatalog(ctx, data, p.now()); err != nil {
			logger.WarnContext(ctx, "failed to cache catalog", "err", err)
		}
	}

	logger.InfoContext(ctx, "catalog loaded", "app_count", len(c.Apps), "publisher_count", len(c.Publishers))
	p.set(c)

	return c, nil
}

func (p *Provider) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("catalog request failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	if int64(len(data)) > p.maxSize {
		return nil, fmt.Errorf("catalog exceeds %s", humanize.IBytes(uint64(p.maxSize)))
	}

	return data, nil
}

func (p *Provider) set(c *Catalog) {
	p.mu.Lock()
	p.current = c
	p.mu.Unlock()
}

func decode(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	return &c, nil
}
