package catalog

import (
	"strings"

	"github.com/dustin/go-humanize"
)

// Catalog is the remote list of installable apps and their publishers.
type Catalog struct {
	SchemaVersion string      `json:"schemaVersion"`
	LastUpdated   string      `json:"lastUpdated"`
	Publishers    []Publisher `json:"publishers"`
	Apps          []AppRecord `json:"apps"`
}

// Publisher is the author of one or more catalog apps.
type Publisher struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Website  string `json:"website,omitempty"`
	GitHub   string `json:"github,omitempty"`
	Verified bool   `json:"verified"`
}

// AppRecord is a single catalog entry. It is read-only once fetched.
type AppRecord struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	PublisherID  string   `json:"publisherId"`
	Tagline      string   `json:"tagline"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	Featured     bool     `json:"featured,omitempty"`
	Version      string   `json:"version"`
	DownloadURL  string   `json:"downloadUrl"`
	DownloadSize int64    `json:"downloadSize"`
	BundleID     string   `json:"bundleId"`
	Features     []string `json:"features,omitempty"`
}

// FormattedSize returns the expected download size in human readable form.
func (a AppRecord) FormattedSize() string {
	if a.DownloadSize <= 0 {
		return "unknown"
	}

	return humanize.Bytes(uint64(a.DownloadSize))
}

// App returns the app with the given id.
func (c *Catalog) App(id string) (AppRecord, bool) {
	for _, a := range c.Apps {
		if a.ID == id {
			return a, true
		}
	}

	return AppRecord{}, false
}

// Featured returns the apps flagged as featured.
func (c *Catalog) Featured() []AppRecord {
	return c.filter(func(a AppRecord) bool { return a.Featured })
}

// ByCategory returns the apps in the given category.
func (c *Catalog) ByCategory(category string) []AppRecord {
	return c.filter(func(a AppRecord) bool { return strings.EqualFold(a.Category, category) })
}

// ByPublisher returns the apps published by publisherID.
func (c *Catalog) ByPublisher(publisherID string) []AppRecord {
	return c.filter(func(a AppRecord) bool { return a.PublisherID == publisherID })
}

// PublisherFor returns the publisher of app.
func (c *Catalog) PublisherFor(app AppRecord) (Publisher, bool) {
	for _, p := range c.Publishers {
		if p.ID == app.PublisherID {
			return p, true
		}
	}

	return Publisher{}, false
}

// Search matches query case-insensitively against name, tagline, description
// and features. An empty query returns every app.
func (c *Catalog) Search(query string) []AppRecord {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return append([]AppRecord(nil), c.Apps...)
	}

	return c.filter(func(a AppRecord) bool {
		if strings.Contains(strings.ToLower(a.Name), q) ||
			strings.Contains(strings.ToLower(a.Tagline), q) ||
			strings.Contains(strings.ToLower(a.Description), q) {
			return true
		}

		for _, f := range a.Features {
			if strings.Contains(strings.ToLower(f), q) {
				return true
			}
		}

		return false
	})
}

func (c *Catalog) filter(keep func(AppRecord) bool) []AppRecord {
	out := make([]AppRecord, 0)

	for _, a := range c.Apps {
		if keep(a) {
			out = append(out, a)
		}
	}

	return out
}
