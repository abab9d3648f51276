package notifier

import (
	"context"
	"errors"
	"time"
)

// Kind identifies what a notification is about.
type Kind string

const (
	KindDownloadComplete Kind = "download_complete"
	KindDownloadFailed   Kind = "download_failed"
	KindUpdateAvailable  Kind = "update_available"
)

// Notification is a user-facing event about one app.
type Notification struct {
	Kind    Kind      `json:"kind"`
	AppID   string    `json:"appId"`
	AppName string    `json:"appName"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	At      time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error

	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
