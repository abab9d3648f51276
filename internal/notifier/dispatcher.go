package notifier

import (
	"context"
	"fmt"

	"github.com/italolelis/apphub_installer/internal/installstate"
	"github.com/italolelis/apphub_installer/internal/logctx"
)

// Dispatcher turns install state changes into notifications.
type Dispatcher struct {
	notifier Notifier
	appName  func(appID string) string
}

// NewDispatcher creates a Dispatcher. appName resolves display names and may
// return "" for unknown apps.
func NewDispatcher(n Notifier, appName func(appID string) string) *Dispatcher {
	return &Dispatcher{notifier: n, appName: appName}
}

// Run consumes changes until the channel closes or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, changes <-chan installstate.StateChange) error {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}

			n, ok := d.notificationFor(change)
			if !ok {
				continue
			}

			if err := d.notifier.Notify(ctx, n); err != nil {
				logger.ErrorContext(ctx, "failed to send notification", "app_id", change.AppID, "kind", n.Kind, "err", err)
			}
		}
	}
}

func (d *Dispatcher) notificationFor(c installstate.StateChange) (Notification, bool) {
	name := c.AppID
	if d.appName != nil {
		if n := d.appName(c.AppID); n != "" {
			name = n
		}
	}

	n := Notification{AppID: c.AppID, AppName: name, At: c.At}

	switch {
	case c.Previous.Status == installstate.StatusDownloading && c.Current.Status == installstate.StatusInstalling:
		n.Kind = KindDownloadComplete
		n.Title = "Download Complete"
		n.Body = fmt.Sprintf("%s is ready to install", name)
	case c.Current.Status == installstate.StatusFailed && c.Previous.Status != installstate.StatusFailed:
		n.Kind = KindDownloadFailed
		n.Title = "Download Failed"
		n.Body = fmt.Sprintf("%s: %s", name, c.Current.ErrorMessage)
	case c.Current.Status == installstate.StatusUpdateAvailable && c.Previous != c.Current:
		n.Kind = KindUpdateAvailable
		n.Title = "Update Available"
		n.Body = fmt.Sprintf("%s %s is available", name, c.Current.AvailableVersion)
	default:
		return Notification{}, false
	}

	return n, true
}
