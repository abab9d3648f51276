package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/italolelis/apphub_installer/internal/logctx"
	"github.com/nats-io/nats.go"
)

// DefaultNATSSubject is used when no subject is configured.
const DefaultNATSSubject = "apphub.notifications"

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes notifications as JSON on a NATS subject.
type NATSNotifier struct {
	conn    *nats.Conn
	pub     publisher
	subject string
}

// NewNATSNotifier connects to url. The connection reconnects on its own.
func NewNATSNotifier(ctx context.Context, url, subject string) (*NATSNotifier, error) {
	logger := logctx.LoggerFromContext(ctx)

	if subject == "" {
		subject = DefaultNATSSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("apphub_installer"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.InfoContext(ctx, "NATS notifier initialized", "url", conn.ConnectedUrlRedacted(), "subject", subject)

	return &NATSNotifier{conn: conn, pub: conn, subject: subject}, nil
}

func (n *NATSNotifier) Notify(_ context.Context, notification Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := n.pub.Publish(n.subject+"."+string(notification.Kind), data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}

	return n.conn.Drain()
}
