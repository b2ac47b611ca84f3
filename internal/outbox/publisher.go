package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pesio-ai/be-hr-workflows/internal/config"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
)

// Publisher delivers one outbox message to the broker. msgID is used for
// broker-side de-duplication.
type Publisher interface {
	Publish(ctx context.Context, subject, msgID string, data []byte) error
}

// JetStreamPublisher publishes notification events to NATS JetStream for
// consumption by the notifications service.
//
// Subject convention: <prefix>.<event_type>, e.g. notifications.hr.hr_approval_required
type JetStreamPublisher struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	log *logger.Logger
}

// NewJetStreamPublisher connects to NATS and makes sure the stream covering
// the subject prefix exists.
func NewJetStreamPublisher(ctx context.Context, cfg config.NATSConfig, log *logger.Logger) (*JetStreamPublisher, error) {
	log = log.Component("nats")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("be-hr-workflows-outbox-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Duplicates: 10 * time.Minute,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.Stream, err)
	}

	log.Info().
		Str("url", cfg.URL).
		Str("stream", cfg.Stream).
		Msg("NATS JetStream connection established")

	return &JetStreamPublisher{nc: nc, js: js, log: log}, nil
}

// Publish sends data with msgID as the Nats-Msg-Id header so redelivery
// after a crash is dropped by the stream's duplicate window.
func (p *JetStreamPublisher) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	if err != nil {
		return err
	}
	p.log.Debug().
		Str("subject", subject).
		Str("msg_id", msgID).
		Uint64("seq", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("notification: event published")
	return nil
}

// Close drains the connection.
func (p *JetStreamPublisher) Close() error {
	return p.nc.Drain()
}
