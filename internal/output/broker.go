package output

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ppiankov/legiscrape/internal/model"
)

// Publisher sends encoded entities to a message broker. Publish may batch;
// Flush blocks until everything published so far is acknowledged.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Flush(ctx context.Context) error
	Close() error
}

// NATSPublisher publishes to a JetStream stream asynchronously
type NATSPublisher struct {
	conn         *nats.Conn
	js           jetstream.JetStream
	flushTimeout time.Duration
}

// NewNATSPublisher connects to cfg.URL and makes sure a stream captures
// every subject under cfg.SubjectPrefix
func NewNATSPublisher(ctx context.Context, cfg model.BrokerConfig) (*NATSPublisher, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("legiscrape"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName(cfg.SubjectPrefix),
		Subjects: []string{cfg.SubjectPrefix + ".>"},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	timeout := cfg.FlushTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NATSPublisher{conn: conn, js: js, flushTimeout: timeout}, nil
}

// streamName derives a legal stream name from a subject prefix
func streamName(prefix string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return strings.ToUpper(r.Replace(prefix))
}

func (p *NATSPublisher) Publish(_ context.Context, subject string, data []byte) error {
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Flush(ctx context.Context) error {
	timer := time.NewTimer(p.flushTimeout)
	defer timer.Stop()
	select {
	case <-p.js.PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("flush: %d publishes still pending after %s", p.js.PublishAsyncPending(), p.flushTimeout)
	}
}

func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
