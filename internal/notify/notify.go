// Package notify publishes run completion events to NATS so that downstream
// consumers (report indexers, chat bots) can react to finished notebook runs.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "nbrunner.runs"

// RunEvent describes a finished run.
type RunEvent struct {
	RunID       string    `json:"run_id"`
	Notebook    string    `json:"notebook"`
	Mode        string    `json:"mode"`
	Trigger     string    `json:"trigger"`
	Status      string    `json:"status"`
	State       string    `json:"state"`
	Message     string    `json:"message,omitempty"`
	ReportURL   string    `json:"report_url,omitempty"`
	Fingerprint string    `json:"report_fingerprint,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// Publisher delivers run events.
type Publisher interface {
	PublishRun(ctx context.Context, ev RunEvent) error
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) PublishRun(context.Context, RunEvent) error { return nil }
func (NoopPublisher) Close() error                               { return nil }

// Options configure the NATS publisher.
type Options struct {
	URL     string
	Subject string
	// JetStream publishes through JetStream and waits for the stream ack. A stream
	// covering Subject must exist.
	JetStream bool
}

type coreConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSPublisher publishes run events as JSON messages.
type NATSPublisher struct {
	conn    coreConn
	js      jetstream.JetStream
	subject string
}

// NewNATSPublisher connects to the server at opts.URL.
func NewNATSPublisher(opts Options) (*NATSPublisher, error) {
	if opts.URL == "" {
		return nil, ferrors.ConfigError("NATS URL is required").Build()
	}
	subject := opts.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name("nbrunner"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", logfields.URL(c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, ferrors.NewError(ferrors.CategoryNetwork, "failed to connect to NATS").
			WithCause(err).
			WithContext("url", opts.URL).
			Retryable().
			Build()
	}

	p := &NATSPublisher{conn: conn, subject: subject}
	if opts.JetStream {
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return nil, ferrors.NewError(ferrors.CategoryNetwork, "failed to create JetStream context").WithCause(err).Build()
		}
		p.js = js
	}
	slog.Info("NATS publisher ready", logfields.URL(opts.URL), slog.String("subject", subject), slog.Bool("jetstream", opts.JetStream))
	return p, nil
}

// PublishRun publishes ev on the configured subject.
func (p *NATSPublisher) PublishRun(ctx context.Context, ev RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return ferrors.InternalError("failed to marshal run event").WithCause(err).Build()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if p.js != nil {
		if _, err := p.js.Publish(ctx, p.subject, data); err != nil {
			return ferrors.NewError(ferrors.CategoryNetwork, "failed to publish run event").WithCause(err).Retryable().Build()
		}
	} else {
		if err := p.conn.Publish(p.subject, data); err != nil {
			return ferrors.NewError(ferrors.CategoryNetwork, "failed to publish run event").WithCause(err).Retryable().Build()
		}
		if err := p.conn.FlushWithContext(ctx); err != nil {
			return ferrors.NewError(ferrors.CategoryNetwork, "failed to flush run event").WithCause(err).Retryable().Build()
		}
	}
	slog.Debug("Published run event", logfields.RunID(ev.RunID), slog.String("subject", p.subject))
	return nil
}

// Close closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}
