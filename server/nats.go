package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ftahirops/hostwatch/engine"
	"github.com/ftahirops/hostwatch/model"
)

// NATSPublisher republishes engine events onto a NATS broker so external
// systems can consume the stream without holding a websocket open.
// Samples go to <prefix>.samples, anomalies to <prefix>.anomalies, state
// changes to <prefix>.state.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// NewNATSPublisher connects to the broker.
func NewNATSPublisher(url, prefix string, log zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("hostwatch"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if prefix == "" {
		prefix = "hostwatch"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, log: log}, nil
}

// Run consumes an engine subscription until the context is cancelled or the
// engine closes the stream.
func (p *NATSPublisher) Run(ctx context.Context, eng *engine.Engine) error {
	sub := eng.Subscribe()
	defer eng.Unsubscribe(sub.ID)
	defer p.conn.Drain()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			p.publish(ev)
		}
	}
}

func (p *NATSPublisher) publish(ev model.Event) {
	var subject string
	switch ev.Type {
	case model.EventSampleUpdate:
		subject = p.prefix + ".samples"
	case model.EventAnomalyReport:
		subject = p.prefix + ".anomalies"
	case model.EventStateUpdate:
		subject = p.prefix + ".state"
	default:
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn().Err(err).Msg("event marshal failed")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("nats publish failed")
	}
}
