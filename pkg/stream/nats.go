package stream

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mlsorensen/gobalance"
)

// DefaultSubjectPrefix is prepended to the update kind, e.g.
// "balanceboard.weight".
const DefaultSubjectPrefix = "balanceboard"

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes every update as a JSON Message on
// <prefix>.<kind>.
type NATSPublisher struct {
	pub    publisher
	prefix string
	conn   *nats.Conn
}

// DialNATS connects to url and returns a publisher for prefix.
func DialNATS(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("gobalance"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}
	log.Info().Str("url", url).Msg("connected to NATS")
	p := newNATSPublisher(nc, prefix)
	p.conn = nc
	return p, nil
}

func newNATSPublisher(pub publisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{pub: pub, prefix: prefix}
}

// Subject returns the subject updates of kind are published on.
func (p *NATSPublisher) Subject(kind gobalance.UpdateKind) string {
	return fmt.Sprintf("%s.%s", p.prefix, kind)
}

// Publish implements Sink.
func (p *NATSPublisher) Publish(u gobalance.WeightUpdate) error {
	data, err := json.Marshal(NewMessage(u))
	if err != nil {
		return err
	}
	subject := p.Subject(u.Kind)
	if err := p.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes and closes the connection.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	_ = p.conn.Drain()
}
