package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"caseline/internal/domain"
)

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes each event on <prefix>.<event type>.
type NATS struct {
	Conn   Publisher
	Prefix string
	Filter Filter
}

// DialNATS connects to url and returns a sink plus the connection to drain on
// shutdown.
func DialNATS(url, prefix string, types []string) (*NATS, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("caseline"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATS(nc, prefix, types), nc, nil
}

func NewNATS(conn Publisher, prefix string, types []string) *NATS {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "caseline"
	}
	return &NATS{Conn: conn, Prefix: prefix, Filter: NewFilter(types)}
}

func (n *NATS) Subject(evtType string) string {
	return n.Prefix + "." + evtType
}

func (n *NATS) Name() string { return "nats " + n.Prefix }

func (n *NATS) Accepts(evtType string) bool { return n.Filter.Match(evtType) }

func (n *NATS) Deliver(ctx context.Context, evt domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(evt)
	if err != nil {
		return err
	}
	return n.Conn.Publish(n.Subject(evt.Type), data)
}
