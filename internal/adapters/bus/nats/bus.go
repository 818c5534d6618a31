package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
	"tgnms.poller/internal/core/ports"
)

const (
	// ResultSubjectPrefix is followed by the network name and query type.
	ResultSubjectPrefix = "tgnms.poller.results"
	CommandSubject      = "tgnms.poller.commands"
	commandDurable      = "tgnms-poller"
)

var errNilBus = errors.New("nil bus")

// Bus wraps a NATS JetStream connection. Results are published per network and
// query type; commands are consumed from a durable subscription.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

var (
	_ ports.ResultPublisher = (*Bus)(nil)
	_ ports.CommandSource   = (*Bus)(nil)
)

// New creates a Bus connected to the provided NATS endpoint.
func New(url string, opts ...nats.Option) (*Bus, error) {
	opts = append([]nats.Option{nats.Name("tgnms-poller")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Bus{conn: nc, js: js}, nil
}

// Close drains the connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

func ResultSubject(msg domain.ResultMessage) string {
	return fmt.Sprintf("%s.%s.%s", ResultSubjectPrefix, msg.Name, msg.Type)
}

func (b *Bus) PublishResult(ctx context.Context, msg domain.ResultMessage) error {
	if b == nil {
		return errNilBus
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_, err = b.js.Publish(ResultSubject(msg), data, nats.Context(ctx))
	return err
}

type subscription struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sub.Drain()
}

// Consume delivers commands published on CommandSubject until ctx is done.
// Undecodable messages are acknowledged and dropped; handler errors are
// negatively acknowledged for redelivery.
func (b *Bus) Consume(ctx context.Context, handler func(ctx context.Context, cmd domain.Command) error) error {
	if b == nil {
		return errNilBus
	}
	if handler == nil {
		return errors.New("nil handler")
	}

	cb := func(msg *nats.Msg) {
		var cmd domain.Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			logger.Warn("Dropping malformed command from NATS", "subject", msg.Subject, "error", err)
			_ = msg.Ack()
			return
		}
		if err := handler(ctx, cmd); err != nil {
			logger.Warn("NATS command failed", "id", cmd.ID, "type", cmd.Type, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}

	sub, err := b.js.Subscribe(CommandSubject, cb, nats.Durable(commandDurable), nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", CommandSubject, err)
	}
	s := &subscription{sub: sub}
	logger.Info("Consuming commands from NATS", "subject", CommandSubject)

	<-ctx.Done()
	return s.Close()
}

// PublishCommand is used by tooling that issues commands to a running poller.
func (b *Bus) PublishCommand(ctx context.Context, cmd domain.Command) error {
	if b == nil {
		return errNilBus
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = b.js.Publish(CommandSubject, data, nats.Context(ctx))
	return err
}
