package ports

import (
	"context"
	"errors"

	"tgnms.poller/internal/core/domain"
)

var ErrWorkerStopped = errors.New("worker stopped")

// Worker is a handle on the state-polling worker, in-process or in a child process.
type Worker interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, cmd domain.Command) error
	Results() <-chan domain.ResultMessage
	Alive() bool
	Stop() error
}

type TopologyRepository interface {
	ListTopologies(ctx context.Context) ([]domain.TopologyDescriptor, error)
}

// ResultPublisher forwards result messages to an outbound channel (websocket, pub/sub, bus).
type ResultPublisher interface {
	PublishResult(ctx context.Context, msg domain.ResultMessage) error
}

// CommandQueue carries commands issued by external REST layers.
type CommandQueue interface {
	Enqueue(ctx context.Context, cmd domain.Command) error
	Dequeue(ctx context.Context) (*domain.Command, error) // Blocking wait
}

type CommandDeadLetter interface {
	Add(ctx context.Context, cmd domain.Command, reason string) error
}

// CommandSource pushes externally issued commands to handler until ctx is done.
type CommandSource interface {
	Consume(ctx context.Context, handler func(ctx context.Context, cmd domain.Command) error) error
}
