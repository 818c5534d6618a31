package poller

import (
	"context"

	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
)

// Dispatcher routes commands to the poller. It does not wait for the queries it
// starts; results reach the emitter as each one completes.
type Dispatcher struct {
	poller *Poller
}

func NewDispatcher(p *Poller) *Dispatcher {
	return &Dispatcher{poller: p}
}

// Dispatch fans cmd out over all of its topologies. Commands of unknown type
// are rejected with an error wrapping domain.ErrUnknownCommand.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd domain.Command, emit Emitter) error {
	if err := cmd.Validate(); err != nil {
		d.poller.observer.ObserveCommand(cmd.Type, false)
		return err
	}
	d.poller.observer.ObserveCommand(cmd.Type, true)

	if cmd.ID != "" {
		ctx = logger.WithCommand(ctx, cmd.ID)
	}
	logger.DebugContext(ctx, "Dispatching command", "type", cmd.Type, "topologies", len(cmd.Topologies))

	for _, topo := range cmd.Topologies {
		if err := topo.Validate(); err != nil {
			logger.WarnContext(ctx, "Skipping topology", "error", err)
			continue
		}
		switch cmd.Type {
		case domain.CommandPoll:
			d.poller.PollTopology(ctx, topo, emit)
		case domain.CommandScanPoll:
			d.poller.ScanTopology(ctx, topo, emit)
		}
	}
	return nil
}

// Wait blocks until all queries started by Dispatch have finished.
func (d *Dispatcher) Wait() {
	d.poller.Wait()
}
