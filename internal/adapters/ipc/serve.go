package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
	"tgnms.poller/internal/core/ports"
)

type drainer interface {
	Drain(ctx context.Context) error
}

// Serve runs the worker side of the channel: commands are read from r and
// every result message is written to w. It returns when r reaches EOF, once queued
// commands have completed, or when ctx is done.
func Serve(ctx context.Context, r io.Reader, w io.Writer, worker ports.Worker) error {
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	enc := NewEncoder(w)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for msg := range worker.Results() {
			if err := enc.Encode(msg); err != nil {
				logger.Error("Failed to write result", "network", msg.Name, "type", msg.Type, "error", err)
			}
		}
	}()

	commands := make(chan domain.Command)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readCommands(ctx, NewDecoder(r), commands)
	}()

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err = <-readErr:
			break loop
		case cmd := <-commands:
			if sendErr := worker.Send(ctx, cmd); sendErr != nil {
				logger.Warn("Failed to queue command", "type", cmd.Type, "error", sendErr)
			}
		}
	}

	// Input closed: let queued commands finish before shutting down.
	if d, ok := worker.(drainer); ok && err == nil && ctx.Err() == nil {
		if drainErr := d.Drain(ctx); drainErr != nil {
			logger.Warn("Worker did not drain", "error", drainErr)
		}
	}
	if stopErr := worker.Stop(); stopErr != nil {
		logger.Error("Failed to stop worker", "error", stopErr)
	}
	<-forwarded
	return err
}

func readCommands(ctx context.Context, dec *Decoder, out chan<- domain.Command) error {
	for {
		var cmd domain.Command
		err := dec.Decode(&cmd)
		var syntaxErr *SyntaxError
		switch {
		case err == nil:
		case errors.As(err, &syntaxErr):
			logger.Warn("Skipping malformed command", "line", syntaxErr.Line, "error", syntaxErr.Err)
			continue
		case errors.Is(err, io.EOF):
			return nil
		default:
			return err
		}

		select {
		case out <- cmd:
		case <-ctx.Done():
			return nil
		}
	}
}
