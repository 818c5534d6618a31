package poller

import (
	"context"
	"errors"
	"sync"

	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
	"tgnms.poller/internal/core/ports"
)

var ErrWorkerNotStarted = errors.New("worker not started")

const defaultResultBuffer = 256

// Worker runs the dispatcher in-process behind the same command/result
// channel contract as the child-process worker.
type Worker struct {
	dispatcher *Dispatcher
	commands   chan domain.Command
	results    chan domain.ResultMessage

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	started  bool
	stopped  bool

	pending sync.WaitGroup
}

var _ ports.Worker = (*Worker)(nil)

func NewWorker(d *Dispatcher, buffer int) *Worker {
	if buffer <= 0 {
		buffer = defaultResultBuffer
	}
	return &Worker{
		dispatcher: d,
		commands:   make(chan domain.Command, 16),
		results:    make(chan domain.ResultMessage, buffer),
		loopDone:   make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ports.ErrWorkerStopped
	}
	if w.started {
		return nil
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.started = true
	go w.loop()
	return nil
}

// Send queues cmd for dispatch. It blocks only while the command queue is full.
func (w *Worker) Send(ctx context.Context, cmd domain.Command) error {
	w.mu.Lock()
	started, stopped, wctx := w.started, w.stopped, w.ctx
	w.mu.Unlock()
	switch {
	case stopped:
		return ports.ErrWorkerStopped
	case !started:
		return ErrWorkerNotStarted
	}

	w.pending.Add(1)
	select {
	case w.commands <- cmd:
		return nil
	case <-wctx.Done():
		w.pending.Done()
		return ports.ErrWorkerStopped
	case <-ctx.Done():
		w.pending.Done()
		return ctx.Err()
	}
}

// Drain waits until every queued command has been dispatched and all of its
// queries have returned. Callers must not Send concurrently.
func (w *Worker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		w.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results is closed after Stop once every in-flight query has returned.
func (w *Worker) Results() <-chan domain.ResultMessage {
	return w.results
}

func (w *Worker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	if started {
		w.cancel()
	}
	w.mu.Unlock()

	if started {
		<-w.loopDone
		w.dispatcher.Wait()
	}
	close(w.results)
	return nil
}

func (w *Worker) loop() {
	defer close(w.loopDone)
	for {
		select {
		case <-w.ctx.Done():
			return
		case cmd := <-w.commands:
			if err := w.dispatcher.Dispatch(w.ctx, cmd, w.emit); err != nil {
				logger.Warn("Dropping command", "type", cmd.Type, "id", cmd.ID, "error", err)
			}
			w.pending.Done()
		}
	}
}

func (w *Worker) emit(msg domain.ResultMessage) {
	select {
	case w.results <- msg:
	case <-w.ctx.Done():
	}
}
