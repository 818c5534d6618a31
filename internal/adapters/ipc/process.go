package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
	"tgnms.poller/internal/core/ports"
)

var ErrWorkerNotRunning = errors.New("worker process not running")

const (
	defaultRestartDelay = time.Second
	defaultStopGrace    = 10 * time.Second
)

// Process runs the polling worker as a child process. Commands go to its stdin
// and result messages come back on its stdout, one JSON document per line. The
// child is restarted if it exits while the handle is running.
type Process struct {
	binary       string
	args         []string
	env          []string
	stderr       io.Writer
	restartDelay time.Duration
	stopGrace    time.Duration

	results chan domain.ResultMessage
	exited  chan struct{}

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	enc      *Encoder
	running  bool
	started  bool
	stopping bool
	restarts int
}

var _ ports.Worker = (*Process)(nil)

type ProcessOption func(*Process)

func WithArgs(args ...string) ProcessOption {
	return func(p *Process) {
		p.args = append(p.args, args...)
	}
}

// WithEnv adds KEY=value pairs on top of the parent environment.
func WithEnv(kv ...string) ProcessOption {
	return func(p *Process) {
		p.env = append(p.env, kv...)
	}
}

func WithStderr(w io.Writer) ProcessOption {
	return func(p *Process) {
		p.stderr = w
	}
}

func WithRestartDelay(d time.Duration) ProcessOption {
	return func(p *Process) {
		p.restartDelay = d
	}
}

func WithStopGrace(d time.Duration) ProcessOption {
	return func(p *Process) {
		p.stopGrace = d
	}
}

func NewProcess(binary string, opts ...ProcessOption) *Process {
	p := &Process{
		binary:       binary,
		stderr:       os.Stderr,
		restartDelay: defaultRestartDelay,
		stopGrace:    defaultStopGrace,
		results:      make(chan domain.ResultMessage, 256),
		exited:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the child and returns once it is running.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	cmd, stdout, err := p.spawn()
	if err != nil {
		p.cancel()
		close(p.results)
		close(p.exited)
		return err
	}
	go p.supervise(cmd, stdout)
	return nil
}

func (p *Process) Send(ctx context.Context, cmd domain.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		return ports.ErrWorkerStopped
	}
	if !p.running {
		return ErrWorkerNotRunning
	}
	if err := p.enc.Encode(cmd); err != nil {
		return fmt.Errorf("send %s command: %w", cmd.Type, err)
	}
	return nil
}

// Results is closed once Stop has returned.
func (p *Process) Results() <-chan domain.ResultMessage {
	return p.results
}

func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && !p.stopping
}

// Restarts counts how many times the child has been respawned.
func (p *Process) Restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

// Stop closes the child's stdin so that it finishes in-flight queries, and
// kills it if it has not exited within the grace period.
func (p *Process) Stop() error {
	p.mu.Lock()
	if !p.started || p.stopping {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	stdin := p.stdin
	p.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	timer := time.NewTimer(p.stopGrace)
	defer timer.Stop()
	select {
	case <-p.exited:
	case <-timer.C:
		logger.Warn("Worker process did not exit in time, killing it", "grace", p.stopGrace)
		p.cancel()
		p.kill()
		<-p.exited
	}
	p.cancel()
	return nil
}

func (p *Process) spawn() (*exec.Cmd, io.ReadCloser, error) {
	cmd := exec.Command(p.binary, p.args...)
	cmd.Env = append(os.Environ(), p.env...)
	cmd.Stderr = p.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start worker process %s: %w", p.binary, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.stdin = stdin
	p.enc = NewEncoder(stdin)
	p.running = true
	p.mu.Unlock()

	logger.Info("Worker process started", "pid", cmd.Process.Pid, "binary", p.binary)
	return cmd, stdout, nil
}

func (p *Process) supervise(cmd *exec.Cmd, stdout io.ReadCloser) {
	defer close(p.exited)
	defer close(p.results)

	for {
		p.forward(stdout)
		err := cmd.Wait()

		p.mu.Lock()
		p.running = false
		stopping := p.stopping
		p.mu.Unlock()

		if stopping {
			logger.Info("Worker process exited", "error", err)
			return
		}
		logger.Error("Worker process exited unexpectedly, restarting", "error", err, "delay", p.restartDelay)

		for {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.restartDelay):
			}
			if p.isStopping() {
				return
			}
			var spawnErr error
			cmd, stdout, spawnErr = p.spawn()
			if spawnErr == nil {
				break
			}
			logger.Error("Failed to restart worker process", "error", spawnErr)
		}

		p.mu.Lock()
		p.restarts++
		p.mu.Unlock()
	}
}

// forward copies result messages from the child until its stdout closes.
// Once the handle is cancelled, messages are read and discarded.
func (p *Process) forward(stdout io.Reader) {
	dec := NewDecoder(stdout)
	for {
		var msg domain.ResultMessage
		err := dec.Decode(&msg)
		var syntaxErr *SyntaxError
		switch {
		case err == nil:
			select {
			case p.results <- msg:
			case <-p.ctx.Done():
			}
		case errors.As(err, &syntaxErr):
			logger.Warn("Skipping malformed worker output", "line", syntaxErr.Line, "error", syntaxErr.Err)
		case errors.Is(err, io.EOF):
			return
		default:
			// Keep the pipe flowing so the child can exit and be reaped.
			logger.Error("Failed to read worker output", "error", err)
			_, _ = io.Copy(io.Discard, stdout)
			return
		}
	}
}

func (p *Process) isStopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

func (p *Process) kill() {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
