package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
	"tgnms.poller/internal/core/ports"
)

var ErrWorkerUnavailable = errors.New("polling worker is not running")

type SchedulerConfig struct {
	PollInterval     time.Duration
	ScanPollEnabled  bool
	ScanPollInterval time.Duration
}

// Scheduler issues poll and scan_poll commands to the worker on timers and on
// request from external command sources.
type Scheduler struct {
	worker     ports.Worker
	topologies ports.TopologyRepository
	monitor    *NetworkMonitor
	deadLetter ports.CommandDeadLetter
	sources    []ports.CommandSource
	cfg        SchedulerConfig
}

func NewScheduler(
	worker ports.Worker,
	topologies ports.TopologyRepository,
	monitor *NetworkMonitor,
	deadLetter ports.CommandDeadLetter,
	cfg SchedulerConfig,
	sources ...ports.CommandSource,
) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ScanPollInterval <= 0 {
		cfg.ScanPollInterval = time.Minute
	}
	return &Scheduler{
		worker:     worker,
		topologies: topologies,
		monitor:    monitor,
		deadLetter: deadLetter,
		sources:    sources,
		cfg:        cfg,
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, src := range s.sources {
		wg.Add(1)
		go func(src ports.CommandSource) {
			defer wg.Done()
			if err := src.Consume(ctx, s.handleExternal); err != nil && ctx.Err() == nil {
				logger.Error("Command source stopped", "error", err)
			}
		}(src)
	}

	pollTicker := time.NewTicker(s.cfg.PollInterval)
	defer pollTicker.Stop()

	var scanC <-chan time.Time
	if s.cfg.ScanPollEnabled {
		scanTicker := time.NewTicker(s.cfg.ScanPollInterval)
		defer scanTicker.Stop()
		scanC = scanTicker.C
	}

	s.tick(ctx, domain.CommandPoll)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-pollTicker.C:
			s.tick(ctx, domain.CommandPoll)
		case <-scanC:
			s.tick(ctx, domain.CommandScanPoll)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, t domain.CommandType) {
	if _, err := s.Trigger(ctx, t, nil); err != nil {
		logger.Warn("Scheduled command not sent", "type", t, "error", err)
	}
}

// Trigger sends a command of type t. With no topologies, the command covers
// every configured network with the controller roles currently in effect.
func (s *Scheduler) Trigger(ctx context.Context, t domain.CommandType, topologies []domain.TopologyDescriptor) (*domain.Command, error) {
	return s.issue(ctx, "", t, topologies)
}

func (s *Scheduler) issue(ctx context.Context, id string, t domain.CommandType, topologies []domain.TopologyDescriptor) (*domain.Command, error) {
	if id == "" {
		id = "cmd-" + uuid.New().String()
	}
	cmd := domain.Command{ID: id, Type: t}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if len(topologies) == 0 {
		list, err := s.currentTopologies(ctx)
		if err != nil {
			return nil, err
		}
		cmd.Topologies = list
	} else {
		s.monitor.Track(topologies...)
		cmd.Topologies = make([]domain.TopologyDescriptor, len(topologies))
		for i, topo := range topologies {
			cmd.Topologies[i] = s.monitor.Resolve(topo)
		}
	}

	if !s.worker.Alive() {
		return nil, ErrWorkerUnavailable
	}
	if err := s.worker.Send(ctx, cmd); err != nil {
		return nil, fmt.Errorf("send %s command: %w", t, err)
	}
	logger.DebugContext(logger.WithCommand(ctx, cmd.ID), "Command sent", "type", t, "topologies", len(cmd.Topologies))
	return &cmd, nil
}

func (s *Scheduler) currentTopologies(ctx context.Context) ([]domain.TopologyDescriptor, error) {
	list, err := s.topologies.ListTopologies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topologies: %w", err)
	}
	s.monitor.Sync(list)

	out := make([]domain.TopologyDescriptor, 0, len(list))
	for _, t := range list {
		if err := t.Validate(); err != nil {
			logger.Warn("Skipping topology", "error", err)
			continue
		}
		out = append(out, s.monitor.Resolve(t))
	}
	return out, nil
}

// handleExternal accepts a command from a queue or bus. Commands that can never
// succeed are moved to the dead-letter set instead of being retried.
func (s *Scheduler) handleExternal(ctx context.Context, cmd domain.Command) error {
	if err := cmd.Validate(); err != nil {
		logger.Warn("Rejected external command", "id", cmd.ID, "type", cmd.Type, "error", err)
		if s.deadLetter != nil {
			if dlqErr := s.deadLetter.Add(ctx, cmd, err.Error()); dlqErr != nil {
				logger.Error("Failed to dead-letter command", "id", cmd.ID, "error", dlqErr)
			}
		}
		return nil
	}
	_, err := s.issue(ctx, cmd.ID, cmd.Type, cmd.Topologies)
	return err
}
