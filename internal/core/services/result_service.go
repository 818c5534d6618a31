package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
	"tgnms.poller/internal/core/ports"
)

const (
	publishTimeout = 5 * time.Second
	// Messages buffered per publisher before new ones are dropped for it.
	publishBacklog = 256
)

// ResultRecorder is notified of every result message, e.g. for metrics.
type ResultRecorder interface {
	RecordResult(msg domain.ResultMessage)
}

// ResultService drains the worker's result stream into the network monitor and
// every configured publisher. Each publisher is fed from its own queue, so a
// slow or hung broker only delays its own deliveries.
type ResultService struct {
	monitor    *NetworkMonitor
	recorder   ResultRecorder
	publishers []ports.ResultPublisher
}

func NewResultService(monitor *NetworkMonitor, recorder ResultRecorder, publishers ...ports.ResultPublisher) *ResultService {
	return &ResultService{
		monitor:    monitor,
		recorder:   recorder,
		publishers: publishers,
	}
}

// Run consumes results until the channel is closed, then waits for queued
// publishes to finish.
func (s *ResultService) Run(ctx context.Context, results <-chan domain.ResultMessage) {
	var wg sync.WaitGroup
	queues := make([]chan domain.ResultMessage, len(s.publishers))
	for i, p := range s.publishers {
		queues[i] = make(chan domain.ResultMessage, publishBacklog)
		wg.Add(1)
		go func(p ports.ResultPublisher, queue <-chan domain.ResultMessage) {
			defer wg.Done()
			for msg := range queue {
				publish(ctx, p, msg)
			}
		}(p, queues[i])
	}

	for msg := range results {
		s.observe(msg)
		for i, queue := range queues {
			select {
			case queue <- msg:
			default:
				logger.Warn("Publisher backlog full, dropping result",
					"publisher", fmt.Sprintf("%T", s.publishers[i]),
					"network", msg.Name,
					"type", msg.Type,
				)
			}
		}
	}

	for _, queue := range queues {
		close(queue)
	}
	wg.Wait()
}

func (s *ResultService) observe(msg domain.ResultMessage) {
	if s.monitor != nil {
		s.monitor.Observe(msg)
	}
	if s.recorder != nil {
		s.recorder.RecordResult(msg)
	}
}

func publish(ctx context.Context, p ports.ResultPublisher, msg domain.ResultMessage) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.PublishResult(pubCtx, msg); err != nil {
		logger.Warn("Failed to publish result", "network", msg.Name, "type", msg.Type, "error", err)
	}
}
