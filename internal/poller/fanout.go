package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
	"tgnms.poller/internal/core/tracing"
)

// Emitter receives each result message as soon as its query completes.
type Emitter func(msg domain.ResultMessage)

type query struct {
	Type   domain.QueryType
	Method string
	Body   any
}

var (
	topologyQuery     = query{Type: domain.QueryTopology, Method: "getTopology"}
	statusDumpQuery   = query{Type: domain.QueryStatusDump, Method: "getCtrlStatusDump"}
	ignitionQuery     = query{Type: domain.QueryIgnitionState, Method: "getIgnitionState"}
	upgradeQuery      = query{Type: domain.QueryUpgradeState, Method: "getUpgradeState"}
	bstarQuery        = query{Type: domain.QueryBStarState, Method: "getHighAvailabilityState"}
	scanStatusQuery   = query{Type: domain.QueryScanStatus, Method: "getScanStatus", Body: map[string]any{"isConcise": false}}
	activePollQueries = []query{topologyQuery, statusDumpQuery, ignitionQuery, upgradeQuery, bstarQuery}
)

// Poller issues the per-topology state queries. Every query runs in its own
// goroutine behind its own retry policy.
type Poller struct {
	client    Client
	delays    []time.Duration
	retryOpts []RetryOption
	cleaner   *ScanCleaner
	observer  Observer

	wg sync.WaitGroup
}

type Option func(*Poller)

func WithRetryDelays(delays []time.Duration) Option {
	return func(p *Poller) {
		p.delays = append([]time.Duration(nil), delays...)
	}
}

func WithRetryOptions(opts ...RetryOption) Option {
	return func(p *Poller) {
		p.retryOpts = append(p.retryOpts, opts...)
	}
}

func WithObserver(o Observer) Option {
	return func(p *Poller) {
		if o != nil {
			p.observer = o
		}
	}
}

func WithScanCleaner(c *ScanCleaner) Option {
	return func(p *Poller) {
		p.cleaner = c
	}
}

func New(client Client, opts ...Option) *Poller {
	p := &Poller{
		client:   client,
		delays:   DefaultRetryDelays,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cleaner == nil {
		p.cleaner = NewScanCleaner(client, nil)
	}
	p.cleaner.observer = p.observer
	return p
}

// PollTopology launches the state queries for one network. The passive
// controller, when configured, gets its own high-availability query.
func (p *Poller) PollTopology(ctx context.Context, topo domain.TopologyDescriptor, emit Emitter) {
	for _, q := range activePollQueries {
		p.launch(ctx, topo, q, topo.ControllerIPActive, topo.APIServiceBaseURL, emit, nil)
	}
	if topo.HasPassive() {
		p.launch(ctx, topo, bstarQuery, topo.ControllerIPPassive, "", emit, nil)
	}
}

// ScanTopology fetches the scan status and then clears the observed token range
// from the controller's scan buffer.
func (p *Poller) ScanTopology(ctx context.Context, topo domain.TopologyDescriptor, emit Emitter) {
	p.launch(ctx, topo, scanStatusQuery, topo.ControllerIPActive, topo.APIServiceBaseURL, emit,
		func(outcome domain.QueryOutcome) {
			p.cleaner.MaybeReset(ctx, topo, outcome)
		})
}

// Wait blocks until every launched query, and its follow-up, has finished.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) launch(ctx context.Context, topo domain.TopologyDescriptor, q query, address, baseURL string, emit Emitter, after func(domain.QueryOutcome)) {
	client := p.retryPolicy()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(ctx, "Query panicked", "network", topo.Name, "method", q.Method, "panic", fmt.Sprint(r))
			}
		}()

		outcome := p.run(ctx, client, topo, q, address, baseURL)
		p.observer.ObserveQuery(q.Type, outcome)
		emit(domain.NewResultMessage(topo.Name, q.Type, address, outcome))
		if after != nil {
			after(outcome)
		}
	}()
}

func (p *Poller) retryPolicy() Client {
	opts := append([]RetryOption{
		OnRetry(func(req Request, attempt int, outcome domain.QueryOutcome) {
			p.observer.ObserveRetry(req.Method)
		}),
	}, p.retryOpts...)
	return WithRetry(p.delays, p.client, opts...)
}

func (p *Poller) run(ctx context.Context, client Client, topo domain.TopologyDescriptor, q query, address, baseURL string) domain.QueryOutcome {
	ctx, span := tracing.StartSpan(ctx, "controller."+q.Method,
		attribute.String("network", topo.Name),
		attribute.String("controller.address", address),
		attribute.String("query.type", string(q.Type)),
	)
	outcome := client.Call(ctx, Request{
		Address: address,
		BaseURL: baseURL,
		Method:  q.Method,
		Body:    q.Body,
	})
	tracing.EndQuerySpan(span, outcome.Success, outcome.StatusCode, outcome.Attempts, outcome.Err)

	if !outcome.Success {
		logger.DebugContext(ctx, "Controller query failed",
			"network", topo.Name,
			"controller", address,
			"method", q.Method,
			"status", outcome.StatusCode,
			"attempts", outcome.Attempts,
			"error", outcome.Err,
		)
	}
	return outcome
}
