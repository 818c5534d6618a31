package poller

import (
	"time"

	"tgnms.poller/internal/core/circuitbreaker"
)

// Settings are the tunables shared by every entry point that runs a worker.
type Settings struct {
	ControllerPort   int
	RequestTimeout   time.Duration
	RetryDelays      []time.Duration
	RetryStatusCodes []int
	Observer         Observer
	ResultBuffer     int
}

// Client builds the HTTP transport described by s.
func (s Settings) Client() *HTTPClient {
	var opts []HTTPOption
	if s.ControllerPort > 0 {
		opts = append(opts, WithPort(s.ControllerPort))
	}
	if s.RequestTimeout > 0 {
		opts = append(opts, WithTimeout(s.RequestTimeout))
	}
	return NewHTTPClient(opts...)
}

// Poller builds a poller on top of client with the retry and observer settings applied.
func (s Settings) Poller(client Client) *Poller {
	opts := []Option{
		WithObserver(s.Observer),
		WithScanCleaner(NewScanCleaner(client, circuitbreaker.NewRegistry("scan-reset"))),
	}
	if s.RetryDelays != nil {
		opts = append(opts, WithRetryDelays(s.RetryDelays))
	}
	if len(s.RetryStatusCodes) > 0 {
		opts = append(opts, WithRetryOptions(RetryOnStatus(s.RetryStatusCodes...)))
	}
	return New(client, opts...)
}

// Worker builds a ready-to-start worker talking HTTP to the controllers.
func (s Settings) Worker() *Worker {
	return NewWorker(NewDispatcher(s.Poller(s.Client())), s.ResultBuffer)
}
