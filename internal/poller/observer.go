package poller

import "tgnms.poller/internal/core/domain"

// Observer receives instrumentation events from the poller.
type Observer interface {
	ObserveCommand(t domain.CommandType, accepted bool)
	ObserveQuery(q domain.QueryType, outcome domain.QueryOutcome)
	ObserveRetry(method string)
	ObserveScanReset(success bool)
}

type nopObserver struct{}

func (nopObserver) ObserveCommand(domain.CommandType, bool)            {}
func (nopObserver) ObserveQuery(domain.QueryType, domain.QueryOutcome) {}
func (nopObserver) ObserveRetry(string)                                {}
func (nopObserver) ObserveScanReset(bool)                              {}
