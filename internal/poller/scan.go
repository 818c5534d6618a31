package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"tgnms.poller/internal/core/circuitbreaker"
	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
)

const resetScanMethod = "resetScanStatus"

// ScanCleaner clears the aggregator's scan buffer once a scan status has been
// read. Resets are best effort: they are never retried and never reported to
// the parent.
type ScanCleaner struct {
	client   Client
	breakers *circuitbreaker.Registry
	observer Observer
}

func NewScanCleaner(client Client, breakers *circuitbreaker.Registry) *ScanCleaner {
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry("scan-reset")
	}
	return &ScanCleaner{
		client:   client,
		breakers: breakers,
		observer: nopObserver{},
	}
}

type resetScanRequest struct {
	TokenFrom int64 `json:"tokenFrom"`
	TokenTo   int64 `json:"tokenTo"`
}

// MaybeReset issues resetScanStatus for the token range observed in a
// successful, non-empty scan status. It reports whether a reset was attempted.
func (s *ScanCleaner) MaybeReset(ctx context.Context, topo domain.TopologyDescriptor, outcome domain.QueryOutcome) bool {
	if !outcome.Success {
		return false
	}
	from, to, ok := ScanTokenRange(outcome.Payload)
	if !ok {
		return false
	}

	ctx = logger.WithNetwork(ctx, topo.Name)
	breaker := s.breakers.Get(topo.ControllerIPActive)
	err := breaker.Execute(ctx, func() error {
		res := s.client.Call(ctx, Request{
			Address: topo.ControllerIPActive,
			BaseURL: topo.APIServiceBaseURL,
			Method:  resetScanMethod,
			Body:    resetScanRequest{TokenFrom: from, TokenTo: to},
		})
		if res.Success {
			return nil
		}
		if res.Err != nil {
			return res.Err
		}
		return fmt.Errorf("%s: status %d", resetScanMethod, res.StatusCode)
	})
	s.observer.ObserveScanReset(err == nil)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to reset scan status",
			"controller", topo.ControllerIPActive,
			"token_from", from,
			"token_to", to,
			"error", err,
		)
		return true
	}
	logger.DebugContext(ctx, "Scan status reset", "token_from", from, "token_to", to)
	return true
}

// ScanTokenRange returns the smallest and largest numeric token among the keys
// of the payload's scans map. Keys that are not integers are ignored.
func ScanTokenRange(payload json.RawMessage) (from, to int64, ok bool) {
	if len(payload) == 0 {
		return 0, 0, false
	}
	var status struct {
		Scans map[string]json.RawMessage `json:"scans"`
	}
	if err := json.Unmarshal(payload, &status); err != nil {
		return 0, 0, false
	}
	for key := range status.Scans {
		token, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			continue
		}
		if !ok || token < from {
			from = token
		}
		if !ok || token > to {
			to = token
		}
		ok = true
	}
	return from, to, ok
}
