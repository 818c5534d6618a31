package poller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"tgnms.poller/internal/core/domain"
)

type stubController struct {
	mu       sync.Mutex
	requests []Request
	fail     map[string]int             // method -> status code
	payloads map[string]json.RawMessage // method -> body
	delay    map[string]time.Duration
}

func newStubController() *stubController {
	return &stubController{
		fail:     map[string]int{},
		payloads: map[string]json.RawMessage{},
		delay:    map[string]time.Duration{},
	}
}

func (s *stubController) Call(ctx context.Context, req Request) domain.QueryOutcome {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	code, failing := s.fail[req.Method]
	payload := s.payloads[req.Method]
	delay := s.delay[req.Method]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.QueryOutcome{Err: ctx.Err(), Attempts: 1}
		}
	}
	if failing {
		return domain.QueryOutcome{StatusCode: code, Err: &StatusError{Method: req.Method, StatusCode: code}, Attempts: 1}
	}
	if payload == nil {
		payload = json.RawMessage(`{"method":"` + req.Method + `"}`)
	}
	return domain.QueryOutcome{Success: true, StatusCode: http.StatusOK, Payload: payload, Attempts: 1}
}

func (s *stubController) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	for i, r := range s.requests {
		out[i] = r.Method
	}
	return out
}

type collector struct {
	mu   sync.Mutex
	msgs []domain.ResultMessage
}

func (c *collector) emit(msg domain.ResultMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) all() []domain.ResultMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ResultMessage(nil), c.msgs...)
}

func noSleep() Option {
	return WithRetryOptions(withSleep(func(ctx context.Context, d time.Duration) error { return nil }))
}

func TestDispatch_PollEmitsOneMessagePerQuery(t *testing.T) {
	stub := newStubController()
	d := NewDispatcher(New(stub, noSleep()))
	var got collector

	cmd := domain.Command{
		Type: domain.CommandPoll,
		Topologies: []domain.TopologyDescriptor{
			{Name: "net1", ControllerIPActive: "10.0.0.1"},
			{Name: "net2", ControllerIPActive: "10.0.0.2", ControllerIPPassive: "10.0.0.3"},
			{Name: "net3", ControllerIPActive: "2001:db8::1"},
		},
	}
	if err := d.Dispatch(context.Background(), cmd, got.emit); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Wait()

	msgs := got.all()
	if len(msgs) != 16 || cmd.ExpectedResults() != 16 {
		t.Fatalf("expected 16 messages, got %d (expected %d)", len(msgs), cmd.ExpectedResults())
	}
	seen := map[string]bool{}
	for _, m := range msgs {
		if seen[m.Key()] {
			t.Errorf("duplicate message identity %s", m.Key())
		}
		seen[m.Key()] = true
	}
	if !seen["net2|bstar_state|10.0.0.3"] {
		t.Error("missing passive controller bstar_state message")
	}
	if !seen["net2|bstar_state|10.0.0.2"] {
		t.Error("missing active controller bstar_state message")
	}
}

func TestDispatch_PartialFailure(t *testing.T) {
	stub := newStubController()
	stub.fail["getUpgradeState"] = http.StatusInternalServerError
	stub.fail["getHighAvailabilityState"] = http.StatusServiceUnavailable
	d := NewDispatcher(New(stub, noSleep()))
	var got collector

	cmd := domain.Command{
		Type:       domain.CommandPoll,
		Topologies: []domain.TopologyDescriptor{{Name: "net1", ControllerIPActive: "10.0.0.1"}},
	}
	if err := d.Dispatch(context.Background(), cmd, got.emit); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Wait()

	msgs := got.all()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	succeeded := 0
	for _, m := range msgs {
		if m.Name != "net1" || m.ControllerIP != "10.0.0.1" {
			t.Errorf("unexpected message identity %s", m.Key())
		}
		if m.Success {
			succeeded++
			if m.Payload == nil {
				t.Errorf("%s: expected payload on success", m.Type)
			}
			continue
		}
		if m.Type != domain.QueryUpgradeState && m.Type != domain.QueryBStarState {
			t.Errorf("unexpected failure for %s", m.Type)
		}
		if m.Payload != nil {
			t.Errorf("%s: expected null payload on failure", m.Type)
		}
	}
	if succeeded != 3 {
		t.Errorf("expected 3 successes, got %d", succeeded)
	}
}

func TestDispatch_SlowQueryDoesNotBlockSiblings(t *testing.T) {
	stub := newStubController()
	stub.delay["getUpgradeState"] = 200 * time.Millisecond
	d := NewDispatcher(New(stub, noSleep()))

	first := make(chan domain.ResultMessage, 5)
	cmd := domain.Command{
		Type:       domain.CommandPoll,
		Topologies: []domain.TopologyDescriptor{{Name: "net1", ControllerIPActive: "10.0.0.1"}},
	}
	if err := d.Dispatch(context.Background(), cmd, func(m domain.ResultMessage) { first <- m }); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	for i := 0; i < 4; i++ {
		select {
		case m := <-first:
			if m.Type == domain.QueryUpgradeState {
				t.Fatal("slow query finished before its siblings")
			}
		case <-time.After(150 * time.Millisecond):
			t.Fatalf("sibling %d blocked behind slow query", i)
		}
	}
	d.Wait()
	if m := <-first; m.Type != domain.QueryUpgradeState {
		t.Errorf("expected the slow query last, got %s", m.Type)
	}
}

func TestDispatch_RetriesAreIndependentPerQuery(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	client := ClientFunc(func(ctx context.Context, req Request) domain.QueryOutcome {
		mu.Lock()
		calls[req.Method]++
		mu.Unlock()
		if req.Method == "getIgnitionState" {
			return domain.QueryOutcome{StatusCode: http.StatusBadRequest, Err: &StatusError{Method: req.Method, StatusCode: 400}}
		}
		return domain.QueryOutcome{Success: true, StatusCode: http.StatusOK, Payload: json.RawMessage(`{}`)}
	})
	d := NewDispatcher(New(client, noSleep(), WithRetryDelays(ms(1, 1))))
	var got collector

	cmd := domain.Command{
		Type:       domain.CommandPoll,
		Topologies: []domain.TopologyDescriptor{{Name: "net1", ControllerIPActive: "10.0.0.1"}},
	}
	if err := d.Dispatch(context.Background(), cmd, got.emit); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Wait()

	if calls["getIgnitionState"] != 3 {
		t.Errorf("expected 3 ignition attempts, got %d", calls["getIgnitionState"])
	}
	if calls["getTopology"] != 1 {
		t.Errorf("expected 1 topology attempt, got %d", calls["getTopology"])
	}
}

func TestDispatch_UnknownCommand(t *testing.T) {
	stub := newStubController()
	d := NewDispatcher(New(stub))
	var got collector

	err := d.Dispatch(context.Background(), domain.Command{Type: "reboot"}, got.emit)
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	d.Wait()
	if len(got.all()) != 0 || len(stub.methods()) != 0 {
		t.Error("unknown command must not reach the controller")
	}
}

func TestDispatch_SkipsInvalidTopology(t *testing.T) {
	stub := newStubController()
	d := NewDispatcher(New(stub, noSleep()))
	var got collector

	cmd := domain.Command{
		Type: domain.CommandPoll,
		Topologies: []domain.TopologyDescriptor{
			{Name: "no-controller"},
			{Name: "net1", ControllerIPActive: "10.0.0.1"},
		},
	}
	if err := d.Dispatch(context.Background(), cmd, got.emit); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Wait()

	if n := len(got.all()); n != 5 {
		t.Errorf("expected 5 messages, got %d", n)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestDispatch_PollRequestURLs(t *testing.T) {
	var mu sync.Mutex
	var urls []string
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		urls = append(urls, r.Method+" "+r.URL.String())
		mu.Unlock()
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{}`)),
			Header:     make(http.Header),
		}, nil
	})}

	tests := []struct {
		name string
		ip   string
		base string
	}{
		{name: "ipv4", ip: "10.0.0.1", base: "http://10.0.0.1:8080/api/"},
		{name: "ipv6", ip: "2001:db8::1", base: "http://[2001:db8::1]:8080/api/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mu.Lock()
			urls = nil
			mu.Unlock()

			d := NewDispatcher(New(NewHTTPClient(WithHTTPClient(hc))))
			var got collector
			cmd := domain.Command{
				Type:       domain.CommandPoll,
				Topologies: []domain.TopologyDescriptor{{Name: "net1", ControllerIPActive: tt.ip}},
			}
			if err := d.Dispatch(context.Background(), cmd, got.emit); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			d.Wait()

			mu.Lock()
			defer mu.Unlock()
			if len(urls) != 5 {
				t.Fatalf("expected 5 requests, got %d: %v", len(urls), urls)
			}
			want := map[string]bool{}
			for _, m := range []string{"getTopology", "getCtrlStatusDump", "getIgnitionState", "getUpgradeState", "getHighAvailabilityState"} {
				want["POST "+tt.base+m] = true
			}
			for _, u := range urls {
				if !want[u] {
					t.Errorf("unexpected request %s", u)
				}
				delete(want, u)
			}
			for _, msg := range got.all() {
				if msg.ControllerIP != tt.ip {
					t.Errorf("unexpected controller ip %s", msg.ControllerIP)
				}
			}
		})
	}
}

func TestPollTopology_PassiveIgnoresBaseURLOverride(t *testing.T) {
	stub := newStubController()
	p := New(stub, noSleep())
	var got collector

	p.PollTopology(context.Background(), domain.TopologyDescriptor{
		Name:                "net1",
		ControllerIPActive:  "10.0.0.1",
		ControllerIPPassive: "10.0.0.2",
		APIServiceBaseURL:   "http://api.local:9000",
	}, got.emit)
	p.Wait()

	stub.mu.Lock()
	defer stub.mu.Unlock()
	for _, r := range stub.requests {
		switch r.Address {
		case "10.0.0.1":
			if r.BaseURL != "http://api.local:9000" {
				t.Errorf("%s: active query lost its base url", r.Method)
			}
		case "10.0.0.2":
			if r.BaseURL != "" || r.Method != "getHighAvailabilityState" {
				t.Errorf("unexpected passive request %+v", r)
			}
		default:
			t.Errorf("unexpected address %s", r.Address)
		}
	}
}
