package poller

import (
	"context"
	"net/http"
	"reflect"
	"testing"
	"time"

	"tgnms.poller/internal/core/domain"
)

// scripted returns the given status codes in order, repeating the last one.
// A 200 is a success.
func scripted(codes ...int) (Client, *int) {
	calls := 0
	return ClientFunc(func(ctx context.Context, req Request) domain.QueryOutcome {
		code := codes[len(codes)-1]
		if calls < len(codes) {
			code = codes[calls]
		}
		calls++
		if code == http.StatusOK {
			return domain.QueryOutcome{Success: true, StatusCode: code, Payload: []byte(`{"ok":true}`), Attempts: 1}
		}
		return domain.QueryOutcome{StatusCode: code, Err: &StatusError{Method: req.Method, StatusCode: code}, Attempts: 1}
	}), &calls
}

func recordSleeps(slept *[]time.Duration) RetryOption {
	return withSleep(func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	})
}

func ms(v ...int) []time.Duration {
	out := make([]time.Duration, len(v))
	for i, n := range v {
		out[i] = time.Duration(n) * time.Millisecond
	}
	return out
}

func TestWithRetry(t *testing.T) {
	tests := []struct {
		name        string
		delays      []time.Duration
		codes       []int
		wantCalls   int
		wantSuccess bool
		wantSleeps  []time.Duration
	}{
		{
			name:        "400 twice then success",
			delays:      ms(100, 500, 1000),
			codes:       []int{400, 400, 200},
			wantCalls:   3,
			wantSuccess: true,
			wantSleeps:  ms(100, 500),
		},
		{
			name:        "400 forever with one delay",
			delays:      ms(100),
			codes:       []int{400},
			wantCalls:   2,
			wantSuccess: false,
			wantSleeps:  ms(100),
		},
		{
			name:        "500 is not retried",
			delays:      ms(100, 500, 1000),
			codes:       []int{500},
			wantCalls:   1,
			wantSuccess: false,
		},
		{
			name:        "empty delays still calls once",
			delays:      nil,
			codes:       []int{400},
			wantCalls:   1,
			wantSuccess: false,
		},
		{
			name:        "success needs no retry",
			delays:      ms(100, 500, 1000),
			codes:       []int{200},
			wantCalls:   1,
			wantSuccess: true,
		},
		{
			name:        "400 exhausts all delays",
			delays:      ms(100, 500, 1000),
			codes:       []int{400},
			wantCalls:   4,
			wantSuccess: false,
			wantSleeps:  ms(100, 500, 1000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, calls := scripted(tt.codes...)
			var slept []time.Duration
			c := WithRetry(tt.delays, next, recordSleeps(&slept))

			outcome := c.Call(context.Background(), Request{Method: "getTopology"})

			if *calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", *calls, tt.wantCalls)
			}
			if outcome.Attempts != tt.wantCalls {
				t.Errorf("Attempts = %d, want %d", outcome.Attempts, tt.wantCalls)
			}
			if outcome.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", outcome.Success, tt.wantSuccess)
			}
			if len(slept) != len(tt.wantSleeps) || (len(slept) > 0 && !reflect.DeepEqual(slept, tt.wantSleeps)) {
				t.Errorf("slept %v, want %v", slept, tt.wantSleeps)
			}
		})
	}
}

func TestWithRetry_TransportErrorNotRetried(t *testing.T) {
	calls := 0
	next := ClientFunc(func(ctx context.Context, req Request) domain.QueryOutcome {
		calls++
		return domain.QueryOutcome{Err: context.DeadlineExceeded, Attempts: 1}
	})
	var slept []time.Duration

	WithRetry(ms(100, 500), next, recordSleeps(&slept)).Call(context.Background(), Request{Method: "getTopology"})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestWithRetry_RetryOnStatus(t *testing.T) {
	next, calls := scripted(503, 503, 200)
	var slept []time.Duration

	outcome := WithRetry(ms(10, 10), next, RetryOnStatus(503), recordSleeps(&slept)).
		Call(context.Background(), Request{Method: "getTopology"})

	if !outcome.Success || *calls != 3 {
		t.Errorf("expected success after 3 calls, got success=%v calls=%d", outcome.Success, *calls)
	}

	next, calls = scripted(400)
	WithRetry(ms(10, 10), next, RetryOnStatus(503), recordSleeps(&slept)).
		Call(context.Background(), Request{Method: "getTopology"})
	if *calls != 1 {
		t.Errorf("400 should not be retried once replaced, got %d calls", *calls)
	}
}

func TestWithRetry_OnRetry(t *testing.T) {
	next, _ := scripted(400, 400, 200)
	var attempts []int
	var slept []time.Duration

	WithRetry(ms(100, 500, 1000), next,
		recordSleeps(&slept),
		OnRetry(func(req Request, attempt int, outcome domain.QueryOutcome) {
			attempts = append(attempts, attempt)
		}),
	).Call(context.Background(), Request{Method: "getTopology"})

	if !reflect.DeepEqual(attempts, []int{1, 2}) {
		t.Errorf("unexpected retry callbacks %v", attempts)
	}
}

func TestWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	next, calls := scripted(400)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	outcome := WithRetry([]time.Duration{time.Hour}, next).Call(ctx, Request{Method: "getTopology"})

	if time.Since(start) > 5*time.Second {
		t.Fatal("backoff ignored cancellation")
	}
	if *calls != 1 || outcome.Success {
		t.Errorf("expected a single failed call, got calls=%d success=%v", *calls, outcome.Success)
	}
}
