package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/ports"
)

func TestWorker_StreamsResults(t *testing.T) {
	w := NewWorker(NewDispatcher(New(newStubController(), noSleep())), 0)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	cmd := domain.Command{
		Type:       domain.CommandPoll,
		Topologies: []domain.TopologyDescriptor{{Name: "net1", ControllerIPActive: "10.0.0.1", ControllerIPPassive: "10.0.0.2"}},
	}
	if err := w.Send(context.Background(), cmd); err != nil {
		t.Fatalf("Send: %v", err)
	}

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 6 {
		select {
		case msg := <-w.Results():
			seen[msg.Key()] = true
		case <-timeout:
			t.Fatalf("timed out with %d results", len(seen))
		}
	}
}

func TestWorker_UnknownCommandIsDropped(t *testing.T) {
	w := NewWorker(NewDispatcher(New(newStubController(), noSleep())), 0)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := w.Send(context.Background(), domain.Command{Type: "bogus"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	cmd := domain.Command{
		Type:       domain.CommandScanPoll,
		Topologies: []domain.TopologyDescriptor{{Name: "net1", ControllerIPActive: "10.0.0.1"}},
	}
	if err := w.Send(context.Background(), cmd); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-w.Results():
		if msg.Type != domain.QueryScanStatus {
			t.Errorf("unexpected message %s", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped processing after an unknown command")
	}
	if !w.Alive() {
		t.Error("worker should stay alive")
	}
}

func TestWorker_Lifecycle(t *testing.T) {
	w := NewWorker(NewDispatcher(New(newStubController())), 0)

	if err := w.Send(context.Background(), domain.Command{Type: domain.CommandPoll}); !errors.Is(err, ErrWorkerNotStarted) {
		t.Errorf("expected ErrWorkerNotStarted, got %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !w.Alive() {
		t.Error("expected alive after start")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if w.Alive() {
		t.Error("expected not alive after stop")
	}
	if _, ok := <-w.Results(); ok {
		t.Error("expected results channel to be closed")
	}
	if err := w.Send(context.Background(), domain.Command{Type: domain.CommandPoll}); !errors.Is(err, ports.ErrWorkerStopped) {
		t.Errorf("expected ErrWorkerStopped, got %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
