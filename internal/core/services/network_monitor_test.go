package services

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
	"time"

	"tgnms.poller/internal/core/domain"
)

func topologyMsg(name string, success bool, topoName string) domain.ResultMessage {
	msg := domain.ResultMessage{Name: name, Type: domain.QueryTopology, Success: success, ControllerIP: "10.0.0.1"}
	if success {
		msg.Payload = json.RawMessage(fmt.Sprintf(`{"name":%q,"nodes":[]}`, topoName))
	}
	return msg
}

func bstarMsg(name, ip string, state string) domain.ResultMessage {
	return domain.ResultMessage{
		Name:         name,
		Type:         domain.QueryBStarState,
		Success:      true,
		ControllerIP: ip,
		Payload:      json.RawMessage(`{"state":` + state + `}`),
	}
}

func TestNetworkMonitor_ControllerOnline(t *testing.T) {
	m := NewNetworkMonitor(2, 10)
	m.Sync([]domain.TopologyDescriptor{{Name: "net1", ControllerIPActive: "10.0.0.1"}})

	m.Observe(topologyMsg("net1", true, "net1"))
	st, _ := m.Get("net1")
	if !st.ControllerOnline || len(st.ControllerEvents) != 1 {
		t.Fatalf("expected online with one event, got %+v", st)
	}
	if _, ok := st.State[domain.QueryTopology]; !ok {
		t.Error("expected stored topology")
	}

	m.Observe(topologyMsg("net1", false, ""))
	st, _ = m.Get("net1")
	if !st.ControllerOnline {
		t.Error("one failure must not mark offline with a threshold of 2")
	}
	if _, ok := st.State[domain.QueryTopology]; ok {
		t.Error("failed topology must clear stored topology")
	}

	m.Observe(topologyMsg("net1", false, ""))
	st, _ = m.Get("net1")
	if st.ControllerOnline || st.ControllerFailures != 2 {
		t.Errorf("expected offline after 2 failures, got online=%v failures=%d", st.ControllerOnline, st.ControllerFailures)
	}

	select {
	case a := <-m.Alerts():
		if a.Event != "online" {
			t.Errorf("expected online alert first, got %s", a.Event)
		}
	default:
		t.Error("expected an alert")
	}
}

func TestNetworkMonitor_NameMismatch(t *testing.T) {
	m := NewNetworkMonitor(1, 10)
	m.Sync([]domain.TopologyDescriptor{{Name: "net1", ControllerIPActive: "10.0.0.1"}})

	m.Observe(topologyMsg("net1", true, "other"))
	st, _ := m.Get("net1")
	if st.ControllerOnline || st.ControllerError == "" {
		t.Errorf("expected offline with error, got %+v", st)
	}

	m.Observe(topologyMsg("net1", true, "net1"))
	st, _ = m.Get("net1")
	if !st.ControllerOnline || st.ControllerError != "" {
		t.Errorf("expected error cleared, got %+v", st)
	}
}

func drainAlerts(m *NetworkMonitor) []string {
	var events []string
	for {
		select {
		case a := <-m.Alerts():
			events = append(events, a.Event)
		default:
			return events
		}
	}
}

func TestNetworkMonitor_EventsOnlyOnTransitions(t *testing.T) {
	tests := []struct {
		name        string
		maxFailures int
		msgs        []domain.ResultMessage
		wantOnline  bool
		wantAlerts  []string
	}{
		{
			name:        "repeated name mismatch stays offline silently",
			maxFailures: 1,
			msgs: []domain.ResultMessage{
				topologyMsg("net1", true, "other"),
				topologyMsg("net1", true, "other"),
				topologyMsg("net1", true, "other"),
			},
			wantOnline: false,
			wantAlerts: nil,
		},
		{
			name:        "mismatch after online goes offline once",
			maxFailures: 1,
			msgs: []domain.ResultMessage{
				topologyMsg("net1", true, "net1"),
				topologyMsg("net1", true, "other"),
				topologyMsg("net1", true, "other"),
			},
			wantOnline: false,
			wantAlerts: []string{"online", "offline"},
		},
		{
			name:        "failures below threshold keep online",
			maxFailures: 3,
			msgs: []domain.ResultMessage{
				topologyMsg("net1", true, "net1"),
				topologyMsg("net1", false, ""),
				topologyMsg("net1", false, ""),
			},
			wantOnline: true,
			wantAlerts: []string{"online"},
		},
		{
			name:        "threshold reached goes offline",
			maxFailures: 3,
			msgs: []domain.ResultMessage{
				topologyMsg("net1", true, "net1"),
				topologyMsg("net1", false, ""),
				topologyMsg("net1", false, ""),
				topologyMsg("net1", false, ""),
			},
			wantOnline: false,
			wantAlerts: []string{"online", "offline"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewNetworkMonitor(tt.maxFailures, 10)
			m.Sync([]domain.TopologyDescriptor{{Name: "net1", ControllerIPActive: "10.0.0.1"}})
			for _, msg := range tt.msgs {
				m.Observe(msg)
			}

			st, _ := m.Get("net1")
			if st.ControllerOnline != tt.wantOnline {
				t.Errorf("online = %v, want %v", st.ControllerOnline, tt.wantOnline)
			}
			if len(st.ControllerEvents) != len(tt.wantAlerts) {
				t.Errorf("got %d events, want %d", len(st.ControllerEvents), len(tt.wantAlerts))
			}
			if got := drainAlerts(m); !reflect.DeepEqual(got, tt.wantAlerts) {
				t.Errorf("alerts = %v, want %v", got, tt.wantAlerts)
			}
		})
	}
}

func TestNetworkMonitor_EventHistoryCapped(t *testing.T) {
	m := NewNetworkMonitor(1, 3)
	m.Sync([]domain.TopologyDescriptor{{Name: "net1", ControllerIPActive: "10.0.0.1"}})

	for i := 0; i < 6; i++ {
		m.Observe(topologyMsg("net1", i%2 == 0, "net1"))
	}
	st, _ := m.Get("net1")
	if len(st.ControllerEvents) != 3 {
		t.Fatalf("expected 3 events, got %d", len(st.ControllerEvents))
	}
	if st.ControllerEvents[2].Online {
		t.Error("expected the most recent event to be kept last")
	}
}

func TestNetworkMonitor_BStarFailover(t *testing.T) {
	tests := []struct {
		name      string
		msgs      []domain.ResultMessage
		wantAct   string
		wantSplit bool
	}{
		{
			name:    "active reports passive",
			msgs:    []domain.ResultMessage{bstarMsg("net1", "10.0.0.1", `"STATE_PASSIVE"`)},
			wantAct: "10.0.0.2",
		},
		{
			name:    "active reports backup as thrift value",
			msgs:    []domain.ResultMessage{bstarMsg("net1", "10.0.0.1", `2`)},
			wantAct: "10.0.0.2",
		},
		{
			name:    "passive reports active",
			msgs:    []domain.ResultMessage{bstarMsg("net1", "10.0.0.2", `"STATE_ACTIVE"`)},
			wantAct: "10.0.0.2",
		},
		{
			name: "healthy pair",
			msgs: []domain.ResultMessage{
				bstarMsg("net1", "10.0.0.1", `"STATE_ACTIVE"`),
				bstarMsg("net1", "10.0.0.2", `"STATE_PASSIVE"`),
			},
			wantAct: "10.0.0.1",
		},
		{
			name: "both serving",
			msgs: []domain.ResultMessage{
				bstarMsg("net1", "10.0.0.1", `"STATE_ACTIVE"`),
				bstarMsg("net1", "10.0.0.2", `"STATE_PRIMARY"`),
			},
			wantAct:   "10.0.0.1",
			wantSplit: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewNetworkMonitor(1, 10)
			desc := domain.TopologyDescriptor{Name: "net1", ControllerIPActive: "10.0.0.1", ControllerIPPassive: "10.0.0.2"}
			m.Sync([]domain.TopologyDescriptor{desc})

			for _, msg := range tt.msgs {
				m.Observe(msg)
			}

			st, _ := m.Get("net1")
			if st.ControllerIPActive != tt.wantAct {
				t.Errorf("active = %s, want %s", st.ControllerIPActive, tt.wantAct)
			}
			if st.SplitBrain != tt.wantSplit {
				t.Errorf("split brain = %v, want %v", st.SplitBrain, tt.wantSplit)
			}
			if got := m.Resolve(desc); got.ControllerIPActive != tt.wantAct {
				t.Errorf("Resolve active = %s, want %s", got.ControllerIPActive, tt.wantAct)
			}
		})
	}
}

func TestNetworkMonitor_SyncKeepsSwap(t *testing.T) {
	m := NewNetworkMonitor(1, 10)
	desc := domain.TopologyDescriptor{Name: "net1", ControllerIPActive: "10.0.0.1", ControllerIPPassive: "10.0.0.2"}
	m.Sync([]domain.TopologyDescriptor{desc, {Name: "net2", ControllerIPActive: "10.1.0.1"}})
	m.Observe(bstarMsg("net1", "10.0.0.1", `"STATE_PASSIVE"`))

	m.Sync([]domain.TopologyDescriptor{desc})
	if got := m.Resolve(desc); got.ControllerIPActive != "10.0.0.2" {
		t.Errorf("swap lost on resync, active = %s", got.ControllerIPActive)
	}
	if _, ok := m.Get("net2"); ok {
		t.Error("expected net2 to be forgotten")
	}

	desc.ControllerIPPassive = "10.0.0.3"
	m.Sync([]domain.TopologyDescriptor{desc})
	if got := m.Resolve(desc); got.ControllerIPActive != "10.0.0.1" {
		t.Errorf("changed controller pair must reset roles, active = %s", got.ControllerIPActive)
	}
}

func TestNetworkMonitor_IgnitionCandidates(t *testing.T) {
	m := NewNetworkMonitor(1, 10)
	m.Sync([]domain.TopologyDescriptor{{Name: "net1", ControllerIPActive: "10.0.0.1"}})

	m.Observe(domain.ResultMessage{
		Name:    "net1",
		Type:    domain.QueryIgnitionState,
		Success: true,
		Payload: json.RawMessage(`{"igCandidates":[{"linkName":"link-a-b"},{"linkName":"link-c-d"},{"linkName":"link-a-b"}]}`),
	})

	st, _ := m.Get("net1")
	if !reflect.DeepEqual(st.IgnitionCandidates, []string{"link-a-b", "link-c-d"}) {
		t.Errorf("unexpected candidates %v", st.IgnitionCandidates)
	}
}

func TestNetworkMonitor_StatusDumpPrunesStaleReports(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := NewNetworkMonitor(1, 10)
	m.now = func() time.Time { return now }
	m.Sync([]domain.TopologyDescriptor{{Name: "net1", ControllerIPActive: "10.0.0.1"}})

	payload := fmt.Sprintf(`{"version":"RELEASE_M80\n","statusReports":{"aa":{"timeStamp":%d},"bb":{"timeStamp":%d},"cc":{"timeStamp":0}}}`,
		now.Add(-10*time.Second).Unix(), now.Add(-10*time.Minute).Unix())
	m.Observe(domain.ResultMessage{Name: "net1", Type: domain.QueryStatusDump, Success: true, Payload: json.RawMessage(payload)})

	st, _ := m.Get("net1")
	if st.ControllerVersion != "RELEASE_M80" {
		t.Errorf("unexpected version %q", st.ControllerVersion)
	}
	var dump struct {
		StatusReports map[string]json.RawMessage `json:"statusReports"`
	}
	if err := json.Unmarshal(st.State[domain.QueryStatusDump], &dump); err != nil {
		t.Fatalf("stored dump: %v", err)
	}
	if _, ok := dump.StatusReports["bb"]; ok {
		t.Error("expected stale report to be pruned")
	}
	if len(dump.StatusReports) != 2 {
		t.Errorf("expected 2 reports kept, got %d", len(dump.StatusReports))
	}
}

func TestNetworkMonitor_UnknownNetworkIgnored(t *testing.T) {
	m := NewNetworkMonitor(1, 10)
	m.Observe(topologyMsg("ghost", true, "ghost"))
	if len(m.Snapshot()) != 0 {
		t.Error("unknown network must not be created")
	}
}
