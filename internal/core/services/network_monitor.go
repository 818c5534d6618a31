package services

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
)

const (
	defaultMaxControllerFailures = 1
	defaultMaxControllerEvents   = 10

	// Status reports older than this are dropped from stored status dumps.
	statusReportExpiry = 2 * time.Minute
)

type NetworkAlert struct {
	Network    string    `json:"network"`
	Event      string    `json:"event"` // "online", "offline", "failover", "split_brain"
	Controller string    `json:"controller,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NetworkMonitor folds result messages into a per-network view of controller
// health and the last state reported for each query type.
type NetworkMonitor struct {
	maxFailures int
	maxEvents   int
	now         func() time.Time

	mu       sync.RWMutex
	networks map[string]*domain.NetworkState

	alertChan chan NetworkAlert
}

func NewNetworkMonitor(maxFailures, maxEvents int) *NetworkMonitor {
	if maxFailures <= 0 {
		maxFailures = defaultMaxControllerFailures
	}
	if maxEvents <= 0 {
		maxEvents = defaultMaxControllerEvents
	}
	return &NetworkMonitor{
		maxFailures: maxFailures,
		maxEvents:   maxEvents,
		now:         time.Now,
		networks:    make(map[string]*domain.NetworkState),
		alertChan:   make(chan NetworkAlert, 100),
	}
}

// Sync replaces the set of monitored networks. Networks whose controller pair is
// unchanged keep their state, including any failover swap.
func (m *NetworkMonitor) Sync(topologies []domain.TopologyDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := make(map[string]struct{}, len(topologies))
	for _, t := range topologies {
		if t.Validate() != nil {
			continue
		}
		keep[t.Name] = struct{}{}
		m.trackLocked(t)
	}
	for name := range m.networks {
		if _, ok := keep[name]; !ok {
			delete(m.networks, name)
		}
	}
}

// Track adds networks without forgetting any.
func (m *NetworkMonitor) Track(topologies ...domain.TopologyDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range topologies {
		if t.Validate() == nil {
			m.trackLocked(t)
		}
	}
}

func (m *NetworkMonitor) trackLocked(t domain.TopologyDescriptor) {
	if st, ok := m.networks[t.Name]; ok && samePair(st, t) {
		return
	}
	m.networks[t.Name] = &domain.NetworkState{
		Name:                t.Name,
		ControllerIPActive:  t.ControllerIPActive,
		ControllerIPPassive: t.ControllerIPPassive,
		ControllerEvents:    []domain.ControllerEvent{},
		IgnitionCandidates:  []string{},
		State:               make(map[domain.QueryType]json.RawMessage),
		UpdatedAt:           make(map[domain.QueryType]time.Time),
	}
}

func samePair(st *domain.NetworkState, t domain.TopologyDescriptor) bool {
	return (st.ControllerIPActive == t.ControllerIPActive && st.ControllerIPPassive == t.ControllerIPPassive) ||
		(st.ControllerIPActive == t.ControllerIPPassive && st.ControllerIPPassive == t.ControllerIPActive)
}

// Resolve returns t with the controller roles the monitor currently believes in.
func (m *NetworkMonitor) Resolve(t domain.TopologyDescriptor) domain.TopologyDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.networks[t.Name]
	if !ok || !samePair(st, t) {
		return t
	}
	t.ControllerIPActive = st.ControllerIPActive
	t.ControllerIPPassive = st.ControllerIPPassive
	return t
}

// Observe applies one result message. Messages for unknown networks are ignored.
func (m *NetworkMonitor) Observe(msg domain.ResultMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.networks[msg.Name]
	if !ok {
		logger.Warn("Result for unknown network", "network", msg.Name, "type", msg.Type)
		return
	}

	switch msg.Type {
	case domain.QueryTopology:
		m.observeTopology(st, msg)
	case domain.QueryStatusDump:
		m.observeStatusDump(st, msg)
	case domain.QueryIgnitionState:
		m.observeIgnition(st, msg)
	case domain.QueryBStarState:
		m.observeBStar(st, msg)
	case domain.QueryUpgradeState, domain.QueryScanStatus:
		m.store(st, msg.Type, msg)
	default:
		logger.Warn("Unknown result type", "network", msg.Name, "type", msg.Type)
	}
}

func (m *NetworkMonitor) store(st *domain.NetworkState, q domain.QueryType, msg domain.ResultMessage) {
	if !msg.Success || msg.Payload == nil {
		delete(st.State, q)
		return
	}
	st.State[q] = msg.Payload
	st.UpdatedAt[q] = m.now()
}

func (m *NetworkMonitor) observeTopology(st *domain.NetworkState, msg domain.ResultMessage) {
	wasOnline := st.ControllerOnline

	if msg.Success {
		var topo struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(msg.Payload, &topo); err == nil && topo.Name != st.Name {
			logger.Error("Controller reported a different topology name", "network", st.Name, "received", topo.Name)
			st.ControllerError = "Name mis-match between configured topology and controller topology. " +
				st.Name + " != " + topo.Name
			m.setOnline(st, wasOnline, false)
			return
		}
		st.ControllerError = ""
		st.ControllerFailures = 0
	} else {
		st.ControllerFailures++
	}
	m.setOnline(st, wasOnline, st.ControllerFailures < m.maxFailures)
	m.store(st, domain.QueryTopology, msg)
}

// setOnline records an event only when the effective state changes.
func (m *NetworkMonitor) setOnline(st *domain.NetworkState, wasOnline, online bool) {
	st.ControllerOnline = online
	if online != wasOnline {
		m.recordEvent(st, online)
	}
}

func (m *NetworkMonitor) recordEvent(st *domain.NetworkState, online bool) {
	event := "offline"
	if online {
		event = "online"
	}
	logger.Info("Controller "+event, "network", st.Name, "controller", st.ControllerIPActive)

	st.ControllerEvents = append(st.ControllerEvents, domain.ControllerEvent{At: m.now(), Online: online})
	if n := len(st.ControllerEvents); n > m.maxEvents {
		st.ControllerEvents = append([]domain.ControllerEvent(nil), st.ControllerEvents[n-m.maxEvents:]...)
	}
	m.alert(NetworkAlert{Network: st.Name, Event: event, Controller: st.ControllerIPActive, Timestamp: m.now()})
}

func (m *NetworkMonitor) observeStatusDump(st *domain.NetworkState, msg domain.ResultMessage) {
	if !msg.Success || msg.Payload == nil {
		m.store(st, domain.QueryStatusDump, msg)
		return
	}

	var dump map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload, &dump); err != nil {
		m.store(st, domain.QueryStatusDump, msg)
		return
	}
	var version string
	if err := json.Unmarshal(dump["version"], &version); err == nil {
		st.ControllerVersion = strings.TrimSpace(version)
	}

	var reports map[string]json.RawMessage
	if err := json.Unmarshal(dump["statusReports"], &reports); err == nil && len(reports) > 0 {
		cutoff := m.now().Add(-statusReportExpiry)
		for mac, raw := range reports {
			var report struct {
				TimeStamp int64 `json:"timeStamp"`
			}
			if err := json.Unmarshal(raw, &report); err != nil || report.TimeStamp == 0 {
				continue
			}
			if time.Unix(report.TimeStamp, 0).Before(cutoff) {
				delete(reports, mac)
			}
		}
		if data, err := json.Marshal(reports); err == nil {
			dump["statusReports"] = data
		}
		if data, err := json.Marshal(dump); err == nil {
			msg.Payload = data
		}
	}
	m.store(st, domain.QueryStatusDump, msg)
}

func (m *NetworkMonitor) observeIgnition(st *domain.NetworkState, msg domain.ResultMessage) {
	st.IgnitionCandidates = []string{}
	m.store(st, domain.QueryIgnitionState, msg)
	if !msg.Success || msg.Payload == nil {
		return
	}

	var state struct {
		IgCandidates []struct {
			LinkName string `json:"linkName"`
		} `json:"igCandidates"`
	}
	if err := json.Unmarshal(msg.Payload, &state); err != nil {
		return
	}
	seen := make(map[string]struct{}, len(state.IgCandidates))
	for _, c := range state.IgCandidates {
		if _, ok := seen[c.LinkName]; ok || c.LinkName == "" {
			continue
		}
		seen[c.LinkName] = struct{}{}
		st.IgnitionCandidates = append(st.IgnitionCandidates, c.LinkName)
	}
}

// observeBStar swaps the controller roles when the HA state machines say the
// standby has taken over. If both controllers claim to serve, the network is
// flagged as split-brain and the roles are left alone.
func (m *NetworkMonitor) observeBStar(st *domain.NetworkState, msg domain.ResultMessage) {
	if msg.ControllerIP == st.ControllerIPActive {
		m.store(st, domain.QueryBStarState, msg)
	}
	if st.ControllerIPPassive == "" || !msg.Success {
		return
	}
	state, ok := domain.ParseBStarState(msg.Payload)
	if !ok {
		return
	}

	var swap bool
	switch msg.ControllerIP {
	case st.ControllerIPActive:
		st.ActiveBStar = state
		swap = state.Standby()
	case st.ControllerIPPassive:
		st.PassiveBStar = state
		swap = state.Serving()
	default:
		return
	}

	splitBrain := st.ActiveBStar.Serving() && st.PassiveBStar.Serving()
	if splitBrain && !st.SplitBrain {
		logger.Error("Both controllers report serving state", "network", st.Name,
			"active", st.ControllerIPActive, "passive", st.ControllerIPPassive)
		m.alert(NetworkAlert{Network: st.Name, Event: "split_brain", Timestamp: m.now()})
	}
	st.SplitBrain = splitBrain
	if !swap || splitBrain {
		return
	}

	st.ControllerIPActive, st.ControllerIPPassive = st.ControllerIPPassive, st.ControllerIPActive
	st.ActiveBStar, st.PassiveBStar = st.PassiveBStar, st.ActiveBStar
	logger.Info("BSTAR state changed", "network", st.Name,
		"active", st.ControllerIPActive, "passive", st.ControllerIPPassive)
	m.alert(NetworkAlert{Network: st.Name, Event: "failover", Controller: st.ControllerIPActive, Timestamp: m.now()})
}

func (m *NetworkMonitor) alert(a NetworkAlert) {
	select {
	case m.alertChan <- a:
	default:
		logger.Warn("Alert channel full, dropping alert", "network", a.Network, "event", a.Event)
	}
}

// Alerts returns the alert channel
func (m *NetworkMonitor) Alerts() <-chan NetworkAlert {
	return m.alertChan
}

func (m *NetworkMonitor) Get(name string) (domain.NetworkState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.networks[name]
	if !ok {
		return domain.NetworkState{}, false
	}
	return cloneState(st), true
}

// Snapshot returns a copy of every network, sorted by name.
func (m *NetworkMonitor) Snapshot() []domain.NetworkState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.NetworkState, 0, len(m.networks))
	for _, st := range m.networks {
		out = append(out, cloneState(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func cloneState(st *domain.NetworkState) domain.NetworkState {
	c := *st
	c.ControllerEvents = append(make([]domain.ControllerEvent, 0, len(st.ControllerEvents)), st.ControllerEvents...)
	c.IgnitionCandidates = append(make([]string, 0, len(st.IgnitionCandidates)), st.IgnitionCandidates...)
	c.State = make(map[domain.QueryType]json.RawMessage, len(st.State))
	for k, v := range st.State {
		c.State[k] = v
	}
	c.UpdatedAt = make(map[domain.QueryType]time.Time, len(st.UpdatedAt))
	for k, v := range st.UpdatedAt {
		c.UpdatedAt[k] = v
	}
	return c
}
