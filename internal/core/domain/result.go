package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

type QueryType string

const (
	QueryTopology      QueryType = "topology_update"
	QueryStatusDump    QueryType = "status_dump_update"
	QueryIgnitionState QueryType = "ignition_state"
	QueryUpgradeState  QueryType = "upgrade_state"
	QueryBStarState    QueryType = "bstar_state"
	QueryScanStatus    QueryType = "scan_status"
)

// PollQueryTypes are the queries issued against the active controller on every poll.
var PollQueryTypes = []QueryType{
	QueryTopology,
	QueryStatusDump,
	QueryIgnitionState,
	QueryUpgradeState,
	QueryBStarState,
}

// PayloadField is the JSON key that carries the payload for this query type.
func (q QueryType) PayloadField() string {
	switch q {
	case QueryTopology:
		return "topology"
	case QueryStatusDump:
		return "status_dump"
	case QueryIgnitionState:
		return "ignition_state"
	case QueryUpgradeState:
		return "upgradeState"
	case QueryBStarState:
		return "bstar_fsm"
	case QueryScanStatus:
		return "scan_status"
	default:
		return "payload"
	}
}

// QueryOutcome is the result of one controller call. Failures are carried as
// data so that a failing query never unwinds its siblings.
type QueryOutcome struct {
	Success      bool
	ResponseTime time.Duration
	StatusCode   int
	Payload      json.RawMessage
	Err          error
	Attempts     int
}

func (o QueryOutcome) ResponseTimeMs() int64 {
	return o.ResponseTime.Milliseconds()
}

// ResultMessage is emitted to the parent once per (topology, query, controller).
type ResultMessage struct {
	Name         string
	Type         QueryType
	Success      bool
	ResponseTime int64 // milliseconds
	ControllerIP string
	Payload      json.RawMessage
}

func NewResultMessage(name string, q QueryType, controllerIP string, o QueryOutcome) ResultMessage {
	msg := ResultMessage{
		Name:         name,
		Type:         q,
		Success:      o.Success,
		ResponseTime: o.ResponseTimeMs(),
		ControllerIP: controllerIP,
	}
	if o.Success && len(o.Payload) > 0 {
		msg.Payload = o.Payload
	}
	return msg
}

// Key identifies the message among all messages of one command.
func (m ResultMessage) Key() string {
	return m.Name + "|" + string(m.Type) + "|" + m.ControllerIP
}

type resultHeader struct {
	Name         string    `json:"name"`
	Type         QueryType `json:"type"`
	Success      bool      `json:"success"`
	ResponseTime int64     `json:"response_time"`
	ControllerIP string    `json:"controller_ip"`
}

func (m ResultMessage) MarshalJSON() ([]byte, error) {
	payload := m.Payload
	if !m.Success || len(payload) == 0 {
		payload = nil
	}
	out := map[string]any{
		"name":          m.Name,
		"type":          m.Type,
		"success":       m.Success,
		"response_time": m.ResponseTime,
		"controller_ip": m.ControllerIP,
	}
	out[m.Type.PayloadField()] = payload
	return json.Marshal(out)
}

func (m *ResultMessage) UnmarshalJSON(data []byte) error {
	var h resultHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*m = ResultMessage{
		Name:         h.Name,
		Type:         h.Type,
		Success:      h.Success,
		ResponseTime: h.ResponseTime,
		ControllerIP: h.ControllerIP,
	}
	if raw, ok := fields[h.Type.PayloadField()]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		m.Payload = raw
	}
	return nil
}
