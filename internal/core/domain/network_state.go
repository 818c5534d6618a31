package domain

import (
	"encoding/json"
	"time"
)

// BStarState is the high-availability FSM state reported by a controller.
type BStarState string

const (
	BStarUnknown BStarState = ""
	BStarPrimary BStarState = "STATE_PRIMARY"
	BStarBackup  BStarState = "STATE_BACKUP"
	BStarActive  BStarState = "STATE_ACTIVE"
	BStarPassive BStarState = "STATE_PASSIVE"
)

var bstarByValue = map[int]BStarState{
	1: BStarPrimary,
	2: BStarBackup,
	3: BStarActive,
	4: BStarPassive,
}

// Serving reports whether the state means the controller is the one in charge.
func (s BStarState) Serving() bool {
	return s == BStarActive || s == BStarPrimary
}

// Standby reports whether the state means the controller defers to its peer.
func (s BStarState) Standby() bool {
	return s == BStarPassive || s == BStarBackup
}

// ParseBStarState extracts the FSM state from a bstar_fsm payload. Controllers
// encode it either as the enum name or as its thrift value.
func ParseBStarState(payload json.RawMessage) (BStarState, bool) {
	if len(payload) == 0 {
		return BStarUnknown, false
	}
	var fsm struct {
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(payload, &fsm); err != nil || len(fsm.State) == 0 {
		return BStarUnknown, false
	}
	var name string
	if err := json.Unmarshal(fsm.State, &name); err == nil {
		switch s := BStarState(name); s {
		case BStarPrimary, BStarBackup, BStarActive, BStarPassive:
			return s, true
		}
		return BStarUnknown, false
	}
	var value int
	if err := json.Unmarshal(fsm.State, &value); err == nil {
		s, ok := bstarByValue[value]
		return s, ok
	}
	return BStarUnknown, false
}

type ControllerEvent struct {
	At     time.Time `json:"at"`
	Online bool      `json:"online"`
}

// NetworkState is the parent-side view of one network assembled from result messages.
type NetworkState struct {
	Name                string                        `json:"name"`
	ControllerIPActive  string                        `json:"controller_ip_active"`
	ControllerIPPassive string                        `json:"controller_ip_passive,omitempty"`
	ControllerOnline    bool                          `json:"controller_online"`
	ControllerFailures  int                           `json:"controller_failures"`
	ControllerError     string                        `json:"controller_error,omitempty"`
	ControllerVersion   string                        `json:"controller_version,omitempty"`
	ControllerEvents    []ControllerEvent             `json:"controller_events"`
	ActiveBStar         BStarState                    `json:"active_bstar_state,omitempty"`
	PassiveBStar        BStarState                    `json:"passive_bstar_state,omitempty"`
	SplitBrain          bool                          `json:"split_brain"`
	IgnitionCandidates  []string                      `json:"ignition_candidates"`
	State               map[QueryType]json.RawMessage `json:"state"`
	UpdatedAt           map[QueryType]time.Time       `json:"updated_at"`
}
