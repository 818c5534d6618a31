package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTopology = errors.New("invalid topology descriptor")

// TopologyDescriptor is the static addressing record for one managed network.
type TopologyDescriptor struct {
	Name                string `json:"name" yaml:"name"`
	ControllerIPActive  string `json:"controller_ip_active" yaml:"controller_ip_active"`
	ControllerIPPassive string `json:"controller_ip_passive,omitempty" yaml:"controller_ip_passive,omitempty"`
	APIServiceBaseURL   string `json:"apiservice_baseurl,omitempty" yaml:"apiservice_baseurl,omitempty"`
}

// HasPassive reports whether a standby controller is configured.
func (t TopologyDescriptor) HasPassive() bool {
	return strings.TrimSpace(t.ControllerIPPassive) != ""
}

func (t TopologyDescriptor) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTopology)
	}
	if strings.TrimSpace(t.ControllerIPActive) == "" {
		return fmt.Errorf("%w: controller_ip_active is required for %s", ErrInvalidTopology, t.Name)
	}
	return nil
}

// Swapped returns a copy with the active and passive controller addresses exchanged.
func (t TopologyDescriptor) Swapped() TopologyDescriptor {
	t.ControllerIPActive, t.ControllerIPPassive = t.ControllerIPPassive, t.ControllerIPActive
	return t
}
