package domain

import (
	"errors"
	"fmt"
)

type CommandType string

const (
	CommandPoll     CommandType = "poll"
	CommandScanPoll CommandType = "scan_poll"
)

var ErrUnknownCommand = errors.New("unknown command type")

// Command is sent by the parent to the worker. Type selects the variant.
type Command struct {
	ID         string               `json:"id,omitempty"`
	Type       CommandType          `json:"type"`
	Topologies []TopologyDescriptor `json:"topologies"`
}

func (c Command) Validate() error {
	switch c.Type {
	case CommandPoll, CommandScanPoll:
		return nil
	case "":
		return fmt.Errorf("%w: missing type", ErrUnknownCommand)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Type)
	}
}

// ExpectedResults is the number of result messages a valid command produces
// once every query has completed.
func (c Command) ExpectedResults() int {
	n := 0
	for _, t := range c.Topologies {
		if t.Validate() != nil {
			continue
		}
		switch c.Type {
		case CommandPoll:
			n += len(PollQueryTypes)
			if t.HasPassive() {
				n++
			}
		case CommandScanPoll:
			n++
		}
	}
	return n
}
