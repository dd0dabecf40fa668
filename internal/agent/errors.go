package agent

import (
	"errors"
	"fmt"
)

var (
	ErrAgentBusy       = errors.New("agent busy")
	ErrUnsupportedTask = errors.New("unsupported task type")
	ErrAgentOffline    = errors.New("agent offline")
)

// BusyError is returned by Assign when the agent is not idle.
type BusyError struct {
	AgentID string
	Status  Status
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("agent %s is %s", e.AgentID, e.Status)
}

func (e *BusyError) Is(target error) bool {
	return target == ErrAgentBusy
}
