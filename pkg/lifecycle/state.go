package lifecycle

import (
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
)

// State is the lifecycle state of the live pool during one trial
type State int

const (
	StateAbsent State = iota
	StateCreated
	StateDegraded
	StateReplacing
	StateRecovering
	StateRecovered
	StateDestroyed
	StateAborted
)

var stateNames = map[State]string{
	StateAbsent:     "Absent",
	StateCreated:    "Created",
	StateDegraded:   "Degraded",
	StateReplacing:  "Replacing",
	StateRecovering: "Recovering",
	StateRecovered:  "Recovered",
	StateDestroyed:  "Destroyed",
	StateAborted:    "Aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Live reports whether a pool may exist on the host in this state
func (s State) Live() bool {
	switch s {
	case StateAbsent, StateDestroyed:
		return false
	}
	return true
}

// allowed lists the states each step may be taken from
var allowed = map[string][]State{
	"create":  {StateAbsent},
	"degrade": {StateCreated},
	"replace": {StateDegraded},
	"scrub":   {StateCreated},
	"await":   {StateReplacing, StateRecovering},
}

func checkTransition(step string, from State) error {
	for _, s := range allowed[step] {
		if s == from {
			return nil
		}
	}
	return &utils.TransitionError{Step: step, From: from.String()}
}
