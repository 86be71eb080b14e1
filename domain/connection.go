package domain

import (
	"fmt"
	"time"
)

// ConnectionState is the lifecycle of a single transport channel.
//
//	Connecting -> Authenticated -> Active -> Closing -> Closed
//	Connecting -> Closed (authentication rejected)
type ConnectionState int

const (
	Connecting ConnectionState = iota
	Authenticated
	Active
	Closing
	Closed
)

var connectionStateNames = map[ConnectionState]string{
	Connecting:    "connecting",
	Authenticated: "authenticated",
	Active:        "active",
	Closing:       "closing",
	Closed:        "closed",
}

func (s ConnectionState) String() string {
	if name, ok := connectionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

var allowedTransitions = map[ConnectionState][]ConnectionState{
	Connecting:    {Authenticated, Closed},
	Authenticated: {Active, Closing},
	Active:        {Closing},
	Closing:       {Closed},
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
// Closed is terminal.
func (s ConnectionState) CanTransitionTo(next ConnectionState) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Connection is one live transport channel. Identity is bound exactly once.
type Connection struct {
	ID            ConnectionID
	Identity      Identity
	CreatedAt     time.Time
	LastHeartbeat time.Time
}
