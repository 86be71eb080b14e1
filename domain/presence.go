package domain

import "time"

type PresenceState string

const (
	Online  PresenceState = "online"
	Offline PresenceState = "offline"
)

// PresenceRecord is derived from live connections and may be briefly stale.
type PresenceRecord struct {
	Identity Identity
	State    PresenceState
	LastSeen time.Time
}

type SessionEventKind int

const (
	SessionRegistered SessionEventKind = iota
	SessionUnregistered
)

// SessionEvent is emitted by the session store on every register/unregister.
// LiveConnections is the count for Identity right after the change.
type SessionEvent struct {
	Kind            SessionEventKind
	Identity        Identity
	ConnectionID    ConnectionID
	LiveConnections int
	At              time.Time
}
