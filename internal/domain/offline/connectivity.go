package offline

import "time"

// ConnectivityState is the process-wide view of network reachability.
type ConnectivityState struct {
	IsOnline     bool      `json:"is_online"`
	LastOnlineAt time.Time `json:"last_online_at,omitempty"`
}

// HasBeenOnline reports whether LastOnlineAt is set.
func (s ConnectivityState) HasBeenOnline() bool {
	return !s.LastOnlineAt.IsZero()
}

// Transition applies an observation and reports whether it brought the
// client back online.
func (s ConnectivityState) Transition(online bool, now time.Time) (ConnectivityState, bool) {
	reconnected := online && !s.IsOnline
	next := ConnectivityState{IsOnline: online, LastOnlineAt: s.LastOnlineAt}
	if reconnected {
		next.LastOnlineAt = now
	}
	return next, reconnected
}
