package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kind is a dot-separated name whose leading segment acts as the
// subscription namespace. Kinds currently in use:
//
//	connectivity.online / connectivity.offline
//	session.status_changed
//	message.sent / message.queued / message.confirmed
//	sync.completed
//	sos.sent / sos.failed
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
