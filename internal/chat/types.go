package chat

// EventType identifies a request handled by the Registry loop.
type EventType int

const (
	EventAdd EventType = iota
	EventRemove
	EventAuthenticate
	EventCount
	EventOnline
	EventLookup
	EventBroadcast
	EventPublishOnline
	EventCloseAll
)

func (t EventType) String() string {
	switch t {
	case EventAdd:
		return "add"
	case EventRemove:
		return "remove"
	case EventAuthenticate:
		return "authenticate"
	case EventCount:
		return "count"
	case EventOnline:
		return "online"
	case EventLookup:
		return "lookup"
	case EventBroadcast:
		return "broadcast"
	case EventPublishOnline:
		return "publish_online"
	case EventCloseAll:
		return "close_all"
	default:
		return "unknown"
	}
}

type Event struct {
	Type      EventType
	Session   *Session
	Username  string
	Payload   []byte
	Datetime  string
	Delimit   bool
	ReplyChan chan Reply
}

// Reply carries the result of an Event back to the caller.
type Reply struct {
	Err     error
	Count   int
	Names   []string
	Session *Session
	Removed bool
}

var (
	ErrMalformedEnvelope     = errorString("malformed_envelope")
	ErrMalformedCommand      = errorString("malformed_command")
	ErrAlreadyLoggedIn       = errorString("already_logged_in")
	ErrUnauthenticatedAccess = errorString("unauthenticated_access")
	ErrCapacityExceeded      = errorString("capacity_exceeded")
	ErrSessionClosed         = errorString("session_closed")
	ErrOutboundFull          = errorString("outbound_full")
	ErrRegistryStopped       = errorString("registry_stopped")
)

type errorString string

func (e errorString) Error() string { return string(e) }
