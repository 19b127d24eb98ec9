package http1

// State is the position of a connection in its request cycle.
type State int32

const (
	StateAwaitingRequest State = iota
	StateReadingHeaders
	StateReadingBody
	StateDispatched
	StateWritingResponse
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateAwaitingRequest:
		return "awaiting_request"
	case StateReadingHeaders:
		return "reading_headers"
	case StateReadingBody:
		return "reading_body"
	case StateDispatched:
		return "dispatched"
	case StateWritingResponse:
		return "writing_response"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
