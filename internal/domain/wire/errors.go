package wire

import "errors"

// ErrorKind classifies wire errors by how the connection must react.
type ErrorKind int

const (
	// KindProtocol is a malformed message. The stream cannot be resynchronized.
	KindProtocol ErrorKind = iota + 1
	// KindFramingPolicy is a contradictory or unsupported length declaration.
	KindFramingPolicy
	// KindHeaderTooLarge is a head over the configured size or count caps.
	KindHeaderTooLarge
	// KindBodyTooLarge is a request body over the configured size cap.
	KindBodyTooLarge
	// KindFramingViolation is a response whose body does not match its framing.
	KindFramingViolation
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindFramingPolicy:
		return "framing_policy"
	case KindHeaderTooLarge:
		return "header_too_large"
	case KindBodyTooLarge:
		return "body_too_large"
	case KindFramingViolation:
		return "framing_violation"
	default:
		return "unknown"
	}
}

// Error is a classified wire error. Sentinels are compared by identity, so
// wrap them with fmt.Errorf("%w: ...") to add detail.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return "wire: " + e.Msg
}

// ErrNeedMore is returned by ParseHead when the head is incomplete.
var ErrNeedMore = errors.New("wire: need more data")

// Protocol errors.
var (
	ErrMalformedRequestLine = &Error{Kind: KindProtocol, Msg: "malformed request line"}
	ErrUnsupportedVersion   = &Error{Kind: KindProtocol, Msg: "unsupported HTTP version"}
	ErrMalformedHeader      = &Error{Kind: KindProtocol, Msg: "malformed header line"}
	ErrObsoleteFolding      = &Error{Kind: KindProtocol, Msg: "obsolete header line folding"}
	ErrChunkFraming         = &Error{Kind: KindProtocol, Msg: "malformed chunked encoding"}
)

// Size errors.
var (
	ErrHeaderTooLarge = &Error{Kind: KindHeaderTooLarge, Msg: "header block too large"}
	ErrTooManyHeaders = &Error{Kind: KindHeaderTooLarge, Msg: "too many header fields"}
	ErrBodyTooLarge   = &Error{Kind: KindBodyTooLarge, Msg: "request body too large"}
)

// Framing policy errors.
var (
	ErrAmbiguousFraming          = &Error{Kind: KindFramingPolicy, Msg: "ambiguous message framing"}
	ErrInvalidContentLength      = &Error{Kind: KindFramingPolicy, Msg: "invalid Content-Length"}
	ErrInvalidTransferEncoding   = &Error{Kind: KindFramingPolicy, Msg: "invalid Transfer-Encoding"}
	ErrUnsupportedTransferCoding = &Error{Kind: KindFramingPolicy, Msg: "unsupported transfer coding"}
)

// Response framing violations.
var (
	ErrFramingViolation      = &Error{Kind: KindFramingViolation, Msg: "response body does not match its framing"}
	ErrMissingFraming        = &Error{Kind: KindFramingViolation, Msg: "response body has no Content-Length or chunked framing"}
	ErrContentLengthExceeded = &Error{Kind: KindFramingViolation, Msg: "response body exceeds Content-Length"}
	ErrBodyNotAllowed        = &Error{Kind: KindFramingViolation, Msg: "response status does not allow a body"}
)

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsFatal reports whether err leaves the connection's byte stream in an
// unknown state.
func IsFatal(err error) bool {
	return KindOf(err) != 0
}
