package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindRateLimited
	KindValidation
	KindNotFound
	KindConflict
	KindUpstream
	KindUnavailable
)

func (k Kind) Status() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error carries a Kind and a message that is safe to show to callers.
// Err is kept for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, Envelope{OK: true, Data: data})
}

func WriteError(w http.ResponseWriter, status int, message string) {
	write(w, status, Envelope{OK: false, Error: message})
}

// Write maps err to its status. Internal errors never expose their message.
func Write(w http.ResponseWriter, err error) {
	var e *Error
	if !stderrors.As(err, &e) || e.Kind == KindInternal {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteError(w, e.Kind.Status(), e.Message)
}

// WriteEnvelope is for responses that fail but still carry data, such as a
// degraded health check.
func WriteEnvelope(w http.ResponseWriter, status int, body Envelope) {
	write(w, status, body)
}

func write(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(body)
}
