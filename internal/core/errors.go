package core

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an Error for the orchestrator's outcome mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindAuth
	KindTransport
	KindTimeout
	KindParse
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindParse:
		return "parse"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error carries the operation, classification and retry hints of a failure.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error

	// Status is the HTTP status that produced the error, if any.
	Status int
	// Retryable marks transport errors worth another attempt.
	Retryable bool
	// RetryAfter is an explicit wait hint sent by the source.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ConfigError is fatal and aborts the run before any module starts.
func ConfigError(op, msg string, err error) error {
	return &Error{Kind: KindConfig, Op: op, Msg: msg, Err: err}
}

// AuthError marks a rejected or missing credential.
func AuthError(op, msg string, status int) error {
	return &Error{Kind: KindAuth, Op: op, Msg: msg, Status: status}
}

// TransportError wraps network and HTTP failures.
func TransportError(op, msg string, status int, retryable bool, err error) error {
	return &Error{Kind: KindTransport, Op: op, Msg: msg, Status: status, Retryable: retryable, Err: err}
}

// RateLimitedError is a retryable transport error carrying the source's wait hint.
func RateLimitedError(op string, status int, retryAfter time.Duration) error {
	return &Error{Kind: KindTransport, Op: op, Msg: "rate limited", Status: status, Retryable: true, RetryAfter: retryAfter}
}

func TimeoutError(op string, err error) error {
	return &Error{Kind: KindTimeout, Op: op, Msg: "time budget exhausted", Err: err}
}

func ParseError(op, msg string, err error) error {
	return &Error{Kind: KindParse, Op: op, Msg: msg, Err: err}
}

func PersistenceError(op string, err error) error {
	return &Error{Kind: KindPersistence, Op: op, Msg: "report not persisted", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err's chain carries an *Error of the given kind.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsRetryable reports whether err is a transient transport failure.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindTransport && e.Retryable
	}
	return false
}

// StatusOf returns the HTTP status recorded in err's chain, or zero.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// RetryAfter extracts the source's explicit wait hint, or zero.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
