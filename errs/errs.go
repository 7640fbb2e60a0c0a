// Package errs defines the closed error taxonomy shared by the transports
// and the communicator. Callers branch on Kind, never on message text.
package errs

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a failure.
type Kind int

const (
	// Transport is a connectivity, status or decoding failure. No state change.
	Transport Kind = iota
	// Unauthorized means the server rejected a missing, invalid or expired session.
	Unauthorized
	// Validation is a client-side precondition failure, raised before any network call.
	Validation
	// Provider is an identity provider failure during sign-in.
	Provider
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Unauthorized:
		return "unauthorized"
	case Validation:
		return "validation"
	case Provider:
		return "provider"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Code further distinguishes errors of the same Kind.
type Code string

const (
	CodeNone                 Code = ""
	CodeMissingUserAgent     Code = "missing_user_agent"
	CodeMissingAuthorization Code = "missing_authorization"
	CodeInvalidAuthorization Code = "invalid_authorization"
	CodeNotFound             Code = "not_found"
	CodeBadResponse          Code = "bad_response"
	CodeNotSignedIn          Code = "not_signed_in"
	CodeSignInInProgress     Code = "sign_in_in_progress"
	CodeAlreadySignedIn      Code = "already_signed_in"
	CodeInvalidHaiku         Code = "invalid_haiku"
)

// Error is the concrete error type returned by every operation in this module.
type Error struct {
	Kind   Kind
	Code   Code
	Status int    // HTTP status when the error came from a response, else 0
	Op     string // operation that failed, e.g. "fetchHaiku"
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	prefix := e.Kind.String()
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if e.Code != CodeNone {
		prefix += " [" + string(e.Code) + "]"
	}
	if e.Status != 0 {
		prefix += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if msg == "" {
		return prefix
	}
	return prefix + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// GRPCStatus lets status.FromError convert an Error when a host service
// returns it from a gRPC handler.
func (e *Error) GRPCStatus() *status.Status {
	var c codes.Code
	switch e.Kind {
	case Unauthorized:
		c = codes.Unauthenticated
	case Validation:
		c = codes.InvalidArgument
		if e.Code == CodeNotSignedIn {
			c = codes.Unauthenticated
		}
	case Provider:
		c = codes.PermissionDenied
	default:
		c = codes.Unavailable
		if e.Code == CodeNotFound {
			c = codes.NotFound
		}
	}
	return status.New(c, e.Error())
}

// New returns an Error of the given kind and code.
func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap classifies err under kind. An err that is already an *Error keeps its
// kind and code; only a missing Op is filled in.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			cp := *e
			cp.Op = op
			return &cp
		}
		return e
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are Transport errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transport
}

// CodeOf returns the code of err, or CodeNone.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeNone
}

// Is reports whether err is non-nil and of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromStatus builds the error for a non-2xx HTTP response. 401 and 403 are
// Unauthorized, 404 is a Transport error with CodeNotFound, anything else is
// a plain Transport error. serverMsg is the server's own error text, if any.
func FromStatus(op string, statusCode int, code Code, serverMsg string) *Error {
	e := &Error{Kind: Transport, Code: code, Status: statusCode, Op: op, Msg: serverMsg}
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = Unauthorized
	case http.StatusNotFound:
		if e.Code == CodeNone {
			e.Code = CodeNotFound
		}
	}
	if e.Msg == "" {
		e.Msg = http.StatusText(statusCode)
	}
	return e
}
