// Package transport abstracts the network calls made against a Haiku+ server.
//
// A Transport performs one HTTP-style call and returns either a parsed body
// or a classified error (see package errs), never both. Three
// implementations exist: HTTP talks to a real server, simulated.Transport
// serves fixtures in memory and fake.Transport returns whatever a test
// scripted.
package transport

import (
	"context"
	"image"
	"net/http"
	"net/url"
	"strings"
)

// Header names attached by the communicator.
const (
	HeaderUserAgent     = "User-Agent"
	HeaderAuthorization = "Authorization"
	HeaderCookie        = "Cookie"

	// DefaultSessionCookieName is the cookie the Haiku+ server keeps its
	// session id in.
	DefaultSessionCookieName = "HaikuSessionId"

	bearerPrefix = "Bearer "
)

// Operation names carried in Request.Op.
const (
	OpFetchCurrentUser = "fetchCurrentUser"
	OpSignOut          = "signOut"
	OpDisconnect       = "disconnect"
	OpFetchHaikus      = "fetchHaikus"
	OpFetchHaiku       = "fetchHaiku"
	OpVoteForHaiku     = "voteForHaiku"
	OpCreateHaiku      = "createHaiku"
	OpFetchImage       = "fetchImage"
)

// Transport performs calls against a Haiku+ server.
type Transport interface {
	// Perform issues req. Exactly one of the results is non-nil.
	Perform(ctx context.Context, req *Request) (*Response, error)

	// FetchImage downloads and decodes the image at rawURL.
	FetchImage(ctx context.Context, rawURL string) (image.Image, error)
}

// Request describes one API call.
type Request struct {
	Op     string // logical operation name, used for errors, logs and metrics
	Method string
	Path   string
	Query  url.Values
	Body   any // JSON encoded when non-nil
	Header http.Header
}

// Response is a successful call's outcome.
type Response struct {
	// Body is the decoded JSON body: map[string]any, []any, or nil when the
	// server sent nothing.
	Body any

	// SessionID is the session cookie value set by this response, if any.
	SessionID string
}

// NewRequest returns a request with an empty header set.
func NewRequest(op, method, path string) *Request {
	return &Request{Op: op, Method: method, Path: path, Header: make(http.Header)}
}

// SetCredential attaches token as a bearer Authorization header.
func (r *Request) SetCredential(token string) {
	if token == "" {
		r.Header.Del(HeaderAuthorization)
		return
	}
	r.Header.Set(HeaderAuthorization, bearerPrefix+token)
}

// Credential returns the bearer token attached to r, or "".
func (r *Request) Credential() string {
	return BearerToken(r.Header)
}

// SetSessionID attaches the session cookie.
func (r *Request) SetSessionID(cookieName, id string) {
	if id == "" {
		return
	}
	c := &http.Cookie{Name: cookieName, Value: id}
	r.Header.Add(HeaderCookie, c.String())
}

// SessionID returns the value of the named session cookie on r, or "".
func (r *Request) SessionID(cookieName string) string {
	return CookieValue(r.Header, cookieName)
}

// BearerToken extracts the bearer token from an Authorization header.
func BearerToken(h http.Header) string {
	v := h.Get(HeaderAuthorization)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// CookieValue returns the named cookie from the Cookie headers in h.
func CookieValue(h http.Header, name string) string {
	req := http.Request{Header: h}
	c, err := req.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
