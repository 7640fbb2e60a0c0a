// Package fake provides a scripted Transport for tests.
//
// A test loads the payload or error each call category should produce, runs
// the code under test and then inspects what the fake was sent:
//
//	tr := fake.New()
//	tr.UserRecord = user.Record()
//	tr.ExpectCredential("tok-1")
//	... sign in ...
//	if !tr.DidSetCredential() { ... }
package fake

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/panyam/haikuplus/errs"
	"github.com/panyam/haikuplus/model"
	"github.com/panyam/haikuplus/transport"
)

// ErrScripted is wrapped in a Transport error by calls whose category was
// scripted to fail.
var ErrScripted = errors.New("fake: scripted failure")

// Transport answers every call from its scripted fields. Set them before
// issuing the calls they affect; the recorded fields are safe to read at any
// time.
type Transport struct {
	// UserRecord answers the current user call.
	UserRecord model.Record

	// HaikuRecords answers list calls.
	HaikuRecords []model.Record

	// HaikuRecord answers single haiku fetches, and creates when set.
	// Creates otherwise echo the submitted record with CreatedID as its id.
	HaikuRecord model.Record
	CreatedID   string

	// SessionID is handed out as the session cookie by the current user call.
	SessionID string

	// Err, when set, is returned by every call instead of a payload.
	Err error

	// Per-category outcome flags. A false flag fails the call with
	// ErrScripted.
	SignOutSucceeds    bool
	DisconnectSucceeds bool
	VoteSucceeds       bool
	CreateSucceeds     bool

	Image    image.Image
	ImageErr error

	mu                 sync.Mutex
	calls              []string
	lastRequest        *transport.Request
	lastCredential     string
	lastUserAgent      string
	lastSessionID      string
	expectedCredential string
	imageURLs          []string
}

// New returns a fake where every call category succeeds with empty payloads.
func New() *Transport {
	return &Transport{
		SignOutSucceeds:    true,
		DisconnectSucceeds: true,
		VoteSucceeds:       true,
		CreateSucceeds:     true,
		CreatedID:          "created",
	}
}

// Perform implements transport.Transport.
func (t *Transport) Perform(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls = append(t.calls, req.Op)
	t.lastRequest = req
	t.lastCredential = req.Credential()
	t.lastUserAgent = req.Header.Get(transport.HeaderUserAgent)
	t.lastSessionID = req.SessionID(transport.DefaultSessionCookieName)

	if t.Err != nil {
		return nil, t.Err
	}

	switch req.Op {
	case transport.OpFetchCurrentUser:
		return &transport.Response{Body: asJSON(t.UserRecord), SessionID: t.SessionID}, nil
	case transport.OpFetchHaikus:
		list := make([]any, len(t.HaikuRecords))
		for i, r := range t.HaikuRecords {
			list[i] = asJSON(r)
		}
		return &transport.Response{Body: list}, nil
	case transport.OpFetchHaiku:
		return &transport.Response{Body: asJSON(t.HaikuRecord)}, nil
	case transport.OpVoteForHaiku:
		return t.outcome(req.Op, t.VoteSucceeds, asJSON(t.HaikuRecord))
	case transport.OpSignOut:
		return t.outcome(req.Op, t.SignOutSucceeds, map[string]any{})
	case transport.OpDisconnect:
		return t.outcome(req.Op, t.DisconnectSucceeds, map[string]any{})
	case transport.OpCreateHaiku:
		body := asJSON(t.HaikuRecord)
		if t.HaikuRecord == nil {
			body = map[string]any{}
			if submitted, ok := model.RecordFrom(req.Body); ok {
				for k, v := range submitted {
					body[k] = v
				}
			}
			body[model.IdentifierKey] = t.CreatedID
		}
		return t.outcome(req.Op, t.CreateSucceeds, body)
	}
	return &transport.Response{}, nil
}

func (t *Transport) outcome(op string, succeeds bool, body any) (*transport.Response, error) {
	if !succeeds {
		return nil, errs.Wrap(errs.Transport, op, ErrScripted)
	}
	return &transport.Response{Body: body}, nil
}

// asJSON returns r in the shape a JSON decoder would produce.
func asJSON(r model.Record) map[string]any {
	if r == nil {
		return map[string]any{}
	}
	return map[string]any(r)
}

// FetchImage implements transport.Transport.
func (t *Transport) FetchImage(ctx context.Context, rawURL string) (image.Image, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.imageURLs = append(t.imageURLs, rawURL)
	if t.ImageErr != nil {
		return nil, t.ImageErr
	}
	if t.Image == nil {
		return nil, errs.Wrap(errs.Transport, transport.OpFetchImage, ErrScripted)
	}
	return t.Image, nil
}

// Calls returns the ops performed so far, in order.
func (t *Transport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// ImageURLs returns the URLs passed to FetchImage so far.
func (t *Transport) ImageURLs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.imageURLs...)
}

// LastRequest returns the most recent request, or nil.
func (t *Transport) LastRequest() *transport.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRequest
}

// LastCredential returns the bearer credential of the most recent request.
func (t *Transport) LastCredential() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastCredential
}

// LastUserAgent returns the user agent of the most recent request.
func (t *Transport) LastUserAgent() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUserAgent
}

// LastSessionID returns the session cookie of the most recent request.
func (t *Transport) LastSessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSessionID
}

// DidSetUserAgent reports whether the most recent request carried ua.
func (t *Transport) DidSetUserAgent(ua string) bool {
	return t.LastUserAgent() == ua
}

// ExpectCredential sets the credential DidSetCredential checks for.
func (t *Transport) ExpectCredential(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expectedCredential = token
}

// DidSetCredential reports whether the most recent request carried the
// expected credential.
func (t *Transport) DidSetCredential() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expectedCredential != "" && t.lastCredential == t.expectedCredential
}

var _ transport.Transport = (*Transport)(nil)
