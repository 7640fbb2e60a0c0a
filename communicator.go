package haikuplus

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/panyam/haikuplus/errs"
	"github.com/panyam/haikuplus/identity"
	"github.com/panyam/haikuplus/model"
	"github.com/panyam/haikuplus/transport"
)

// Errors returned by SignIn.
var (
	ErrSignInInProgress = errs.New(errs.Validation, errs.CodeSignInInProgress, "a sign-in is already in progress")
	ErrAlreadySignedIn  = errs.New(errs.Validation, errs.CodeAlreadySignedIn, "already signed in")
)

// Communicator owns the session with a Haiku+ server and performs the API
// calls on the caller's behalf.
//
// Every operation returns immediately. Its completion is called exactly
// once, on the dispatcher, with either a result or an error. Session state
// is updated before the completion runs, so a completion always observes the
// state its own call produced.
type Communicator struct {
	cfg        Config
	transport  transport.Transport
	provider   identity.Provider
	listener   Listener
	dispatcher Dispatcher
	ownQueue   *SerialQueue
	logger     *slog.Logger

	mu            sync.Mutex
	state         State
	attempt       uint64 // bumped whenever a session starts or ends
	user          *model.User
	credential    string
	sessionID     string
	externalID    string
	displayImage  image.Image
	fetchingImage bool
}

// Option configures a Communicator.
type Option func(*Communicator)

// WithListener sets the listener for session changes.
func WithListener(l Listener) Option {
	return func(c *Communicator) {
		if l != nil {
			c.listener = l
		}
	}
}

// WithDispatcher sets where completions and notifications run. Defaults to
// a SerialQueue owned by the Communicator.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Communicator) {
		if d != nil {
			c.dispatcher = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Communicator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a signed-out Communicator talking to the server through t and
// signing users in with p.
func New(cfg Config, t transport.Transport, p identity.Provider, opts ...Option) *Communicator {
	c := &Communicator{
		cfg:       *cfg.EnsureDefaults(),
		transport: t,
		provider:  p,
		listener:  nopListener{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dispatcher == nil {
		c.ownQueue = NewSerialQueue()
		c.dispatcher = c.ownQueue
	}
	return c
}

// Close stops the default dispatcher after it drains. Completions of calls
// still in flight are dropped.
func (c *Communicator) Close() {
	if c.ownQueue != nil {
		c.ownQueue.Close()
	}
}

// Config returns the effective configuration.
func (c *Communicator) Config() Config {
	return c.cfg
}

// State returns the current session state.
func (c *Communicator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsSignedInWithServer reports whether the server accepted the session.
func (c *Communicator) IsSignedInWithServer() bool {
	return c.State() == SignedIn
}

// CurrentUser returns the signed-in user, or nil when not signed in.
func (c *Communicator) CurrentUser() *model.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Credential returns the bearer credential attached to requests, or "".
func (c *Communicator) Credential() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential
}

// SessionID returns the server session cookie value, or "".
func (c *Communicator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// DisplayImage returns the signed-in user's avatar once fetched.
func (c *Communicator) DisplayImage() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayImage
}

// HandleDeepLink forwards link to the identity provider if it takes deep
// links, and reports whether the provider consumed it.
func (c *Communicator) HandleDeepLink(link string) bool {
	if h, ok := c.provider.(identity.DeepLinkHandler); ok {
		return h.HandleDeepLink(link)
	}
	return false
}

// SignIn starts signing the user in: first with the identity provider, then
// with the server. The outcome is reported to the listener. SignIn itself
// only fails when a sign-in is already running or done.
func (c *Communicator) SignIn(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case SigningIn:
		c.mu.Unlock()
		return ErrSignInInProgress
	case SignedIn:
		c.mu.Unlock()
		return ErrAlreadySignedIn
	}
	c.state = SigningIn
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	c.logger.Info("signing in")
	ctx = context.WithoutCancel(ctx)
	go func() {
		if c.provider == nil {
			c.dispatcher.Dispatch(func() {
				c.failSignIn(attempt, errs.New(errs.Provider, errs.CodeNone, "no identity provider"))
			})
			return
		}
		cred, err := c.provider.SignIn(ctx)
		if err == nil && (cred == nil || cred.AccessToken == "") {
			err = fmt.Errorf("provider returned no credential")
		}
		c.dispatcher.Dispatch(func() {
			if err != nil {
				c.failSignIn(attempt, providerError(err))
				return
			}
			c.exchangeCredential(ctx, attempt, cred)
		})
	}()
	return nil
}

func providerError(err error) error {
	if errs.Is(err, errs.Provider) {
		return errs.Wrap(errs.Provider, "signIn", err)
	}
	return &errs.Error{Kind: errs.Provider, Op: "signIn", Err: err}
}

// exchangeCredential trades the provider credential for a server session.
func (c *Communicator) exchangeCredential(ctx context.Context, attempt uint64, cred *identity.Credential) {
	c.mu.Lock()
	if c.attempt != attempt || c.state != SigningIn {
		c.mu.Unlock()
		return
	}
	c.credential = cred.AccessToken
	c.externalID = cred.UserID
	c.sessionID = ""
	c.mu.Unlock()

	req := c.newRequest(transport.OpFetchCurrentUser, http.MethodGet, c.cfg.Paths.CurrentUser)
	c.perform(ctx, req, func(resp *transport.Response, err error) {
		if err != nil {
			c.failSignIn(attempt, err)
			return
		}
		rec, ok := model.RecordFrom(resp.Body)
		if !ok {
			c.failSignIn(attempt, badResponse(transport.OpFetchCurrentUser))
			return
		}
		user := model.UserFromRecord(rec)

		c.mu.Lock()
		if c.attempt != attempt || c.state != SigningIn {
			c.mu.Unlock()
			return
		}
		c.state = SignedIn
		c.user = user
		if resp.SessionID != "" {
			c.sessionID = resp.SessionID
		}
		c.mu.Unlock()

		c.logger.Info("signed in", "user", user.Identifier, "externalID", cred.UserID)
		c.listener.SignInStateChanged(nil)
		c.fetchDisplayImage(ctx)
	})
}

func (c *Communicator) failSignIn(attempt uint64, err error) {
	c.mu.Lock()
	if c.attempt != attempt || c.state != SigningIn {
		c.mu.Unlock()
		return
	}
	c.clearSessionLocked()
	c.mu.Unlock()

	c.logger.Warn("sign-in failed", "err", err)
	c.listener.SignInStateChanged(err)
}

// clearSessionLocked drops all session state. c.mu must be held.
func (c *Communicator) clearSessionLocked() {
	c.state = SignedOut
	c.attempt++
	c.user = nil
	c.credential = ""
	c.sessionID = ""
	c.externalID = ""
	c.displayImage = nil
}

// fetchDisplayImage fetches the signed-in user's avatar unless a fetch is
// already outstanding.
func (c *Communicator) fetchDisplayImage(ctx context.Context) {
	c.mu.Lock()
	if c.fetchingImage || c.state != SignedIn || c.user == nil || c.user.PhotoURL == "" {
		c.mu.Unlock()
		return
	}
	c.fetchingImage = true
	photoURL := c.user.PhotoURL
	c.mu.Unlock()

	go func() {
		img, err := c.transport.FetchImage(ctx, photoURL)
		c.dispatcher.Dispatch(func() {
			c.mu.Lock()
			c.fetchingImage = false
			current := c.state == SignedIn && c.user != nil && c.user.PhotoURL == photoURL
			stillWanted := c.state == SignedIn && c.user != nil && c.user.PhotoURL != ""
			if current && err == nil {
				c.displayImage = img
			}
			c.mu.Unlock()

			switch {
			case current:
				if err != nil {
					c.logger.Warn("display image fetch failed", "url", photoURL, "err", err)
				}
				c.listener.DisplayImageReady(err)
			case stillWanted:
				// A different user signed in while this fetch was out.
				c.fetchDisplayImage(ctx)
			}
		})
	}()
}

// newRequest builds a request carrying the user agent and whatever session
// is held.
func (c *Communicator) newRequest(op, method, path string) *transport.Request {
	req := transport.NewRequest(op, method, path)
	req.Header.Set(transport.HeaderUserAgent, c.cfg.UserAgent)

	c.mu.Lock()
	credential, sessionID := c.credential, c.sessionID
	c.mu.Unlock()
	req.SetCredential(credential)
	req.SetSessionID(c.cfg.SessionCookieName, sessionID)
	return req
}

// perform runs req on its own goroutine and calls done on the dispatcher.
// An Unauthorized result for the current session signs the user out first.
func (c *Communicator) perform(ctx context.Context, req *transport.Request, done func(*transport.Response, error)) {
	ctx = context.WithoutCancel(ctx)
	sent := req.Credential()
	c.logger.Debug("haikuplus request", "op", req.Op, "method", req.Method, "path", req.Path)
	go func() {
		resp, err := c.transport.Perform(ctx, req)
		if err == nil && resp == nil {
			resp = &transport.Response{}
		}
		if err != nil {
			err = errs.Wrap(errs.Transport, req.Op, err)
		}
		c.dispatcher.Dispatch(func() {
			if err != nil {
				c.expireSession(sent, err)
			}
			done(resp, err)
		})
	}()
}

// expireSession signs out when err says the server no longer accepts the
// credential the failed request was sent with.
func (c *Communicator) expireSession(sent string, err error) {
	if !errs.Is(err, errs.Unauthorized) {
		return
	}
	c.mu.Lock()
	if c.state != SignedIn || c.credential != sent {
		c.mu.Unlock()
		return
	}
	c.clearSessionLocked()
	c.mu.Unlock()

	c.logger.Info("session rejected by server, signed out", "err", err)
	c.listener.SignInStateChanged(err)
}

// fail delivers err to a completion without touching the network.
func (c *Communicator) fail(done func(error), err error) {
	c.dispatcher.Dispatch(func() { done(err) })
}

func notSignedIn(op string) error {
	return &errs.Error{Kind: errs.Validation, Code: errs.CodeNotSignedIn, Op: op, Msg: "not signed in"}
}

func badResponse(op string) error {
	return &errs.Error{Kind: errs.Transport, Code: errs.CodeBadResponse, Op: op, Msg: "unexpected response body"}
}

func haikuFromResponse(op string, resp *transport.Response) (*model.Haiku, error) {
	rec, ok := model.RecordFrom(resp.Body)
	if !ok {
		return nil, badResponse(op)
	}
	return model.HaikuFromRecord(rec), nil
}

// FetchHaikus lists haikus, or only those by people the user follows when
// friends is set. Filtering by friends needs a signed-in user.
func (c *Communicator) FetchHaikus(ctx context.Context, friends bool, done func([]*model.Haiku, error)) {
	const op = transport.OpFetchHaikus
	if friends && !c.IsSignedInWithServer() {
		c.fail(func(err error) { done(nil, err) }, notSignedIn(op))
		return
	}

	req := c.newRequest(op, http.MethodGet, c.cfg.Paths.Haikus)
	filter := "0"
	if friends {
		filter = "1"
	}
	req.Query = url.Values{"friends": {filter}}

	c.perform(ctx, req, func(resp *transport.Response, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		records, ok := model.RecordsFrom(resp.Body)
		if !ok {
			done(nil, badResponse(op))
			return
		}
		done(model.HaikusFromRecords(records), nil)
	})
}

// FetchHaiku fetches one haiku.
func (c *Communicator) FetchHaiku(ctx context.Context, id string, done func(*model.Haiku, error)) {
	const op = transport.OpFetchHaiku
	req := c.newRequest(op, http.MethodGet, fmt.Sprintf(c.cfg.Paths.Haiku, url.PathEscape(id)))
	c.perform(ctx, req, func(resp *transport.Response, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		done(haikuFromResponse(op, resp))
	})
}

// VoteForHaiku votes for a haiku as the signed-in user.
func (c *Communicator) VoteForHaiku(ctx context.Context, id string, done func(error)) {
	const op = transport.OpVoteForHaiku
	if !c.IsSignedInWithServer() {
		c.fail(done, notSignedIn(op))
		return
	}
	req := c.newRequest(op, http.MethodPost, fmt.Sprintf(c.cfg.Paths.Vote, url.PathEscape(id)))
	c.perform(ctx, req, func(_ *transport.Response, err error) {
		done(err)
	})
}

// CreateHaiku submits h as the signed-in user. The completion gets the
// haiku as stored by the server.
func (c *Communicator) CreateHaiku(ctx context.Context, h *model.Haiku, done func(*model.Haiku, error)) {
	const op = transport.OpCreateHaiku
	fail := func(err error) { done(nil, err) }
	if !c.IsSignedInWithServer() {
		c.fail(fail, notSignedIn(op))
		return
	}
	if err := h.Validate(); err != nil {
		c.fail(fail, errs.Wrap(errs.Validation, op, err))
		return
	}

	req := c.newRequest(op, http.MethodPost, c.cfg.Paths.Haikus)
	req.Body = h.Record()
	c.perform(ctx, req, func(resp *transport.Response, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		done(haikuFromResponse(op, resp))
	})
}

// SignOut ends the server session. On success the local session is cleared
// whatever state it was in; on failure it is left alone.
func (c *Communicator) SignOut(ctx context.Context, done func(error)) {
	req := c.newRequest(transport.OpSignOut, http.MethodPost, c.cfg.Paths.SignOut)
	c.perform(ctx, req, func(_ *transport.Response, err error) {
		if err == nil {
			c.endSession(ctx, false)
		}
		done(err)
	})
}

// Disconnect ends the session and asks the server to forget the user's
// grant. State changes as for SignOut.
func (c *Communicator) Disconnect(ctx context.Context, done func(error)) {
	req := c.newRequest(transport.OpDisconnect, http.MethodPost, c.cfg.Paths.Disconnect)
	c.perform(ctx, req, func(_ *transport.Response, err error) {
		if err == nil {
			c.endSession(ctx, true)
		}
		done(err)
	})
}

// endSession clears the local session after the server ended it and tells
// the provider.
func (c *Communicator) endSession(ctx context.Context, disconnect bool) {
	c.mu.Lock()
	changed := c.state != SignedOut
	c.clearSessionLocked()
	c.mu.Unlock()

	if disconnect {
		if d, ok := c.provider.(identity.Disconnecter); ok {
			ctx = context.WithoutCancel(ctx)
			go func() {
				if err := d.Disconnect(ctx); err != nil {
					c.logger.Warn("provider disconnect failed", "err", err)
				}
			}()
		}
	} else if s, ok := c.provider.(identity.SignOuter); ok {
		s.SignOut()
	}

	if changed {
		c.logger.Info("signed out", "disconnect", disconnect)
		c.listener.SignInStateChanged(nil)
	}
}

// FetchImage downloads an image. It does not need or affect the session.
func (c *Communicator) FetchImage(ctx context.Context, rawURL string, done func(image.Image, error)) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		img, err := c.transport.FetchImage(ctx, rawURL)
		if err != nil {
			img, err = nil, errs.Wrap(errs.Transport, transport.OpFetchImage, err)
		}
		c.dispatcher.Dispatch(func() { done(img, err) })
	}()
}
