package haikuplus_test

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panyam/haikuplus"
	"github.com/panyam/haikuplus/errs"
	"github.com/panyam/haikuplus/identity"
	"github.com/panyam/haikuplus/model"
	"github.com/panyam/haikuplus/transport"
	"github.com/panyam/haikuplus/transport/fake"
)

const waitTimeout = 2 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for completion")
	}
	var zero T
	return zero
}

func expectNone[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Errorf("unexpected %s: %v", what, v)
	case <-time.After(50 * time.Millisecond):
	}
}

// recordingListener forwards notifications to channels.
type recordingListener struct {
	states chan error
	images chan error
}

func newRecordingListener() *recordingListener {
	return &recordingListener{states: make(chan error, 16), images: make(chan error, 16)}
}

func (l *recordingListener) SignInStateChanged(err error) { l.states <- err }
func (l *recordingListener) DisplayImageReady(err error)  { l.images <- err }

// stubProvider is an identity provider with a scripted outcome.
type stubProvider struct {
	cred    *identity.Credential
	err     error
	release chan struct{} // when set, SignIn waits for it

	signIns     int32
	signOuts    int32
	disconnects int32

	mu    sync.Mutex
	links []string
}

func (p *stubProvider) SignIn(ctx context.Context) (*identity.Credential, error) {
	atomic.AddInt32(&p.signIns, 1)
	if p.release != nil {
		<-p.release
	}
	return p.cred, p.err
}

func (p *stubProvider) SignOut() { atomic.AddInt32(&p.signOuts, 1) }

func (p *stubProvider) Disconnect(ctx context.Context) error {
	atomic.AddInt32(&p.disconnects, 1)
	return nil
}

func (p *stubProvider) HandleDeepLink(link string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links = append(p.links, link)
	return true
}

var testUser = &model.User{
	Object:      model.Object{Identifier: "u1"},
	ExternalID:  "g-1",
	DisplayName: "Matsuo Basho",
	PhotoURL:    "https://images.example.com/u1.png",
}

func haikuRecord(id, title string) model.Record {
	return (&model.Haiku{
		Object:    model.Object{Identifier: id},
		Title:     title,
		LineOne:   "one",
		LineTwo:   "two",
		LineThree: "three",
	}).Record()
}

type harness struct {
	comm     *haikuplus.Communicator
	tr       *fake.Transport
	provider *stubProvider
	listener *recordingListener
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tr := fake.New()
	tr.UserRecord = testUser.Record()
	tr.SessionID = "sess-1"
	tr.Image = image.NewGray(image.Rect(0, 0, 2, 2))
	p := &stubProvider{cred: &identity.Credential{AccessToken: "tok-1", UserID: "g-1"}}
	l := newRecordingListener()
	comm := haikuplus.New(haikuplus.Config{}, tr, p, haikuplus.WithListener(l), haikuplus.WithLogger(quietLogger()))
	t.Cleanup(comm.Close)
	return &harness{comm: comm, tr: tr, provider: p, listener: l}
}

func (h *harness) signIn(t *testing.T) {
	t.Helper()
	if err := h.comm.SignIn(context.Background()); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if err := wait(t, h.listener.states); err != nil {
		t.Fatalf("sign-in notification error = %v", err)
	}
	if err := wait(t, h.listener.images); err != nil {
		t.Fatalf("display image error = %v", err)
	}
	checkSessionInvariant(t, h.comm)
}

func checkSessionInvariant(t *testing.T, c *haikuplus.Communicator) {
	t.Helper()
	if (c.CurrentUser() != nil) != c.IsSignedInWithServer() {
		t.Errorf("CurrentUser() = %v but IsSignedInWithServer() = %v", c.CurrentUser(), c.IsSignedInWithServer())
	}
}

func TestSignIn_Success(t *testing.T) {
	h := newHarness(t)
	h.tr.ExpectCredential("tok-1")
	h.signIn(t)

	if h.comm.State() != haikuplus.SignedIn {
		t.Errorf("State() = %v, want signed-in", h.comm.State())
	}
	if u := h.comm.CurrentUser(); u == nil || u.Identifier != "u1" || u.DisplayName != "Matsuo Basho" {
		t.Errorf("CurrentUser() = %+v", u)
	}
	if h.comm.Credential() != "tok-1" {
		t.Errorf("Credential() = %q, want tok-1", h.comm.Credential())
	}
	if h.comm.SessionID() != "sess-1" {
		t.Errorf("SessionID() = %q, want sess-1", h.comm.SessionID())
	}
	if !h.tr.DidSetCredential() {
		t.Errorf("server exchange sent credential %q", h.tr.LastCredential())
	}
	if h.comm.DisplayImage() == nil {
		t.Error("DisplayImage() should be set after sign-in")
	}
	if urls := h.tr.ImageURLs(); len(urls) != 1 || urls[0] != testUser.PhotoURL {
		t.Errorf("ImageURLs() = %v", urls)
	}
}

func TestSignIn_ProviderFailure(t *testing.T) {
	h := newHarness(t)
	h.provider.err = errors.New("user cancelled")
	h.provider.cred = nil

	if err := h.comm.SignIn(context.Background()); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	err := wait(t, h.listener.states)
	if !errs.Is(err, errs.Provider) {
		t.Errorf("notification = %v, want a provider error", err)
	}
	if h.comm.State() != haikuplus.SignedOut {
		t.Errorf("State() = %v, want signed-out", h.comm.State())
	}
	if calls := h.tr.Calls(); len(calls) != 0 {
		t.Errorf("transport calls = %v, want none", calls)
	}
	checkSessionInvariant(t, h.comm)
}

func TestSignIn_ServerFailure(t *testing.T) {
	h := newHarness(t)
	h.tr.Err = errs.FromStatus(transport.OpFetchCurrentUser, 500, errs.CodeNone, "")

	h.comm.SignIn(context.Background())
	err := wait(t, h.listener.states)
	if !errs.Is(err, errs.Transport) {
		t.Errorf("notification = %v, want a transport error", err)
	}
	if h.comm.IsSignedInWithServer() || h.comm.Credential() != "" {
		t.Errorf("session should be cleared, credential = %q", h.comm.Credential())
	}
	checkSessionInvariant(t, h.comm)
}

func TestSignIn_OneAtATime(t *testing.T) {
	h := newHarness(t)
	h.provider.release = make(chan struct{})

	if err := h.comm.SignIn(context.Background()); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if h.comm.State() != haikuplus.SigningIn {
		t.Errorf("State() = %v, want signing-in", h.comm.State())
	}
	checkSessionInvariant(t, h.comm)

	err := h.comm.SignIn(context.Background())
	if !errors.Is(err, haikuplus.ErrSignInInProgress) || !errs.Is(err, errs.Validation) {
		t.Errorf("second SignIn() = %v, want ErrSignInInProgress", err)
	}

	close(h.provider.release)
	if err := wait(t, h.listener.states); err != nil {
		t.Fatalf("sign-in notification error = %v", err)
	}
	if err := h.comm.SignIn(context.Background()); !errors.Is(err, haikuplus.ErrAlreadySignedIn) {
		t.Errorf("SignIn() while signed in = %v, want ErrAlreadySignedIn", err)
	}
	if n := atomic.LoadInt32(&h.provider.signIns); n != 1 {
		t.Errorf("provider sign-ins = %d, want 1", n)
	}
}

func TestSignIn_ImageFailureKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.tr.ImageErr = errs.FromStatus(transport.OpFetchImage, 404, errs.CodeNone, "")

	h.comm.SignIn(context.Background())
	if err := wait(t, h.listener.states); err != nil {
		t.Fatalf("sign-in notification error = %v", err)
	}
	if err := wait(t, h.listener.images); errs.CodeOf(err) != errs.CodeNotFound {
		t.Errorf("image notification = %v, want not_found", err)
	}
	if !h.comm.IsSignedInWithServer() {
		t.Error("image failure must not sign the user out")
	}
	if h.comm.DisplayImage() != nil {
		t.Error("DisplayImage() should stay nil")
	}
	expectNone(t, h.listener.states, "state notification")
}

func TestFetchHaikus_FriendsRequiresSignIn(t *testing.T) {
	h := newHarness(t)

	done := make(chan error, 1)
	h.comm.FetchHaikus(context.Background(), true, func(haikus []*model.Haiku, err error) {
		if haikus != nil {
			t.Errorf("haikus = %v alongside an error", haikus)
		}
		done <- err
	})
	err := wait(t, done)
	if !errs.Is(err, errs.Validation) || errs.CodeOf(err) != errs.CodeNotSignedIn {
		t.Errorf("err = %v, want not_signed_in validation error", err)
	}
	if calls := h.tr.Calls(); len(calls) != 0 {
		t.Errorf("transport calls = %v, want none", calls)
	}
}

func TestFetchHaikus(t *testing.T) {
	h := newHarness(t)
	h.tr.HaikuRecords = []model.Record{haikuRecord("a", "A"), haikuRecord("b", "B"), haikuRecord("c", "C")}

	type result struct {
		haikus []*model.Haiku
		err    error
	}
	done := make(chan result, 1)
	h.comm.FetchHaikus(context.Background(), false, func(haikus []*model.Haiku, err error) {
		done <- result{haikus, err}
	})
	r := wait(t, done)
	if r.err != nil {
		t.Fatalf("FetchHaikus() error = %v", r.err)
	}
	if len(r.haikus) != 3 {
		t.Fatalf("got %d haikus, want 3", len(r.haikus))
	}
	for i, want := range []string{"a", "b", "c"} {
		if r.haikus[i].Identifier != want {
			t.Errorf("haikus[%d] = %q, want %q", i, r.haikus[i].Identifier, want)
		}
	}
	req := h.tr.LastRequest()
	if req.Path != "/api/haikus" || req.Query.Get("friends") != "0" {
		t.Errorf("request = %s?%s", req.Path, req.Query.Encode())
	}
	if !h.tr.DidSetUserAgent(haikuplus.DefaultUserAgent) {
		t.Errorf("user agent = %q", h.tr.LastUserAgent())
	}

	h.signIn(t)
	h.comm.FetchHaikus(context.Background(), true, func(haikus []*model.Haiku, err error) {
		done <- result{haikus, err}
	})
	if r := wait(t, done); r.err != nil {
		t.Fatalf("FetchHaikus(friends) error = %v", r.err)
	}
	if h.tr.LastRequest().Query.Get("friends") != "1" {
		t.Errorf("friends query = %q, want 1", h.tr.LastRequest().Query.Get("friends"))
	}
}

func TestFetchHaiku_UnauthorizedForcesSignOut(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	h.tr.Err = errs.FromStatus(transport.OpFetchHaiku, 401, errs.CodeInvalidAuthorization, "session expired")
	done := make(chan error, 1)
	h.comm.FetchHaiku(context.Background(), "h1", func(haiku *model.Haiku, err error) {
		// The session is already gone when the completion runs.
		if h.comm.IsSignedInWithServer() {
			t.Error("completion observed a signed-in session")
		}
		checkSessionInvariant(t, h.comm)
		done <- err
	})
	err := wait(t, done)
	if !errs.Is(err, errs.Unauthorized) {
		t.Errorf("FetchHaiku() error = %v, want unauthorized", err)
	}
	notified := wait(t, h.listener.states)
	if !errs.Is(notified, errs.Unauthorized) || errs.CodeOf(notified) != errs.CodeInvalidAuthorization {
		t.Errorf("notification = %v, want the unauthorized error", notified)
	}
	if h.comm.IsSignedInWithServer() || h.comm.CurrentUser() != nil || h.comm.Credential() != "" {
		t.Error("session should be cleared")
	}
}

func TestFetchHaiku_UnauthorizedWhileSignedOut(t *testing.T) {
	h := newHarness(t)
	h.tr.Err = errs.FromStatus(transport.OpFetchHaiku, 401, errs.CodeMissingAuthorization, "")

	done := make(chan error, 1)
	h.comm.FetchHaiku(context.Background(), "h1", func(_ *model.Haiku, err error) { done <- err })
	if err := wait(t, done); !errs.Is(err, errs.Unauthorized) {
		t.Errorf("err = %v", err)
	}
	expectNone(t, h.listener.states, "state notification")
}

func TestFetchHaiku(t *testing.T) {
	h := newHarness(t)
	h.tr.HaikuRecord = haikuRecord("h 1", "Spring")

	done := make(chan *model.Haiku, 1)
	h.comm.FetchHaiku(context.Background(), "h 1", func(haiku *model.Haiku, err error) {
		if err != nil {
			t.Errorf("FetchHaiku() error = %v", err)
		}
		done <- haiku
	})
	if got := wait(t, done); got == nil || got.Title != "Spring" || got.Identifier != "h 1" {
		t.Errorf("haiku = %+v", got)
	}
	if path := h.tr.LastRequest().Path; path != "/api/haikus/h%201" {
		t.Errorf("path = %q", path)
	}
}

func TestHeaderPropagation(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.tr.ExpectCredential("tok-1")

	done := make(chan error, 1)
	h.comm.VoteForHaiku(context.Background(), "h1", func(err error) { done <- err })
	if err := wait(t, done); err != nil {
		t.Fatalf("VoteForHaiku() error = %v", err)
	}
	if h.tr.LastCredential() != "tok-1" || !h.tr.DidSetCredential() {
		t.Errorf("LastCredential() = %q, want tok-1", h.tr.LastCredential())
	}
	if h.tr.LastUserAgent() != "Haiku+Client-iOS" {
		t.Errorf("LastUserAgent() = %q", h.tr.LastUserAgent())
	}
	if h.tr.LastSessionID() != "sess-1" {
		t.Errorf("LastSessionID() = %q, want sess-1", h.tr.LastSessionID())
	}
	if path := h.tr.LastRequest().Path; path != "/api/haikus/h1/vote" {
		t.Errorf("path = %q", path)
	}
}

func TestVoteForHaiku(t *testing.T) {
	h := newHarness(t)
	done := make(chan error, 1)

	h.comm.VoteForHaiku(context.Background(), "h1", func(err error) { done <- err })
	if err := wait(t, done); errs.CodeOf(err) != errs.CodeNotSignedIn {
		t.Errorf("vote while signed out = %v", err)
	}

	h.signIn(t)
	h.tr.VoteSucceeds = false
	h.comm.VoteForHaiku(context.Background(), "h1", func(err error) { done <- err })
	if err := wait(t, done); !errors.Is(err, fake.ErrScripted) {
		t.Errorf("vote = %v, want the scripted failure", err)
	}
	if !h.comm.IsSignedInWithServer() {
		t.Error("transport failure must not sign out")
	}
}

func TestCreateHaiku(t *testing.T) {
	h := newHarness(t)
	draft := &model.Haiku{Title: "Winter", LineOne: "winter solitude", LineTwo: "in a world of one colour", LineThree: "the sound of wind"}

	type result struct {
		haiku *model.Haiku
		err   error
	}
	done := make(chan result, 1)
	create := func(hk *model.Haiku) result {
		h.comm.CreateHaiku(context.Background(), hk, func(got *model.Haiku, err error) { done <- result{got, err} })
		return wait(t, done)
	}

	if r := create(draft); errs.CodeOf(r.err) != errs.CodeNotSignedIn {
		t.Errorf("create while signed out = %v", r.err)
	}

	h.signIn(t)
	before := len(h.tr.Calls())
	if r := create(&model.Haiku{Title: "No lines"}); errs.CodeOf(r.err) != errs.CodeInvalidHaiku || r.haiku != nil {
		t.Errorf("create invalid = %+v, %v", r.haiku, r.err)
	}
	if len(h.tr.Calls()) != before {
		t.Error("an invalid haiku must not reach the transport")
	}

	r := create(draft)
	if r.err != nil {
		t.Fatalf("CreateHaiku() error = %v", r.err)
	}
	if r.haiku.Identifier != "created" || r.haiku.Title != "Winter" || r.haiku.LineThree != "the sound of wind" {
		t.Errorf("created = %+v", r.haiku)
	}
	if r.haiku == draft {
		t.Error("the completion should get the server's haiku, not the draft")
	}
}

func TestSignOut_FailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.tr.SignOutSucceeds = false

	done := make(chan error, 1)
	h.comm.SignOut(context.Background(), func(err error) { done <- err })
	if err := wait(t, done); !errs.Is(err, errs.Transport) {
		t.Errorf("SignOut() error = %v, want transport error", err)
	}
	if !h.comm.IsSignedInWithServer() {
		t.Error("a failed sign-out must leave the session alone")
	}
	if n := atomic.LoadInt32(&h.provider.signOuts); n != 0 {
		t.Errorf("provider sign-outs = %d, want 0", n)
	}
	expectNone(t, h.listener.states, "state notification")
}

func TestSignOut_Success(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	done := make(chan error, 1)
	h.comm.SignOut(context.Background(), func(err error) {
		checkSessionInvariant(t, h.comm)
		done <- err
	})
	if err := wait(t, done); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if err := wait(t, h.listener.states); err != nil {
		t.Errorf("sign-out notification = %v, want nil", err)
	}
	if h.comm.State() != haikuplus.SignedOut || h.comm.SessionID() != "" || h.comm.DisplayImage() != nil {
		t.Error("session should be cleared")
	}
	if n := atomic.LoadInt32(&h.provider.signOuts); n != 1 {
		t.Errorf("provider sign-outs = %d, want 1", n)
	}

	// Signing out again succeeds but changes nothing.
	h.comm.SignOut(context.Background(), func(err error) { done <- err })
	if err := wait(t, done); err != nil {
		t.Errorf("second SignOut() error = %v", err)
	}
	expectNone(t, h.listener.states, "state notification")
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	done := make(chan error, 1)
	h.comm.Disconnect(context.Background(), func(err error) { done <- err })
	if err := wait(t, done); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := wait(t, h.listener.states); err != nil {
		t.Errorf("notification = %v", err)
	}
	if h.comm.IsSignedInWithServer() {
		t.Error("Disconnect should sign out")
	}

	deadline := time.Now().Add(waitTimeout)
	for atomic.LoadInt32(&h.provider.disconnects) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&h.provider.disconnects); n != 1 {
		t.Errorf("provider disconnects = %d, want 1", n)
	}
}

func TestDisconnect_Failures(t *testing.T) {
	t.Run("transport failure keeps session", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t)
		h.tr.DisconnectSucceeds = false

		done := make(chan error, 1)
		h.comm.Disconnect(context.Background(), func(err error) { done <- err })
		if err := wait(t, done); err == nil {
			t.Fatal("expected an error")
		}
		if !h.comm.IsSignedInWithServer() {
			t.Error("a failed disconnect must leave the session alone")
		}
	})

	t.Run("unauthorized signs out", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t)
		h.tr.Err = errs.FromStatus(transport.OpDisconnect, 401, errs.CodeNone, "")

		done := make(chan error, 1)
		h.comm.Disconnect(context.Background(), func(err error) { done <- err })
		if err := wait(t, done); !errs.Is(err, errs.Unauthorized) {
			t.Errorf("Disconnect() = %v", err)
		}
		if err := wait(t, h.listener.states); !errs.Is(err, errs.Unauthorized) {
			t.Errorf("notification = %v", err)
		}
		if h.comm.IsSignedInWithServer() {
			t.Error("unauthorized must sign out")
		}
	})
}

func TestFetchImage_Stateless(t *testing.T) {
	h := newHarness(t)

	done := make(chan image.Image, 1)
	h.comm.FetchImage(context.Background(), "https://images.example.com/a.png", func(img image.Image, err error) {
		if err != nil {
			t.Errorf("FetchImage() error = %v", err)
		}
		done <- img
	})
	if img := wait(t, done); img == nil {
		t.Error("expected an image")
	}
	if h.comm.State() != haikuplus.SignedOut || len(h.tr.Calls()) != 0 {
		t.Error("FetchImage must not touch the session")
	}

	h.tr.ImageErr = errors.New("offline")
	errc := make(chan error, 1)
	h.comm.FetchImage(context.Background(), "https://images.example.com/b.png", func(img image.Image, err error) {
		if img != nil {
			t.Error("image alongside an error")
		}
		errc <- err
	})
	if err := wait(t, errc); !errs.Is(err, errs.Transport) {
		t.Errorf("err = %v, want transport error", err)
	}
}

func TestHandleDeepLink(t *testing.T) {
	h := newHarness(t)
	if !h.comm.HandleDeepLink("com.example.haikuplus:/oauth2redirect?code=1") {
		t.Error("HandleDeepLink() = false, want true")
	}
	h.provider.mu.Lock()
	defer h.provider.mu.Unlock()
	if len(h.provider.links) != 1 {
		t.Errorf("forwarded links = %v", h.provider.links)
	}

	plain := haikuplus.New(haikuplus.Config{}, fake.New(), nil, haikuplus.WithLogger(quietLogger()))
	defer plain.Close()
	if plain.HandleDeepLink("anything") {
		t.Error("HandleDeepLink() without a provider should be false")
	}
}

// transportFunc serves Perform from a function; FetchImage always fails.
type transportFunc func(ctx context.Context, req *transport.Request) (*transport.Response, error)

func (f transportFunc) Perform(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return f(ctx, req)
}

func (f transportFunc) FetchImage(ctx context.Context, rawURL string) (image.Image, error) {
	return nil, errors.New("no images")
}

func TestUnexpectedBodies(t *testing.T) {
	tr := transportFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{Body: "not a record"}, nil
	})
	comm := haikuplus.New(haikuplus.Config{}, tr, nil, haikuplus.WithLogger(quietLogger()))
	defer comm.Close()

	list := make(chan error, 1)
	comm.FetchHaikus(context.Background(), false, func(_ []*model.Haiku, err error) { list <- err })
	if err := wait(t, list); errs.CodeOf(err) != errs.CodeBadResponse {
		t.Errorf("FetchHaikus() = %v, want bad_response", err)
	}

	one := make(chan error, 1)
	comm.FetchHaiku(context.Background(), "x", func(_ *model.Haiku, err error) { one <- err })
	if err := wait(t, one); errs.CodeOf(err) != errs.CodeBadResponse {
		t.Errorf("FetchHaiku() = %v, want bad_response", err)
	}
}

func TestCustomPathsAndUserAgent(t *testing.T) {
	tr := fake.New()
	cfg := haikuplus.Config{UserAgent: "HaikuCLI/1.0", Paths: haikuplus.Paths{Haiku: "/v2/poems/%s"}}
	comm := haikuplus.New(cfg, tr, nil, haikuplus.WithLogger(quietLogger()))
	defer comm.Close()

	done := make(chan error, 1)
	comm.FetchHaiku(context.Background(), "p1", func(_ *model.Haiku, err error) { done <- err })
	wait(t, done)
	if tr.LastRequest().Path != "/v2/poems/p1" {
		t.Errorf("path = %q", tr.LastRequest().Path)
	}
	if !tr.DidSetUserAgent("HaikuCLI/1.0") {
		t.Errorf("user agent = %q", tr.LastUserAgent())
	}
	if comm.Config().Paths.Haikus != "/api/haikus" {
		t.Errorf("unset paths should get defaults, Haikus = %q", comm.Config().Paths.Haikus)
	}
}

func TestCompletionsRunOnDispatcher(t *testing.T) {
	var dispatched int32
	d := haikuplus.DispatcherFunc(func(fn func()) {
		atomic.AddInt32(&dispatched, 1)
		go fn()
	})
	comm := haikuplus.New(haikuplus.Config{}, fake.New(), nil, haikuplus.WithDispatcher(d), haikuplus.WithLogger(quietLogger()))
	defer comm.Close()

	done := make(chan error, 1)
	comm.FetchHaikus(context.Background(), true, func(_ []*model.Haiku, err error) { done <- err })
	wait(t, done)
	comm.FetchHaiku(context.Background(), "x", func(_ *model.Haiku, err error) { done <- err })
	wait(t, done)
	if n := atomic.LoadInt32(&dispatched); n != 2 {
		t.Errorf("dispatched = %d, want 2", n)
	}
}
