// Package oauth2 implements identity providers on top of golang.org/x/oauth2
// for native clients: the authorization page is opened by the host
// application and the redirect comes back as a deep link.
package oauth2

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultSignInTimeout bounds how long an interactive sign-in waits for the
// redirect.
const DefaultSignInTimeout = 5 * time.Minute

// OpenURLFunc shows an authorization page to the user, usually by handing it
// to the system browser.
type OpenURLFunc func(authURL string) error

// redirect is what a deep link delivered for a pending sign-in.
type redirect struct {
	code    string
	errCode string
}

// BaseOAuth2 runs the authorization code flow for a native client. Provider
// specific types embed it.
type BaseOAuth2 struct {
	ClientId     string
	ClientSecret string
	CallbackURL  string

	oauthConfig   oauth2.Config
	openURL       OpenURLFunc
	httpClient    *http.Client
	signInTimeout time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	pending map[string]chan redirect // state -> waiting sign-in
}

// NewBaseOAuth2 creates a flow for the given client. Empty arguments fall
// back to OAUTH2_CLIENT_ID, OAUTH2_CLIENT_SECRET and OAUTH2_CALLBACK_URL.
func NewBaseOAuth2(clientId string, clientSecret string, callbackUrl string) *BaseOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("OAUTH2_CALLBACK_URL"))
	}
	return &BaseOAuth2{
		ClientId:     clientId,
		ClientSecret: clientSecret,
		CallbackURL:  callbackUrl,
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
		},
		signInTimeout: DefaultSignInTimeout,
		logger:        slog.Default(),
		pending:       make(map[string]chan redirect),
	}
}

// SetOAuthEndpoint overrides the provider endpoint.
func (b *BaseOAuth2) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

// SetHTTPClient sets the client used for token, userinfo and revoke calls.
func (b *BaseOAuth2) SetHTTPClient(client *http.Client) {
	b.httpClient = client
}

// SetOpenURL sets how authorization pages are shown.
func (b *BaseOAuth2) SetOpenURL(open OpenURLFunc) {
	b.openURL = open
}

// SetSignInTimeout bounds the wait for the redirect.
func (b *BaseOAuth2) SetSignInTimeout(d time.Duration) {
	if d > 0 {
		b.signInTimeout = d
	}
}

// SetLogger sets the logger.
func (b *BaseOAuth2) SetLogger(logger *slog.Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// clientContext returns ctx carrying the configured HTTP client for x/oauth2.
func (b *BaseOAuth2) clientContext(ctx context.Context) context.Context {
	if b.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	}
	return ctx
}

func (b *BaseOAuth2) client() *http.Client {
	if b.httpClient != nil {
		return b.httpClient
	}
	return http.DefaultClient
}

func generateState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// authorize opens the authorization page and waits for the redirect carrying
// its code, then exchanges the code for a token.
func (b *BaseOAuth2) authorize(ctx context.Context, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	if b.openURL == nil {
		return nil, fmt.Errorf("no way to open the authorization page")
	}
	state, err := generateState()
	if err != nil {
		return nil, err
	}

	ch := make(chan redirect, 1)
	b.mu.Lock()
	b.pending[state] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, state)
		b.mu.Unlock()
	}()

	if err := b.openURL(b.oauthConfig.AuthCodeURL(state, opts...)); err != nil {
		return nil, fmt.Errorf("failed to open authorization page: %w", err)
	}

	timer := time.NewTimer(b.signInTimeout)
	defer timer.Stop()

	var r redirect
	select {
	case r = <-ch:
	case <-timer.C:
		return nil, fmt.Errorf("timed out waiting for authorization")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.errCode != "" {
		return nil, fmt.Errorf("authorization denied: %s", r.errCode)
	}

	token, err := b.oauthConfig.Exchange(b.clientContext(ctx), r.code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return token, nil
}

// HandleDeepLink completes a pending sign-in when link is a redirect to
// CallbackURL carrying a known state. It reports whether link was consumed.
func (b *BaseOAuth2) HandleDeepLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	cb, err := url.Parse(b.CallbackURL)
	if err != nil || u.Scheme != cb.Scheme || u.Host != cb.Host || strings.TrimRight(u.Path, "/") != strings.TrimRight(cb.Path, "/") {
		return false
	}

	q := u.Query()
	b.mu.Lock()
	ch, ok := b.pending[q.Get("state")]
	if ok {
		delete(b.pending, q.Get("state"))
	}
	b.mu.Unlock()
	if !ok {
		b.logger.Warn("ignoring redirect with unknown oauth state", "state", q.Get("state"))
		return false
	}

	ch <- redirect{code: q.Get("code"), errCode: q.Get("error")}
	return true
}
