package simulated

import (
	"context"
	"sync"
	"time"

	"github.com/panyam/haikuplus/errs"
	"github.com/panyam/haikuplus/identity"
)

// Provider is an identity provider that signs in as a fixed fixture user
// without any UI. Credentials are minted by the server, so they pass its
// bearer check.
type Provider struct {
	server *Server

	mu       sync.Mutex
	userID   string
	err      error
	signIns  int
	signOuts int
	revokes  int
}

// NewProvider returns a provider that signs in as the user with id userID.
func NewProvider(server *Server, userID string) *Provider {
	return &Provider{server: server, userID: userID}
}

// FailWith makes subsequent sign-ins fail with err. Pass nil to recover.
func (p *Provider) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// SignIn implements identity.Provider.
func (p *Provider) SignIn(ctx context.Context) (*identity.Credential, error) {
	p.mu.Lock()
	p.signIns++
	failure := p.err
	userID := p.userID
	p.mu.Unlock()

	if failure != nil {
		return nil, errs.Wrap(errs.Provider, "signIn", failure)
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.Provider, "signIn", err)
	}

	user, ok := p.server.User(userID)
	if !ok {
		return nil, errs.New(errs.Provider, errs.CodeNone, "no such user: "+userID)
	}
	token, err := p.server.IssueCredential(userID)
	if err != nil {
		return nil, errs.Wrap(errs.Provider, "signIn", err)
	}
	return &identity.Credential{
		AccessToken: token,
		UserID:      user.ExternalID,
		Expiry:      p.server.now().Add(time.Hour),
	}, nil
}

// SignOut implements identity.SignOuter.
func (p *Provider) SignOut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOuts++
}

// Disconnect implements identity.Disconnecter.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revokes++
	return nil
}

// Counts reports how often each provider call was made.
func (p *Provider) Counts() (signIns, signOuts, disconnects int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signIns, p.signOuts, p.revokes
}

var (
	_ identity.Provider     = (*Provider)(nil)
	_ identity.SignOuter    = (*Provider)(nil)
	_ identity.Disconnecter = (*Provider)(nil)
)
