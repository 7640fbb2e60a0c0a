// Package identity defines the boundary to the external identity provider.
//
// The provider's own sign-in UI and token refresh are a black box: all the
// communicator needs from it is an opaque credential and the user's id at
// the provider.
package identity

import (
	"context"
	"time"
)

// Credential is what a successful provider sign-in yields.
type Credential struct {
	// AccessToken is attached to authenticated requests as a bearer token.
	AccessToken string

	// UserID is the user's id at the identity provider.
	UserID string

	// Expiry is when AccessToken stops being valid, zero if unknown.
	Expiry time.Time
}

// Provider authenticates the user, interactively if it has to.
type Provider interface {
	SignIn(ctx context.Context) (*Credential, error)
}

// DeepLinkHandler is implemented by providers that complete sign-in through
// a redirect delivered to the host application. HandleDeepLink reports
// whether the link was consumed.
type DeepLinkHandler interface {
	HandleDeepLink(link string) bool
}

// SignOuter is implemented by providers that keep local sign-in state.
type SignOuter interface {
	SignOut()
}

// Disconnecter is implemented by providers that can revoke the app's grant.
type Disconnecter interface {
	Disconnect(ctx context.Context) error
}
