// Package haikuplus is the client communication layer for a Haiku+ server.
//
// A Communicator signs the user in with an identity provider, trades the
// provider credential for a server session and performs the API calls
// (list, fetch, vote, create, sign out, disconnect) on top of a swappable
// transport, mapping server records into model types.
//
// # Session
//
// A Communicator moves between three states:
//
//	SignedOut -> SigningIn -> SignedIn
//
// SignIn asks the identity provider for a credential, then calls
// /api/users/me with it. Only one sign-in runs at a time. Any call that the
// server rejects as Unauthorized while signed in drops the session and tells
// the Listener why. SignOut and Disconnect clear the session when the server
// confirms, and leave it alone when the call fails.
//
// # Basic Usage
//
//	cfg, err := haikuplus.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	provider := oauth2.NewGoogleSignIn(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL, openBrowser)
//	comm := haikuplus.New(*cfg, transport.NewHTTP(cfg.BaseURL), provider,
//	    haikuplus.WithListener(haikuplus.ListenerFuncs{
//	        OnSignInStateChanged: func(err error) { ... },
//	    }))
//	defer comm.Close()
//
//	comm.SignIn(ctx)
//	...
//	comm.FetchHaikus(ctx, true, func(haikus []*model.Haiku, err error) {
//	    ...
//	})
//
// The host forwards redirects from the provider's sign-in page with
// HandleDeepLink.
//
// # Threading
//
// Operations return at once. Transport calls run on their own goroutines and
// every completion and listener call is delivered through the Dispatcher,
// one at a time. The default dispatcher is a SerialQueue; UI hosts usually
// pass a DispatcherFunc that posts to their main loop.
//
// # Testing
//
// transport/simulated serves deterministic fixtures in memory and checks the
// headers a real server would. transport/fake returns whatever a test
// scripts and records the credential and user agent it was sent.
package haikuplus
