package haikuplus

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/panyam/haikuplus/transport"
)

// Defaults used by EnsureDefaults.
const (
	DefaultBaseURL   = "https://localhost"
	DefaultUserAgent = "Haiku+Client-iOS"
)

// Paths holds the API paths. Haiku and Vote are fmt patterns taking the
// haiku id.
type Paths struct {
	CurrentUser string `env:"CURRENT_USER"`
	SignOut     string `env:"SIGN_OUT"`
	Disconnect  string `env:"DISCONNECT"`
	Haikus      string `env:"HAIKUS"`
	Haiku       string `env:"HAIKU"`
	Vote        string `env:"VOTE"`
}

// DefaultPaths returns the paths served by a Haiku+ server.
func DefaultPaths() Paths {
	return Paths{
		CurrentUser: "/api/users/me",
		SignOut:     "/api/signout",
		Disconnect:  "/api/disconnect",
		Haikus:      "/api/haikus",
		Haiku:       "/api/haikus/%s",
		Vote:        "/api/haikus/%s/vote",
	}
}

// Config holds what a Communicator needs to know about the server and the
// client app.
type Config struct {
	// BaseURL of the Haiku+ server. Defaults to https://localhost.
	BaseURL string `env:"BASE_URL"`

	// ClientID and ClientSecret identify the app to the identity provider.
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`

	// RedirectURL is where the identity provider sends the user back to.
	RedirectURL string `env:"REDIRECT_URL"`

	// UserAgent is sent with every request. Defaults to "Haiku+Client-iOS".
	UserAgent string `env:"USER_AGENT"`

	// SessionCookieName is the cookie holding the server session.
	// Defaults to "HaikuSessionId".
	SessionCookieName string `env:"SESSION_COOKIE"`

	Paths Paths `envPrefix:"PATH_"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           DefaultBaseURL,
		UserAgent:         DefaultUserAgent,
		SessionCookieName: transport.DefaultSessionCookieName,
		Paths:             DefaultPaths(),
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() *Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.SessionCookieName == "" {
		c.SessionCookieName = transport.DefaultSessionCookieName
	}
	defaults := DefaultPaths()
	if c.Paths.CurrentUser == "" {
		c.Paths.CurrentUser = defaults.CurrentUser
	}
	if c.Paths.SignOut == "" {
		c.Paths.SignOut = defaults.SignOut
	}
	if c.Paths.Disconnect == "" {
		c.Paths.Disconnect = defaults.Disconnect
	}
	if c.Paths.Haikus == "" {
		c.Paths.Haikus = defaults.Haikus
	}
	if c.Paths.Haiku == "" {
		c.Paths.Haiku = defaults.Haiku
	}
	if c.Paths.Vote == "" {
		c.Paths.Vote = defaults.Vote
	}
	return c
}

// LoadConfigFromEnv reads HAIKUPLUS_* environment variables, e.g.
// HAIKUPLUS_BASE_URL or HAIKUPLUS_PATH_HAIKUS, over the defaults.
func LoadConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "HAIKUPLUS_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg.EnsureDefaults(), nil
}
