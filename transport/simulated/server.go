// Package simulated provides an in-memory Haiku+ server and a Transport that
// talks to it without touching the network.
//
// The server checks the same headers a real one would: every API call must
// carry the client user agent and protected paths need either a bearer
// credential minted by Provider or the session cookie handed out by
// /api/users/me. Failures use distinct error codes (errs.CodeMissingUserAgent,
// errs.CodeMissingAuthorization, errs.CodeInvalidAuthorization) so tests can
// tell which header the client forgot.
package simulated

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/panyam/haikuplus/errs"
	"github.com/panyam/haikuplus/model"
	"github.com/panyam/haikuplus/transport"
)

const (
	// DefaultUserAgent is the user agent the server expects unless told otherwise.
	DefaultUserAgent = "Haiku+Client-iOS"

	issuer         = "haikuplus-simulated"
	sessionUserKey = "userID"
)

// Server is an in-memory Haiku+ API server.
type Server struct {
	mu         sync.Mutex
	data       *Fixtures
	revoked    map[string]bool // user ids whose credentials were revoked by disconnect
	signingKey []byte
	userAgent  string
	now        func() time.Time
	logger     *slog.Logger

	sessions *scs.SessionManager
	handler  http.Handler
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithUserAgent sets the user agent API calls must carry.
func WithUserAgent(ua string) ServerOption {
	return func(s *Server) { s.userAgent = ua }
}

// WithSigningKey sets the HMAC key credentials are signed with.
func WithSigningKey(key []byte) ServerOption {
	return func(s *Server) { s.signingKey = key }
}

// WithSessionCookieName sets the name of the session cookie.
func WithSessionCookieName(name string) ServerOption {
	return func(s *Server) {
		if name != "" {
			s.sessions.Cookie.Name = name
		}
	}
}

// WithClock sets the time source for new haikus and credentials.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

// WithServerLogger sets the server's logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a server seeded with a copy of fixtures, or
// DefaultFixtures when fixtures is nil.
func NewServer(fixtures *Fixtures, opts ...ServerOption) *Server {
	if fixtures == nil {
		fixtures = DefaultFixtures()
	}
	sessions := scs.New()
	sessions.Cookie.Name = transport.DefaultSessionCookieName
	sessions.Lifetime = 24 * time.Hour

	s := &Server{
		data:       fixtures.clone(),
		revoked:    make(map[string]bool),
		signingKey: []byte("haikuplus-simulated-secret"),
		userAgent:  DefaultUserAgent,
		now:        time.Now,
		logger:     slog.Default(),
		sessions:   sessions,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireUserAgent)
	api.HandleFunc("/users/me", s.requireAuth(s.handleCurrentUser)).Methods(http.MethodGet)
	api.HandleFunc("/signout", s.handleSignOut).Methods(http.MethodPost)
	api.HandleFunc("/disconnect", s.requireAuth(s.handleDisconnect)).Methods(http.MethodPost)
	api.HandleFunc("/haikus", s.handleListHaikus).Methods(http.MethodGet)
	api.HandleFunc("/haikus", s.requireAuth(s.handleCreateHaiku)).Methods(http.MethodPost)
	api.HandleFunc("/haikus/{id}", s.handleGetHaiku).Methods(http.MethodGet)
	api.HandleFunc("/haikus/{id}/vote", s.requireAuth(s.handleVote)).Methods(http.MethodPost)
	r.HandleFunc("/images/{name}", s.handleImage).Methods(http.MethodGet)

	s.handler = sessions.LoadAndSave(r)
	return s
}

// ServeHTTP lets the server also be mounted on a real listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// SessionCookieName is the cookie the server keeps sessions in.
func (s *Server) SessionCookieName() string {
	return s.sessions.Cookie.Name
}

// IssueCredential mints a bearer credential for the user with the given id.
func (s *Server) IssueCredential(userID string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iss": issuer,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, nil
}

// User returns a copy of the user with the given id.
func (s *Server) User(id string) (*model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findUser(id)
	if u == nil {
		return nil, false
	}
	cp := *u
	return &cp, true
}

// UserByExternalID returns a copy of the user with the given provider id.
func (s *Server) UserByExternalID(externalID string) (*model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.data.Users {
		if u.ExternalID == externalID {
			cp := *u
			return &cp, true
		}
	}
	return nil, false
}

func (s *Server) findUser(id string) *model.User {
	for _, u := range s.data.Users {
		if u.Identifier == id {
			return u
		}
	}
	return nil
}

func (s *Server) findHaiku(id string) *model.Haiku {
	for _, h := range s.data.Haikus {
		if h.Identifier == id {
			return h
		}
	}
	return nil
}

// verifyCredential checks a bearer credential and returns its subject.
func (s *Server) verifyCredential(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", fmt.Errorf("subject not found")
	}
	return sub, nil
}

func (s *Server) requireUserAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get(transport.HeaderUserAgent)
		if ua == "" || (s.userAgent != "" && ua != s.userAgent) {
			transport.WriteError(w, http.StatusBadRequest, errs.CodeMissingUserAgent, "missing user agent")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userIDKey struct{}

func withUserID(r *http.Request, userID string) context.Context {
	return context.WithValue(r.Context(), userIDKey{}, userID)
}

func userIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey{}).(string)
	return id
}

// authenticate resolves the caller from the bearer credential, falling back
// to the session cookie.
func (s *Server) authenticate(r *http.Request) (string, errs.Code, string) {
	if r.Header.Get(transport.HeaderAuthorization) != "" {
		token := transport.BearerToken(r.Header)
		if token == "" {
			return "", errs.CodeInvalidAuthorization, "authorization header is not a bearer token"
		}
		sub, err := s.verifyCredential(token)
		if err != nil {
			return "", errs.CodeInvalidAuthorization, "invalid credential: " + err.Error()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.findUser(sub) == nil {
			return "", errs.CodeInvalidAuthorization, "unknown user"
		}
		if s.revoked[sub] {
			return "", errs.CodeInvalidAuthorization, "credential revoked"
		}
		return sub, errs.CodeNone, ""
	}

	if id := s.sessions.GetString(r.Context(), sessionUserKey); id != "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.revoked[id] || s.findUser(id) == nil {
			return "", errs.CodeInvalidAuthorization, "session is no longer valid"
		}
		return id, errs.CodeNone, ""
	}
	return "", errs.CodeMissingAuthorization, "authorization required"
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, code, msg := s.authenticate(r)
		if code != errs.CodeNone {
			transport.WriteError(w, http.StatusUnauthorized, code, msg)
			return
		}
		next(w, r.WithContext(withUserID(r, userID)))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	if err := s.sessions.RenewToken(r.Context()); err != nil {
		s.logger.Warn("failed to renew session", "err", err)
	}
	s.sessions.Put(r.Context(), sessionUserKey, userID)

	s.mu.Lock()
	rec := s.findUser(userID).Record()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Destroy(r.Context()); err != nil {
		s.logger.Warn("error clearing session", "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"msg": "signed out"})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	s.mu.Lock()
	s.revoked[userID] = true
	s.mu.Unlock()
	if err := s.sessions.Destroy(r.Context()); err != nil {
		s.logger.Warn("error clearing session", "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"msg": "disconnected"})
}

func (s *Server) handleListHaikus(w http.ResponseWriter, r *http.Request) {
	friendsOnly := r.URL.Query().Get("friends") == "1"

	var follows map[string]bool
	if friendsOnly {
		userID, code, msg := s.authenticate(r)
		if code != errs.CodeNone {
			transport.WriteError(w, http.StatusUnauthorized, code, msg)
			return
		}
		s.mu.Lock()
		follows = make(map[string]bool)
		for _, id := range s.data.Friends[userID] {
			follows[id] = true
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	out := make([]model.Record, 0, len(s.data.Haikus))
	for _, h := range s.data.Haikus {
		if friendsOnly && (h.Author == nil || !follows[h.Author.Identifier]) {
			continue
		}
		out = append(out, h.Record())
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetHaiku(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	h := s.findHaiku(id)
	var rec model.Record
	if h != nil {
		rec = h.Record()
	}
	s.mu.Unlock()
	if rec == nil {
		transport.WriteError(w, http.StatusNotFound, errs.CodeNotFound, "haiku not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	h := s.findHaiku(id)
	var rec model.Record
	if h != nil {
		h.Votes++
		rec = h.Record()
	}
	s.mu.Unlock()
	if rec == nil {
		transport.WriteError(w, http.StatusNotFound, errs.CodeNotFound, "haiku not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateHaiku(w http.ResponseWriter, r *http.Request) {
	var rec model.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		transport.WriteError(w, http.StatusBadRequest, errs.CodeNone, "invalid request body")
		return
	}
	h := model.HaikuFromRecord(rec)
	if err := h.Validate(); err != nil {
		transport.WriteError(w, http.StatusBadRequest, errs.CodeInvalidHaiku, err.Error())
		return
	}

	id := uuid.NewString()
	h.Identifier = id
	h.Votes = 0
	h.CreationTime = s.now().UTC().Truncate(time.Second)
	h.ContentURL = "https://" + ImageHost + "/haikus/" + id
	h.ContentDeepLinkID = "/haikus/" + id
	h.CallToActionURL = h.ContentURL + "?action=vote"
	h.CallToActionDeepLinkID = h.ContentDeepLinkID + "?action=vote"

	s.mu.Lock()
	h.Author = s.findUser(userIDFrom(r))
	s.data.Haikus = append([]*model.Haiku{h}, s.data.Haikus...)
	out := h.Record()
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, out)
}

// handleImage serves a small generated avatar, one colour per name.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(mux.Vars(r)["name"], ".png")
	s.mu.Lock()
	known := s.findUser(name) != nil
	s.mu.Unlock()
	if !known {
		http.NotFound(w, r)
		return
	}

	h := fnv.New32a()
	h.Write([]byte(name))
	sum := h.Sum32()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	fill := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, fill)
		}
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		s.logger.Warn("failed to encode avatar", "err", err)
	}
}
