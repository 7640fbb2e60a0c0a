package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/panyam/haikuplus/errs"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTP_Perform_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/haikus" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("friends") != "1" {
			t.Errorf("expected friends=1, got %q", r.URL.RawQuery)
		}
		if ua := r.Header.Get("User-Agent"); ua != "Haiku+Client-iOS" {
			t.Errorf("User-Agent = %q, want Haiku+Client-iOS", ua)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok-1" {
			t.Errorf("Authorization = %q, want Bearer tok-1", auth)
		}
		if c, err := r.Cookie("HaikuSessionId"); err != nil || c.Value != "sess-9" {
			t.Errorf("session cookie = %v, %v", c, err)
		}
		json.NewEncoder(w).Encode([]map[string]any{{"id": "h1"}, {"id": "h2"}})
	}))
	defer server.Close()

	tr := NewHTTP(server.URL, WithLogger(quietLogger()))

	req := NewRequest("fetchHaikus", http.MethodGet, "/api/haikus")
	req.Query = url.Values{"friends": {"1"}}
	req.Header.Set(HeaderUserAgent, "Haiku+Client-iOS")
	req.SetCredential("tok-1")
	req.SetSessionID(DefaultSessionCookieName, "sess-9")

	resp, err := tr.Perform(context.Background(), req)
	if err != nil {
		t.Fatalf("Perform() error = %v", err)
	}
	list, ok := resp.Body.([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("Body = %#v, want a list of 2", resp.Body)
	}
}

func TestHTTP_Perform_SendsJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["title"] != "Spring" {
			t.Errorf("title = %v, want Spring", body["title"])
		}
		body["id"] = "new-id"
		json.NewEncoder(w).Encode(body)
	}))
	defer server.Close()

	tr := NewHTTP(server.URL + "/")
	req := NewRequest("createHaiku", http.MethodPost, "/api/haikus")
	req.Body = map[string]any{"title": "Spring"}

	resp, err := tr.Perform(context.Background(), req)
	if err != nil {
		t.Fatalf("Perform() error = %v", err)
	}
	m := resp.Body.(map[string]any)
	if m["id"] != "new-id" {
		t.Errorf("id = %v, want new-id", m["id"])
	}
}

func TestHTTP_Perform_CapturesSessionCookie(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "HaikuSessionId", Value: "abc123", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "other", Value: "ignored"})
		json.NewEncoder(w).Encode(map[string]any{"id": "u1"})
	}))
	defer server.Close()

	tr := NewHTTP(server.URL)
	resp, err := tr.Perform(context.Background(), NewRequest("fetchCurrentUser", http.MethodGet, "/api/users/me"))
	if err != nil {
		t.Fatalf("Perform() error = %v", err)
	}
	if resp.SessionID != "abc123" {
		t.Errorf("SessionID = %q, want abc123", resp.SessionID)
	}
}

func TestHTTP_Perform_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	tr := NewHTTP(server.URL)
	resp, err := tr.Perform(context.Background(), NewRequest("signOut", http.MethodPost, "/api/signout"))
	if err != nil {
		t.Fatalf("Perform() error = %v", err)
	}
	if resp.Body != nil {
		t.Errorf("Body = %v, want nil", resp.Body)
	}
}

func TestHTTP_Perform_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind errs.Kind
		wantCode errs.Code
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"token expired","code":"invalid_authorization"}`, errs.Unauthorized, errs.CodeInvalidAuthorization},
		{"forbidden", http.StatusForbidden, "", errs.Unauthorized, errs.CodeNone},
		{"not found", http.StatusNotFound, "404 page not found", errs.Transport, errs.CodeNotFound},
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, errs.Transport, errs.CodeNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			tr := NewHTTP(server.URL, WithLogger(quietLogger()))
			resp, err := tr.Perform(context.Background(), NewRequest("fetchHaiku", http.MethodGet, "/api/haikus/1"))
			if resp != nil {
				t.Errorf("expected no response alongside an error, got %+v", resp)
			}
			if !errs.Is(err, tt.wantKind) {
				t.Fatalf("kind = %v, want %v (%v)", errs.KindOf(err), tt.wantKind, err)
			}
			if errs.CodeOf(err) != tt.wantCode {
				t.Errorf("code = %q, want %q", errs.CodeOf(err), tt.wantCode)
			}
			var e *errs.Error
			if !errors.As(err, &e) || e.Status != tt.status {
				t.Errorf("status not carried: %v", err)
			}
		})
	}
}

func TestHTTP_Perform_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{not json")
	}))
	defer server.Close()

	tr := NewHTTP(server.URL, WithLogger(quietLogger()))
	_, err := tr.Perform(context.Background(), NewRequest("fetchHaiku", http.MethodGet, "/api/haikus/1"))
	if !errs.Is(err, errs.Transport) || errs.CodeOf(err) != errs.CodeBadResponse {
		t.Errorf("expected bad_response transport error, got %v", err)
	}
}

func TestHTTP_Perform_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	tr := NewHTTP(serverURL, WithLogger(quietLogger()))
	_, err := tr.Perform(context.Background(), NewRequest("fetchHaikus", http.MethodGet, "/api/haikus"))
	if !errs.Is(err, errs.Transport) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestHTTP_Perform_RateLimited(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		io.WriteString(w, "{}")
	}))
	defer server.Close()

	// A limiter with no burst can never grant a token.
	tr := NewHTTP(server.URL, WithRateLimiter(rate.NewLimiter(rate.Every(1), 0)), WithLogger(quietLogger()))
	_, err := tr.Perform(context.Background(), NewRequest("fetchHaikus", http.MethodGet, "/api/haikus"))
	if !errs.Is(err, errs.Transport) {
		t.Errorf("expected transport error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("server called %d times, want 0", calls)
	}
}

type countingRoundTripper struct {
	calls int32
	base  http.RoundTripper
}

func (c *countingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.base.RoundTrip(r)
}

func TestHTTP_WithRoundTripper(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{}")
	}))
	defer server.Close()

	rt := &countingRoundTripper{base: http.DefaultTransport}
	tr := NewHTTP(server.URL, WithRoundTripper(rt))
	if _, err := tr.Perform(context.Background(), NewRequest("fetchHaikus", http.MethodGet, "/api/haikus")); err != nil {
		t.Fatalf("Perform() error = %v", err)
	}
	if rt.calls != 1 {
		t.Errorf("round tripper calls = %d, want 1", rt.calls)
	}
}

func TestHTTP_FetchImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.png") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	tr := NewHTTP(server.URL)
	got, err := tr.FetchImage(context.Background(), server.URL+"/avatar.png")
	if err != nil {
		t.Fatalf("FetchImage() error = %v", err)
	}
	if got.Bounds().Dx() != 4 || got.Bounds().Dy() != 3 {
		t.Errorf("bounds = %v, want 4x3", got.Bounds())
	}

	_, err = tr.FetchImage(context.Background(), server.URL+"/missing.png")
	if errs.CodeOf(err) != errs.CodeNotFound {
		t.Errorf("expected not_found, got %v", err)
	}
}

// errorTracer hands out spans that count RecordError calls.
type errorTracer struct {
	noop.Tracer
	errors int
}

type errorSpan struct {
	noop.Span
	tracer *errorTracer
}

func (s errorSpan) RecordError(err error, opts ...trace.EventOption) { s.tracer.errors++ }

func (tr *errorTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, errorSpan{tracer: tr}
}

func TestHTTP_FetchImage_FailuresAreTracedAndLogged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.png":
			http.NotFound(w, r)
		case "/garbage.png":
			w.Write([]byte("not an image"))
		default:
			png.Encode(w, image.NewGray(image.Rect(0, 0, 1, 1)))
		}
	}))
	defer server.Close()

	tests := []struct {
		path     string
		wantCode errs.Code
		wantErr  bool
	}{
		{"/ok.png", errs.CodeNone, false},
		{"/missing.png", errs.CodeNotFound, true},
		{"/garbage.png", errs.CodeBadResponse, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var logs bytes.Buffer
			tracer := &errorTracer{}
			tr := NewHTTP(server.URL, WithTracer(tracer), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

			_, err := tr.FetchImage(context.Background(), server.URL+tt.path)
			if (err != nil) != tt.wantErr || errs.CodeOf(err) != tt.wantCode {
				t.Fatalf("FetchImage() error = %v, want code %q", err, tt.wantCode)
			}
			wantRecorded := 0
			if tt.wantErr {
				wantRecorded = 1
			}
			if tracer.errors != wantRecorded {
				t.Errorf("span errors = %d, want %d", tracer.errors, wantRecorded)
			}
			if logged := strings.Contains(logs.String(), "image fetch failed"); logged != tt.wantErr {
				t.Errorf("logged failure = %v, want %v; logs: %s", logged, tt.wantErr, logs.String())
			}
		})
	}
}

func TestRequest_Headers(t *testing.T) {
	req := NewRequest("vote", http.MethodPost, "/api/haikus/1/vote")
	req.SetCredential("abc")
	if req.Credential() != "abc" {
		t.Errorf("Credential() = %q, want abc", req.Credential())
	}
	req.SetCredential("")
	if req.Credential() != "" {
		t.Errorf("Credential() = %q after clearing", req.Credential())
	}

	req.SetSessionID("HaikuSessionId", "s1")
	if req.SessionID("HaikuSessionId") != "s1" {
		t.Errorf("SessionID() = %q, want s1", req.SessionID("HaikuSessionId"))
	}
	if req.SessionID("missing") != "" {
		t.Error("unknown cookie should be empty")
	}
}
