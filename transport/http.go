package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/panyam/haikuplus/errs"
)

const tracerName = "github.com/panyam/haikuplus/transport"

// HTTP is the production Transport. It issues a single attempt per call;
// timeouts are whatever the underlying http.Client imposes.
type HTTP struct {
	baseURL    string
	cookieName string
	httpClient *http.Client
	limiter    *rate.Limiter
	tracer     trace.Tracer
	logger     *slog.Logger
}

// HTTPOption configures an HTTP transport
type HTTPOption func(*HTTP)

// WithHTTPClient sets the client used for calls (timeouts, TLS config, jar...).
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTP) {
		if client != nil {
			t.httpClient = client
		}
	}
}

// WithRoundTripper sets a custom base transport (for connection pooling, proxies, etc.)
func WithRoundTripper(rt http.RoundTripper) HTTPOption {
	return func(t *HTTP) {
		c := *t.httpClient
		c.Transport = rt
		t.httpClient = &c
	}
}

// WithSessionCookieName overrides DefaultSessionCookieName.
func WithSessionCookieName(name string) HTTPOption {
	return func(t *HTTP) {
		if name != "" {
			t.cookieName = name
		}
	}
}

// WithRateLimiter makes every call wait for a token from l before it is
// issued. Calls are still never retried.
func WithRateLimiter(l *rate.Limiter) HTTPOption {
	return func(t *HTTP) {
		t.limiter = l
	}
}

// WithTracer records a client span per call. Defaults to the global
// OpenTelemetry tracer provider.
func WithTracer(tracer trace.Tracer) HTTPOption {
	return func(t *HTTP) {
		if tracer != nil {
			t.tracer = tracer
		}
	}
}

// WithLogger sets the logger for failed calls.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(t *HTTP) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewHTTP creates a transport for the server at baseURL.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	// Normalize server URL
	if u, err := url.Parse(baseURL); err == nil && u.Scheme != "" && u.Host != "" {
		baseURL = fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, strings.TrimRight(u.Path, "/"))
	}

	t := &HTTP{
		baseURL:    baseURL,
		cookieName: DefaultSessionCookieName,
		httpClient: &http.Client{},
		tracer:     otel.Tracer(tracerName),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BaseURL returns the server URL calls are made against.
func (t *HTTP) BaseURL() string {
	return t.baseURL
}

// Perform implements Transport.
func (t *HTTP) Perform(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := t.tracer.Start(ctx, "haikuplus."+req.Op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		))
	defer span.End()

	resp, err := t.perform(ctx, req)
	if err != nil {
		span.RecordError(err)
		t.logger.Warn("haikuplus request failed", "op", req.Op, "method", req.Method, "path", req.Path, "err", err)
		return nil, err
	}
	return resp, nil
}

func (t *HTTP) perform(ctx context.Context, req *Request) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, errs.Wrap(errs.Transport, req.Op, fmt.Errorf("rate limit: %w", err))
		}
	}

	target := t.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		jsonBody, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errs.Wrap(errs.Transport, req.Op, fmt.Errorf("failed to encode request: %w", err))
		}
		body = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, req.Op, fmt.Errorf("failed to build request: %w", err))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, req.Op, fmt.Errorf("failed to connect to server: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, req.Op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ErrorFromBody(req.Op, resp.StatusCode, data)
	}

	out := &Response{}
	for _, c := range resp.Cookies() {
		if c.Name == t.cookieName {
			out.SessionID = c.Value
		}
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out.Body); err != nil {
			return nil, &errs.Error{Kind: errs.Transport, Code: errs.CodeBadResponse, Status: resp.StatusCode, Op: req.Op, Err: fmt.Errorf("invalid response from server: %w", err)}
		}
	}
	return out, nil
}

// FetchImage implements Transport.
func (t *HTTP) FetchImage(ctx context.Context, rawURL string) (image.Image, error) {
	const op = OpFetchImage
	ctx, span := t.tracer.Start(ctx, "haikuplus."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", rawURL)))
	defer span.End()

	img, err := t.fetchImage(ctx, rawURL)
	if err != nil {
		span.RecordError(err)
		t.logger.Warn("haikuplus image fetch failed", "op", op, "url", rawURL, "err", err)
		return nil, err
	}
	return img, nil
}

func (t *HTTP) fetchImage(ctx context.Context, rawURL string) (image.Image, error) {
	const op = OpFetchImage
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, op, fmt.Errorf("invalid image url: %w", err))
	}
	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, op, fmt.Errorf("failed to fetch image: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errs.FromStatus(op, resp.StatusCode, errs.CodeNone, "")
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, &errs.Error{Kind: errs.Transport, Code: errs.CodeBadResponse, Status: resp.StatusCode, Op: op, Err: fmt.Errorf("failed to decode image: %w", err)}
	}
	return img, nil
}

// errorBody is the error document a Haiku+ server sends with non-2xx responses.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ErrorFromBody classifies a non-2xx response, picking up the server's error
// message and code when the body is an error document.
func ErrorFromBody(op string, statusCode int, data []byte) *errs.Error {
	var eb errorBody
	if len(data) > 0 {
		if err := json.Unmarshal(data, &eb); err != nil {
			eb.Error = strings.TrimSpace(string(data))
		}
	}
	return errs.FromStatus(op, statusCode, errs.Code(eb.Code), eb.Error)
}

// WriteError writes an error document. Server-side counterpart of
// ErrorFromBody.
func WriteError(w http.ResponseWriter, statusCode int, code errs.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorBody{Error: msg, Code: string(code)})
}

// compile-time interface check
var _ Transport = (*HTTP)(nil)
