package simulated

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"github.com/panyam/haikuplus/errs"
	"github.com/panyam/haikuplus/transport"
)

// Transport serves calls from a Server in the same process. Requests go
// through the server's full handler chain, so header checks and sessions
// behave as they would over the wire.
type Transport struct {
	server  *Server
	latency time.Duration
}

// TransportOption configures a simulated Transport.
type TransportOption func(*Transport)

// WithLatency delays every call by d, or until the context is done.
func WithLatency(d time.Duration) TransportOption {
	return func(t *Transport) { t.latency = d }
}

// NewTransport returns a transport backed by server.
func NewTransport(server *Server, opts ...TransportOption) *Transport {
	t := &Transport{server: server}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Server returns the backing server.
func (t *Transport) Server() *Server {
	return t.server
}

func (t *Transport) wait(ctx context.Context, op string) error {
	if t.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(t.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.Transport, op, ctx.Err())
	}
}

func (t *Transport) serve(ctx context.Context, method, target string, body io.Reader, header http.Header) (*http.Response, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	t.server.ServeHTTP(rec, httpReq)
	resp := rec.Result()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp, data, err
}

// Perform implements transport.Transport.
func (t *Transport) Perform(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := t.wait(ctx, req.Op); err != nil {
		return nil, err
	}

	target := "http://" + ImageHost + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errs.Wrap(errs.Transport, req.Op, fmt.Errorf("failed to encode request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	resp, data, err := t.serve(ctx, req.Method, target, body, req.Header)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, req.Op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, transport.ErrorFromBody(req.Op, resp.StatusCode, data)
	}

	out := &transport.Response{}
	for _, c := range resp.Cookies() {
		if c.Name == t.server.SessionCookieName() {
			out.SessionID = c.Value
		}
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out.Body); err != nil {
			return nil, &errs.Error{Kind: errs.Transport, Code: errs.CodeBadResponse, Status: resp.StatusCode, Op: req.Op, Err: err}
		}
	}
	return out, nil
}

// FetchImage implements transport.Transport. Only URLs on ImageHost resolve.
func (t *Transport) FetchImage(ctx context.Context, rawURL string) (image.Image, error) {
	const op = transport.OpFetchImage
	if err := t.wait(ctx, op); err != nil {
		return nil, err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, op, fmt.Errorf("invalid image url: %w", err))
	}
	if u.Host != ImageHost {
		return nil, errs.Wrap(errs.Transport, op, fmt.Errorf("host unreachable: %s", u.Host))
	}

	resp, data, err := t.serve(ctx, http.MethodGet, "http://"+ImageHost+u.Path, nil, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errs.FromStatus(op, resp.StatusCode, errs.CodeNone, "")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &errs.Error{Kind: errs.Transport, Code: errs.CodeBadResponse, Op: op, Err: err}
	}
	return img, nil
}

var _ transport.Transport = (*Transport)(nil)
