// Package metrics instruments a Transport with Prometheus metrics.
package metrics

import (
	"context"
	"image"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/panyam/haikuplus/errs"
	"github.com/panyam/haikuplus/transport"
)

// ResultOK is the result label of successful calls. Failed calls are
// labelled with their error kind.
const ResultOK = "ok"

// Collector holds the call metrics.
type Collector struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haikuplus_client_calls_total",
			Help: "Haiku+ API calls by operation and result",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "haikuplus_client_call_duration_seconds",
			Help:    "Haiku+ API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(c.calls, c.duration)
	return c
}

// RecordCall records one finished call.
func (c *Collector) RecordCall(op string, err error, elapsed time.Duration) {
	result := ResultOK
	if err != nil {
		result = errs.KindOf(err).String()
	}
	c.calls.WithLabelValues(op, result).Inc()
	c.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Handler returns an HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Transport decorates another transport.Transport, recording every call.
type Transport struct {
	next      transport.Transport
	collector *Collector
	now       func() time.Time
}

// Wrap returns next instrumented with c.
func Wrap(next transport.Transport, c *Collector) *Transport {
	return &Transport{next: next, collector: c, now: time.Now}
}

// Perform implements transport.Transport.
func (t *Transport) Perform(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	start := t.now()
	resp, err := t.next.Perform(ctx, req)
	t.collector.RecordCall(req.Op, err, t.now().Sub(start))
	return resp, err
}

// FetchImage implements transport.Transport.
func (t *Transport) FetchImage(ctx context.Context, rawURL string) (image.Image, error) {
	start := t.now()
	img, err := t.next.FetchImage(ctx, rawURL)
	t.collector.RecordCall(transport.OpFetchImage, err, t.now().Sub(start))
	return img, err
}

var _ transport.Transport = (*Transport)(nil)
