// Command haikuplus signs in to a Haiku+ server and lists haikus.
//
// With -simulate it runs against the in-memory server and needs no
// configuration. Otherwise it reads HAIKUPLUS_* from the environment, opens
// the Google consent page and waits for the redirect on the loopback address
// given by HAIKUPLUS_REDIRECT_URL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/panyam/haikuplus"
	"github.com/panyam/haikuplus/identity"
	"github.com/panyam/haikuplus/metrics"
	"github.com/panyam/haikuplus/model"
	"github.com/panyam/haikuplus/oauth2"
	"github.com/panyam/haikuplus/transport"
	"github.com/panyam/haikuplus/transport/simulated"
)

func main() {
	simulate := flag.Bool("simulate", false, "use the in-memory server")
	simUser := flag.String("as", "u1", "user to sign in as when simulating")
	friends := flag.Bool("friends", false, "only list haikus by people you follow")
	vote := flag.String("vote", "", "id of a haiku to vote for")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address")
	rps := flag.Float64("rps", 5, "maximum requests per second to the server")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := haikuplus.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		tr       transport.Transport
		provider identity.Provider
	)
	if *simulate {
		tr, provider = newSimulated(cfg, *simUser, 50*time.Millisecond, logger)
	} else {
		tr = transport.NewHTTP(cfg.BaseURL,
			transport.WithSessionCookieName(cfg.SessionCookieName),
			transport.WithRateLimiter(rate.NewLimiter(rate.Limit(*rps), 1)),
			transport.WithTracer(otel.Tracer("github.com/panyam/haikuplus")),
			transport.WithLogger(logger))
		google := oauth2.NewGoogleSignIn(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL, openURL)
		google.SetLogger(logger)
		stopRedirects, err := listenForRedirects(cfg.RedirectURL, google, logger)
		if err != nil {
			logger.Error("failed to listen for the sign-in redirect", "err", err)
			os.Exit(1)
		}
		defer stopRedirects()
		provider = google
	}

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		tr = metrics.Wrap(tr, metrics.NewCollector(reg))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, metrics.Handler(reg)); err != nil {
				logger.Warn("metrics server stopped", "err", err)
			}
		}()
	}

	signedIn := make(chan error, 1)
	comm := haikuplus.New(*cfg, tr, provider,
		haikuplus.WithLogger(logger),
		haikuplus.WithListener(haikuplus.ListenerFuncs{
			OnSignInStateChanged: func(err error) {
				select {
				case signedIn <- err:
				default:
				}
			},
		}))
	defer comm.Close()

	if err := run(ctx, comm, signedIn, *friends, *vote); err != nil {
		logger.Error("haikuplus failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, comm *haikuplus.Communicator, signedIn <-chan error, friends bool, vote string) error {
	if err := comm.SignIn(ctx); err != nil {
		return err
	}
	select {
	case err := <-signedIn:
		if err != nil {
			return fmt.Errorf("failed to sign in: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	fmt.Printf("Signed in as %s\n\n", comm.CurrentUser().DisplayName)

	if vote != "" {
		voted := make(chan error, 1)
		comm.VoteForHaiku(ctx, vote, func(err error) { voted <- err })
		if err := <-voted; err != nil {
			return fmt.Errorf("failed to vote for %s: %w", vote, err)
		}
	}

	type listing struct {
		haikus []*model.Haiku
		err    error
	}
	listed := make(chan listing, 1)
	comm.FetchHaikus(ctx, friends, func(haikus []*model.Haiku, err error) { listed <- listing{haikus, err} })
	l := <-listed
	if l.err != nil {
		return fmt.Errorf("failed to list haikus: %w", l.err)
	}
	for _, h := range l.haikus {
		author := "unknown"
		if h.Author != nil {
			author = h.Author.DisplayName
		}
		fmt.Printf("%s  %q by %s, %d votes, %s\n", h.Identifier, h.Title, author, h.Votes, model.FormatVisibleDate(h.CreationTime))
		for _, line := range h.Lines() {
			fmt.Printf("    %s\n", line)
		}
	}

	done := make(chan error, 1)
	comm.SignOut(ctx, func(err error) { done <- err })
	return <-done
}

// newSimulated builds an in-memory server that uses the same session cookie
// as the communicator, with a transport and provider for it.
func newSimulated(cfg *haikuplus.Config, userID string, latency time.Duration, logger *slog.Logger) (*simulated.Transport, *simulated.Provider) {
	server := simulated.NewServer(simulated.DefaultFixtures(),
		simulated.WithSessionCookieName(cfg.SessionCookieName),
		simulated.WithServerLogger(logger))
	return simulated.NewTransport(server, simulated.WithLatency(latency)), simulated.NewProvider(server, userID)
}

func openURL(authURL string) error {
	fmt.Fprintf(os.Stderr, "Open this page to sign in:\n\n  %s\n\n", authURL)
	return nil
}

// listenForRedirects serves the loopback redirect URL and hands each request
// to the provider as a deep link.
func listenForRedirects(redirectURL string, h identity.DeepLinkHandler, logger *slog.Logger) (func(), error) {
	u, err := url.Parse(redirectURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid redirect url %q", redirectURL)
	}
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", u.Host, err)
	}
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			link := u.Scheme + "://" + r.Host + r.URL.RequestURI()
			if !h.HandleDeepLink(link) {
				http.Error(w, "unexpected redirect", http.StatusBadRequest)
				return
			}
			fmt.Fprintln(w, "Signed in. You can close this window.")
		}),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("redirect listener stopped", "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
