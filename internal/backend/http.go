package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/dhanababum/supermcp-sub001/internal/domain"
	"github.com/dhanababum/supermcp-sub001/pkg/logging"
)

// defaultHTTPSessions is the session count when the config doesn't set one.
const defaultHTTPSessions = 4

var errResourceClosed = errors.New("resource is closed")

// Session is one leased HTTP session. Each session owns a cookie jar, so
// sessions must not be shared between concurrent callers; the free-list in
// httpResource enforces exclusive leases.
type Session struct {
	client  *http.Client
	base    *url.URL
	headers http.Header
}

// Do issues a request relative to the backend's base URL, applying the
// tenant's auth and static headers.
func (s *Session) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base.ResolveReference(ref).String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range s.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return s.client.Do(req)
}

// httpResource is the non-shared strategy for HTTP API backends: a fixed set
// of sessions handed out through a free-list channel, one caller at a time.
type httpResource struct {
	sessions chan *Session
	all      []*Session
	probe    *http.Client
	base     *url.URL

	closed    chan struct{}
	closeOnce sync.Once
}

// newHTTPResource builds the session set and probes the backend once so a
// dead or misconfigured endpoint fails at creation, not first use.
func newHTTPResource(ctx context.Context, cfg *domain.HTTPConfig, opts Options, logger *logging.Logger) (*httpResource, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	headers := make(http.Header)
	if cfg.AuthHeader != "" && cfg.AuthToken != "" {
		headers.Set(cfg.AuthHeader, cfg.AuthToken)
	}
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}

	n := cfg.MaxSessions
	if n <= 0 {
		n = defaultHTTPSessions
	}
	if n > opts.PerTargetMax {
		n = opts.PerTargetMax
	}

	r := &httpResource{
		sessions: make(chan *Session, n),
		probe:    &http.Client{Timeout: opts.ConnectTimeout},
		base:     base,
		closed:   make(chan struct{}),
	}

	for i := 0; i < n; i++ {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConnect, err)
		}
		s := &Session{
			client:  &http.Client{Jar: jar, Timeout: opts.ConnectTimeout},
			base:    base,
			headers: headers,
		}
		r.all = append(r.all, s)
		r.sessions <- s
	}

	if !r.Healthcheck(ctx) {
		r.Close()
		return nil, fmt.Errorf("%w: %s unreachable", domain.ErrConnect, cfg.BaseURL)
	}

	logger.Debug("Opened HTTP backend session pool", "sessions", n)

	return r, nil
}

// Checkout leases a session, blocking until one is free or ctx expires.
func (r *httpResource) Checkout(ctx context.Context) (Unit, error) {
	select {
	case <-r.closed:
		return nil, errResourceClosed
	default:
	}

	select {
	case s := <-r.sessions:
		return s, nil
	case <-r.closed:
		return nil, errResourceClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Checkin returns a session to the free list. Sessions checked in after
// Close are dropped.
func (r *httpResource) Checkin(unit Unit) error {
	s, ok := unit.(*Session)
	if !ok {
		return fmt.Errorf("checkin: unexpected unit type %T", unit)
	}
	select {
	case <-r.closed:
		s.client.CloseIdleConnections()
		return nil
	default:
	}
	select {
	case r.sessions <- s:
		return nil
	default:
		// More checkins than checkouts; drop rather than block.
		return fmt.Errorf("checkin: free list full")
	}
}

// Healthcheck issues a HEAD against the base URL with a dedicated client so
// it never consumes a leased session.
func (r *httpResource) Healthcheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.base.String(), nil)
	if err != nil {
		return false
	}
	resp, err := r.probe.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Close marks the resource closed and drops idle connections. Safe to call
// more than once.
func (r *httpResource) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
		for _, s := range r.all {
			s.client.CloseIdleConnections()
		}
		r.probe.CloseIdleConnections()
	})
	return nil
}

var _ Resource = (*httpResource)(nil)
