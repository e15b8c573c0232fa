// Package backend provides the per-backend resource strategies the pool
// registry hands out. Each strategy wraps one downstream connection pool
// (a SQL driver pool, a set of HTTP sessions) behind the same narrow
// capability interface.
package backend

import (
	"context"
	"time"

	"github.com/dhanababum/supermcp-sub001/internal/domain"
	"github.com/dhanababum/supermcp-sub001/pkg/logging"
)

// Unit is one leased unit of an underlying resource: a *sql.Conn for
// database backends, a *Session for HTTP backends. Callers treat it as
// opaque and hand it back via Checkin.
type Unit any

// Resource is the capability interface the registry manages. Implementations:
// sqlResource (mysql/postgres), httpResource.
type Resource interface {
	// Checkout leases one unit from the resource.
	Checkout(ctx context.Context) (Unit, error)

	// Checkin returns a previously leased unit.
	Checkin(unit Unit) error

	// Healthcheck reports whether the backend is reachable.
	Healthcheck(ctx context.Context) bool

	// Close releases the underlying resource. Idempotent.
	Close() error
}

// Factory builds resources for validated backend configurations.
type Factory interface {
	// Create builds the resource for cfg. It must not leave partial side
	// effects on failure: either a usable Resource is returned, or nothing
	// was committed anywhere.
	Create(ctx context.Context, cfg domain.BackendConfig) (Resource, error)
}

// Options configures resource construction across all strategies.
type Options struct {
	PerTargetMax   int           // Upper bound on concurrently leased units
	ConnectTimeout time.Duration // Dial + ping budget during Create
}

// DefaultOptions returns sensible defaults for development.
func DefaultOptions() Options {
	return Options{
		PerTargetMax:   10,
		ConnectTimeout: 10 * time.Second,
	}
}

type factory struct {
	opts   Options
	logger *logging.Logger
}

// NewFactory creates the strategy-dispatching factory. The strategy is
// selected by the backend-type discriminator in the configuration.
func NewFactory(opts Options, logger *logging.Logger) Factory {
	if opts.PerTargetMax <= 0 {
		opts.PerTargetMax = DefaultOptions().PerTargetMax
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultOptions().ConnectTimeout
	}
	return &factory{
		opts:   opts,
		logger: logger.With("component", "backend"),
	}
}

func (f *factory) Create(ctx context.Context, cfg domain.BackendConfig) (Resource, error) {
	switch cfg.Type {
	case domain.BackendMySQL, domain.BackendPostgres:
		return newSQLResource(ctx, cfg, f.opts, f.logger)
	case domain.BackendHTTP:
		return newHTTPResource(ctx, cfg.HTTP, f.opts, f.logger)
	default:
		return nil, domain.ErrUnsupportedBackend
	}
}
