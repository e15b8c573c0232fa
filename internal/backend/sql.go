package backend

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dhanababum/supermcp-sub001/internal/domain"
	"github.com/dhanababum/supermcp-sub001/pkg/logging"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// sqlResource is the pooled strategy for networked databases. The driver's
// own pool does the unit bookkeeping; Checkout leases one dedicated
// connection so a caller's session state never bleeds across tenants.
type sqlResource struct {
	db      *sql.DB
	backend string // "mysql" or "postgres", for logs

	closeOnce sync.Once
	closeErr  error
}

// newSQLResource opens and verifies a driver pool for the given config.
// On ping failure the pool is torn down before returning, so a failed
// creation leaves nothing behind.
func newSQLResource(ctx context.Context, cfg domain.BackendConfig, opts Options, logger *logging.Logger) (*sqlResource, error) {
	driver, dsn, err := buildDSN(cfg, opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnect, err)
	}

	db.SetMaxOpenConns(opts.PerTargetMax)
	db.SetMaxIdleConns(opts.PerTargetMax)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrConnect, err)
	}

	logger.Debug("Opened SQL backend pool", "driver", driver)

	return &sqlResource{db: db, backend: string(cfg.Type)}, nil
}

// buildDSN renders the driver name and DSN for a validated SQL config.
func buildDSN(cfg domain.BackendConfig, connectTimeout time.Duration) (driver, dsn string, err error) {
	switch cfg.Type {
	case domain.BackendMySQL:
		m := cfg.MySQL
		port := m.Port
		if port == 0 {
			port = 3306
		}
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=%s",
			m.User, m.Password, m.Host, port, m.Database, connectTimeout)
		return "mysql", dsn, nil

	case domain.BackendPostgres:
		p := cfg.Postgres
		port := p.Port
		if port == 0 {
			port = 5432
		}
		sslMode := p.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(p.User, p.Password),
			Host:   fmt.Sprintf("%s:%d", p.Host, port),
			Path:   "/" + p.Database,
		}
		q := u.Query()
		q.Set("sslmode", sslMode)
		q.Set("connect_timeout", fmt.Sprint(int(connectTimeout.Seconds())))
		u.RawQuery = q.Encode()
		return "pgx", u.String(), nil

	default:
		return "", "", domain.ErrUnsupportedBackend
	}
}

// Checkout leases a dedicated connection from the driver pool.
func (r *sqlResource) Checkout(ctx context.Context) (Unit, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkout %s connection: %w", r.backend, err)
	}
	return conn, nil
}

// Checkin returns a leased connection to the driver pool.
func (r *sqlResource) Checkin(unit Unit) error {
	conn, ok := unit.(*sql.Conn)
	if !ok {
		return fmt.Errorf("checkin: unexpected unit type %T", unit)
	}
	return conn.Close()
}

// Healthcheck pings the backend with the caller's deadline.
func (r *sqlResource) Healthcheck(ctx context.Context) bool {
	return r.db.PingContext(ctx) == nil
}

// Close tears down the driver pool. Outstanding connections are closed as
// they are returned. Safe to call more than once.
func (r *sqlResource) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.db.Close()
	})
	return r.closeErr
}

var _ Resource = (*sqlResource)(nil)
