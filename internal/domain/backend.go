package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// BackendType identifies the downstream backend a tenant connects to.
type BackendType string

const (
	BackendMySQL    BackendType = "mysql"
	BackendPostgres BackendType = "postgres"
	BackendHTTP     BackendType = "http"
)

// MySQLConfig holds connection settings for a MySQL backend.
type MySQLConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// PostgresConfig holds connection settings for a Postgres backend.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode,omitempty"` // disable, require, verify-full
}

// HTTPConfig holds connection settings for an HTTP API backend.
type HTTPConfig struct {
	BaseURL     string            `json:"base_url"`
	AuthHeader  string            `json:"auth_header,omitempty"`  // e.g. "Authorization"
	AuthToken   string            `json:"auth_token,omitempty"`   // header value
	Headers     map[string]string `json:"headers,omitempty"`      // extra static headers
	MaxSessions int               `json:"max_sessions,omitempty"` // session pool size
}

// BackendConfig is the tagged variant describing one tenant's backend.
// Exactly one of the typed fields must be set, matching Type.
// Records are validated once at the store boundary; everything past that
// boundary may assume a well-formed value.
type BackendConfig struct {
	Type     BackendType     `json:"type"`
	MySQL    *MySQLConfig    `json:"mysql,omitempty"`
	Postgres *PostgresConfig `json:"postgres,omitempty"`
	HTTP     *HTTPConfig     `json:"http,omitempty"`
}

// Validate checks that the config is well-formed: exactly one variant set,
// matching the discriminator, with required fields present.
func (c *BackendConfig) Validate() error {
	set := 0
	if c.MySQL != nil {
		set++
	}
	if c.Postgres != nil {
		set++
	}
	if c.HTTP != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one backend variant must be set, got %d", ErrInvalidConfig, set)
	}

	switch c.Type {
	case BackendMySQL:
		if c.MySQL == nil {
			return fmt.Errorf("%w: type is %q but mysql config is missing", ErrInvalidConfig, c.Type)
		}
		return c.MySQL.validate()
	case BackendPostgres:
		if c.Postgres == nil {
			return fmt.Errorf("%w: type is %q but postgres config is missing", ErrInvalidConfig, c.Type)
		}
		return c.Postgres.validate()
	case BackendHTTP:
		if c.HTTP == nil {
			return fmt.Errorf("%w: type is %q but http config is missing", ErrInvalidConfig, c.Type)
		}
		return c.HTTP.validate()
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedBackend, c.Type)
	}
}

func (c *MySQLConfig) validate() error {
	if c.Host == "" || c.Database == "" || c.User == "" {
		return fmt.Errorf("%w: mysql requires host, database and user", ErrInvalidConfig)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: mysql port %d out of range", ErrInvalidConfig, c.Port)
	}
	return nil
}

func (c *PostgresConfig) validate() error {
	if c.Host == "" || c.Database == "" || c.User == "" {
		return fmt.Errorf("%w: postgres requires host, database and user", ErrInvalidConfig)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: postgres port %d out of range", ErrInvalidConfig, c.Port)
	}
	switch c.SSLMode {
	case "", "disable", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: unknown ssl_mode %q", ErrInvalidConfig, c.SSLMode)
	}
	return nil
}

func (c *HTTPConfig) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: http requires base_url", ErrInvalidConfig)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base_url %q is not a valid http(s) URL", ErrInvalidConfig, c.BaseURL)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("%w: max_sessions must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Fingerprint returns the normalized identity fields for target key derivation,
// in a fixed order. Fields that don't affect connection identity (extra headers,
// pool sizing) are deliberately excluded.
func (c *BackendConfig) Fingerprint() []string {
	switch c.Type {
	case BackendMySQL:
		m := c.MySQL
		return []string{string(c.Type), strings.ToLower(m.Host), fmt.Sprint(m.Port), m.Database, m.User, m.Password}
	case BackendPostgres:
		p := c.Postgres
		return []string{string(c.Type), strings.ToLower(p.Host), fmt.Sprint(p.Port), p.Database, p.User, p.Password, p.SSLMode}
	case BackendHTTP:
		h := c.HTTP
		return []string{string(c.Type), strings.TrimRight(h.BaseURL, "/"), h.AuthHeader, h.AuthToken}
	default:
		return []string{string(c.Type)}
	}
}
