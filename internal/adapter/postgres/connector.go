// Package postgres dials physical PostgreSQL connections for tenant pools.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/PoolGate/internal/port/dbconn"
	"github.com/Strob0t/PoolGate/internal/resilience"
	"github.com/Strob0t/PoolGate/internal/secrets"
)

// Connector implements dbconn.Connector using pgx. Credentials are resolved
// from the vault at dial time and never stored on the data source. Every
// dial goes through the circuit breaker so an unreachable server fails fast
// instead of stalling acquires behind slow dials.
type Connector struct {
	vault   *secrets.Vault
	breaker *resilience.Breaker
	log     *slog.Logger
}

// NewConnector creates a pgx-backed Connector.
func NewConnector(vault *secrets.Vault, breaker *resilience.Breaker, log *slog.Logger) *Connector {
	return &Connector{
		vault:   vault,
		breaker: breaker,
		log:     log,
	}
}

// Connect dials the data source and pins the connection to its schema.
// The returned *pgx.Conn satisfies dbconn.Conn directly.
func (c *Connector) Connect(ctx context.Context, ds dbconn.DataSource) (dbconn.Conn, error) {
	password, err := c.resolveCredential(ds.CredentialRef)
	if err != nil {
		return nil, err
	}

	dsn := buildDSN(ds, password)

	var conn *pgx.Conn
	dialErr := c.breaker.Execute(func() error {
		var err error
		conn, err = pgx.Connect(ctx, dsn)
		return err
	})
	if dialErr != nil {
		if errors.Is(dialErr, resilience.ErrCircuitOpen) {
			return nil, dialErr
		}
		// pgx errors may quote the DSN; scrub the password before wrapping.
		return nil, fmt.Errorf("dial %s/%s: %s", ds.Host, ds.Database, c.vault.RedactString(dialErr.Error()))
	}

	if ds.Schema != "" {
		stmt := "SET search_path TO " + pgx.Identifier{ds.Schema}.Sanitize()
		if _, err := conn.Exec(ctx, stmt); err != nil {
			_ = conn.Close(ctx)
			return nil, fmt.Errorf("set search_path %s: %w", ds.Schema, err)
		}
	}

	c.log.Debug("dialed connection",
		"host", ds.Host,
		"database", ds.Database,
		"schema", ds.Schema,
	)
	return conn, nil
}

// resolveCredential looks up the vault key, reloading once on a miss so
// credentials rotated after startup are picked up without a restart.
func (c *Connector) resolveCredential(ref string) (string, error) {
	if ref == "" {
		return "", errors.New("data source has no credential_ref")
	}
	if v := c.vault.Get(ref); v != "" {
		return v, nil
	}
	if err := c.vault.Reload(); err != nil {
		return "", fmt.Errorf("credential %q not loaded: %w", ref, err)
	}
	if v := c.vault.Get(ref); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("credential %q not found in vault", ref)
}

// buildDSN assembles a postgres URL from the data source and password.
func buildDSN(ds dbconn.DataSource, password string) string {
	port := ds.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(ds.User, password),
		Host:   net.JoinHostPort(ds.Host, strconv.Itoa(port)),
		Path:   "/" + ds.Database,
	}
	return u.String()
}
