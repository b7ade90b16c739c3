// Package dbconn defines the port (interface) for physical database connections.
package dbconn

import "context"

// DataSource describes where a tenant's physical connections are dialed.
// Credentials are referenced by vault key, never embedded.
type DataSource struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Database      string `json:"database"`
	Schema        string `json:"schema"`
	User          string `json:"user"`
	CredentialRef string `json:"credential_ref"`
}

// Conn is one physical database connection.
type Conn interface {
	// Ping performs a protocol-level round trip. Used as the liveness probe.
	Ping(ctx context.Context) error

	// Close tears down the physical connection.
	Close(ctx context.Context) error
}

// Connector dials new physical connections for a data source.
type Connector interface {
	Connect(ctx context.Context, ds DataSource) (Conn, error)
}
