package postgres

import (
	"context"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/PoolGate/internal/port/dbconn"
	"github.com/Strob0t/PoolGate/internal/resilience"
)

// testDataSource parses DATABASE_URL into a DataSource and password, or skips.
func testDataSource(t *testing.T) (dbconn.DataSource, string) {
	t.Helper()
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		t.Skip("requires DATABASE_URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse DATABASE_URL: %v", err)
	}
	port := 0
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	}
	password, _ := u.User.Password()
	return dbconn.DataSource{
		Host:          u.Hostname(),
		Port:          port,
		Database:      strings.TrimPrefix(u.Path, "/"),
		User:          u.User.Username(),
		CredentialRef: "TEST_DB",
	}, password
}

func TestConnectorIntegration(t *testing.T) {
	ds, password := testDataSource(t)

	c := NewConnector(
		testVault(t, map[string]string{"TEST_DB": password}),
		resilience.NewBreaker(3, time.Second),
		discardLogger(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := c.Connect(ctx, ds)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
