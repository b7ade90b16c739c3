package pool

import (
	"context"
	"time"

	"github.com/Strob0t/PoolGate/internal/port/dbconn"
)

// Prober reports whether a physical connection is still usable.
// Implementations must be cheap: a protocol ping, not a real query.
type Prober func(ctx context.Context, conn dbconn.Conn) bool

// PingProber returns a Prober that issues a protocol-level ping bounded by timeout.
func PingProber(timeout time.Duration) Prober {
	return func(ctx context.Context, conn dbconn.Conn) bool {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return conn.Ping(ctx) == nil
	}
}
