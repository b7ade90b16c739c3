package pool

import (
	"time"

	"github.com/Strob0t/PoolGate/internal/port/dbconn"
)

// Lease is a temporary exclusive borrow of one physical connection.
// The pool retains ownership; the lease is only the borrow token.
type Lease struct {
	ID         string    `json:"lease_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	Deadline   time.Time `json:"deadline"`

	conn dbconn.Conn
}

// Conn returns the leased physical connection.
func (l *Lease) Conn() dbconn.Conn {
	return l.conn
}
