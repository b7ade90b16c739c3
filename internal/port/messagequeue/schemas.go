package messagequeue

import "time"

// PoolCreatedPayload is the schema for pools.created messages.
type PoolCreatedPayload struct {
	TenantID  string    `json:"tenant_id"`
	Database  string    `json:"database"`
	MinSize   int       `json:"min_size"`
	MaxSize   int       `json:"max_size"`
	CreatedAt time.Time `json:"created_at"`
}

// PoolDeletedPayload is the schema for pools.deleted messages.
type PoolDeletedPayload struct {
	TenantID  string    `json:"tenant_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// PoolEvictedPayload is the schema for pools.evicted messages.
type PoolEvictedPayload struct {
	TenantID string        `json:"tenant_id"`
	IdleFor  time.Duration `json:"idle_for"`
}

// PoolDegradedPayload is the schema for pools.degraded messages.
type PoolDegradedPayload struct {
	TenantID string `json:"tenant_id"`
	Reason   string `json:"reason"`
}
