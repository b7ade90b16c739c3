// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested tenant pool or lease does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists indicates a pool has already been provisioned for the tenant.
var ErrAlreadyExists = errors.New("pool already exists")

// ErrProvisioningFailed indicates the upstream database was unreachable while
// seeding a pool. Retryable by the caller.
var ErrProvisioningFailed = errors.New("pool provisioning failed")

// ErrAcquireTimeout indicates the pool stayed exhausted for the caller's
// entire acquire deadline.
var ErrAcquireTimeout = errors.New("acquire timed out")

// ErrPoolClosed indicates the pool was deleted while the caller was using it
// or waiting on it.
var ErrPoolClosed = errors.New("pool closed")

// ErrAlreadyClosing indicates a concurrent delete is already draining the pool.
var ErrAlreadyClosing = errors.New("pool already closing")

// ErrLeaseNotFound indicates the lease ID is unknown to the pool.
var ErrLeaseNotFound = errors.New("lease not found")

// ErrAlreadyReleased indicates the lease was already returned to the pool.
var ErrAlreadyReleased = errors.New("lease already released")

// ErrValidation wraps request validation failures. Use with fmt.Errorf:
// fmt.Errorf("%w: min_size must be >= 0", ErrValidation).
var ErrValidation = errors.New("validation failed")
