package sso

import (
	"context"
	"time"
)

// shieldTimeout bounds an uninterruptible section so a hung issuer can not
// pin goroutines forever.
const shieldTimeout = 30 * time.Second

// Shielded runs fn in an uninterruptible section: fn receives a context that
// ignores the caller's cancellation, so an issuer call and its paired cache
// mutation run to completion even when the client connection drops midway.
// Values (request id, identity) still flow through. The section gets its own
// deadline instead of the caller's.
func Shielded(ctx context.Context, fn func(ctx context.Context) error) error {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), shieldTimeout)
	defer cancel()
	return fn(detached)
}
