package pool

import (
	"time"

	"github.com/authzkit/fgapool/pkg/autherrors"
)

// The pool surfaces every failure through the shared autherrors taxonomy.
// These constructors cover the pool's distinct failure modes.

// errInitializationFailed reports a factory or configuration failure during
// eager warm-up. Fatal to pool construction.
func errInitializationFailed(cause error, reason string) *autherrors.Error {
	if cause != nil {
		return autherrors.Wrap(cause, autherrors.ErrorTypeConnection,
			"connection pool initialization failed: "+reason)
	}
	return autherrors.New(autherrors.ErrorTypeConnection,
		"connection pool initialization failed: "+reason)
}

// errTimeout reports that no connection became available within the
// admission window.
func errTimeout(timeout time.Duration) *autherrors.Error {
	return autherrors.Newf(autherrors.ErrorTypeTimeout,
		"Timeout waiting for available connection after %gs", timeout.Seconds()).
		WithDetail("timeout", timeout)
}

// errMaxConnectionsReached is the non-blocking "pool full" signal used by
// TryAcquire, distinct from the timeout path.
func errMaxConnectionsReached(max int) *autherrors.Error {
	return autherrors.Newf(autherrors.ErrorTypeExhausted,
		"maximum connections reached (%d)", max).
		WithDetail("max_connections", max)
}

// errPoolClosed reports use of a pool after Shutdown.
func errPoolClosed() *autherrors.Error {
	return autherrors.New(autherrors.ErrorTypeUnavailable, "connection pool is shut down")
}

// IsTimeout reports whether err is the pool's admission timeout.
func IsTimeout(err error) bool {
	return autherrors.IsType(err, autherrors.ErrorTypeTimeout)
}

// IsPoolFull reports whether err is the non-blocking pool-full signal.
func IsPoolFull(err error) bool {
	return autherrors.IsType(err, autherrors.ErrorTypeExhausted)
}

// IsPoolClosed reports whether err came from a pool that was already shut down.
func IsPoolClosed(err error) bool {
	return autherrors.IsType(err, autherrors.ErrorTypeUnavailable)
}
