// Package txnctl specifies the contract this engine needs from the
// transaction manager: pulse-duration row locks for the Unique variant's
// vacuum (§4.8, §5). The transaction manager itself — timestamps, lock
// names, lock modes, deadlock detection — is out of scope; this package
// only names the one operation the engine calls.
package txnctl

import "time"

// LockMode selects the mode a lock is requested in.
type LockMode int

const (
	// Shared allows other Shared holders but excludes Exclusive.
	Shared LockMode = iota
	// Exclusive excludes every other holder.
	Exclusive
)

// Pulse is the lock duration the Unique variant's vacuum uses: the
// minimum time needed to observe whether a row's owning transaction
// still holds a claim on it (GLOSSARY: "Pulse lock").
const Pulse = time.Duration(0)

// LockManager is the row-lock facility the transaction manager exposes.
type LockManager interface {
	// Lock attempts to acquire mode on name for duration. A duration of
	// Pulse must not block beyond the minimal check needed to report
	// whether the lock is currently free; it returns immediately either
	// way (§4.8: "explicitly non-waiting").
	Lock(name string, mode LockMode, duration time.Duration) (acquired bool, err error)

	// Unlock releases a lock previously acquired by Lock on the calling
	// goroutine's behalf. Pulse-duration locks release themselves and
	// Unlock on them is a no-op.
	Unlock(name string, mode LockMode) error
}
