// Package ledger provides sentinel errors for ledger store operations.
// F.4 remediation: explicit errors instead of nil, nil returns.

package ledger

import "errors"

// Sentinel errors for ledger store operations. Callers distinguish these
// with errors.Is rather than inspecting error strings.
var (
	// ErrStoreUnavailable means the underlying connection could not serve
	// the request; retryable by the caller.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")

	// ErrTransactionConflict means a concurrent append lost a race for the
	// tail lock; retryable by the caller.
	ErrTransactionConflict = errors.New("ledger: transaction conflict")

	// ErrAppendOutOfOrder means an appended entry's prev_hash did not match
	// the table's current tail chain_hash (checked by AppendWithTxID). This
	// is an invariant violation and is fatal, never retried.
	ErrAppendOutOfOrder = errors.New("ledger: append produced an out-of-order tx_order")

	// ErrOpTypeUnknown means an entry or append request used something
	// other than INSERT/UPDATE/DELETE.
	ErrOpTypeUnknown = errors.New("ledger: unknown op_type")

	// ErrNoCheckpointYet means latest_checkpoint found no row for the
	// table.
	ErrNoCheckpointYet = errors.New("ledger: no checkpoint yet")

	// ErrEmptyTable means an operation that requires at least one ledger
	// entry found none.
	ErrEmptyTable = errors.New("ledger: table has no ledger entries")

	// ErrMissingPrimaryKey means a descriptor or row lacked a usable
	// primary key value.
	ErrMissingPrimaryKey = errors.New("ledger: missing primary key")

	// ErrTrackedColumnUnknown means a field requested for tracking is not
	// a column of the host table (raised by schema.Detect).
	ErrTrackedColumnUnknown = errors.New("ledger: tracked column unknown")
)
