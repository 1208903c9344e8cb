package ledger

import "errors"

var (
	// ErrLedgerUnavailable means the ledger RPC endpoint could not be
	// reached at all. Synchronization passes fail outright on it; nothing
	// partial is returned.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrNoSigner means a mutation was attempted without an authenticated
	// signing identity. No RPC call is made.
	ErrNoSigner = errors.New("no signer configured")

	// ErrTxRejected covers declines and failures before the transaction
	// was ever signed or accepted for inclusion.
	ErrTxRejected = errors.New("transaction rejected")

	// ErrTxReverted means the ledger accepted the transaction and then
	// rejected the state change (receipt status 0). Distinct from
	// ErrTxRejected so callers can message it precisely.
	ErrTxReverted = errors.New("transaction reverted")

	// ErrSubmissionFailed is a network/RPC failure before inclusion.
	ErrSubmissionFailed = errors.New("transaction submission failed")
)
