package builder

import "context"

// IBuilder builds unsigned escrow transactions and submits signed ones to the ledger.
type IBuilder interface {
	BuildLock(ctx context.Context, params LockParams) (*UnsignedTx, error)
	BuildUnlock(ctx context.Context, params UnlockParams) (*UnsignedTx, error)
	// Submit returns the ledger hash of the accepted transaction.
	Submit(ctx context.Context, signed SignedTx) (string, error)
	Ping(ctx context.Context) error
}
