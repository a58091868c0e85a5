package orchestrator

import (
	"context"

	"github.com/dwarvesf/escrow-backend/internal/builder"
	"github.com/dwarvesf/escrow-backend/internal/model"
)

// IOrchestrator drives the build, sign and submit steps of lock and unlock.
type IOrchestrator interface {
	// BuildLock records the built transaction as AWAITING_LOCK_SIGNATURE.
	BuildLock(ctx context.Context, req LockRequest) (*builder.UnsignedTx, error)
	// BuildUnlock places an unlock hold on a CONFIRMED transaction.
	BuildUnlock(ctx context.Context, req UnlockRequest) (*builder.UnsignedTx, error)
	// CancelUnlock releases the unlock hold after the wallet declined to sign.
	CancelUnlock(ctx context.Context, txHash string) (*model.Transaction, error)
	Submit(ctx context.Context, req SubmitRequest) (string, error)

	// Lock and Unlock run a whole flow with a server side signer.
	Lock(ctx context.Context, req LockRequest, signer Signer) (string, error)
	Unlock(ctx context.Context, req UnlockRequest, signer Signer) (string, error)

	// ReleaseStaleUnlockHolds releases holds older than the configured TTL and returns how many were released.
	ReleaseStaleUnlockHolds(ctx context.Context) (int, error)
}

// Signer produces a witness for an unsigned transaction.
type Signer interface {
	Sign(ctx context.Context, unsigned *builder.UnsignedTx) (string, error)
}

type SignerFunc func(ctx context.Context, unsigned *builder.UnsignedTx) (string, error)

func (f SignerFunc) Sign(ctx context.Context, unsigned *builder.UnsignedTx) (string, error) {
	return f(ctx, unsigned)
}

type MetricsRecorder interface {
	RecordLifecycleOperation(operationType, status string, duration float64)
}
