package reconciler

import (
	"context"
	"time"

	"github.com/dwarvesf/escrow-backend/internal/model"
)

// IReconciler is the only writer of transaction status.
type IReconciler interface {
	// Apply proposes a status for a known transaction. Proposals that do not
	// outrank the stored status succeed without changing anything.
	Apply(ctx context.Context, txHash string, proposed model.TransactionStatus) (*Result, error)
	// Observe creates wallet and transaction when the hash is new, otherwise behaves like Apply.
	Observe(ctx context.Context, obs Observation) (*Result, error)
	// ReleaseHold returns an AWAITING_UNLOCK_SIGNATURE record to CONFIRMED.
	ReleaseHold(ctx context.Context, txHash string) (*Result, error)

	GetByHash(ctx context.Context, txHash string) (*model.Transaction, error)
	GetByWallet(ctx context.Context, wallet string) ([]model.Transaction, error)
	ListHeldBefore(ctx context.Context, before time.Time) ([]model.Transaction, error)
	CountByStatus(ctx context.Context) (map[model.TransactionStatus]int64, error)
}

// MetricsRecorder receives one call per reconciliation attempt.
type MetricsRecorder interface {
	RecordReconcileOutcome(operation, outcome string, duration float64)
}
