package reconciler

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/dwarvesf/escrow-backend/internal/model"
	"github.com/dwarvesf/escrow-backend/internal/store"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
)

type reconciler struct {
	db      *gorm.DB
	store   *store.Store
	logger  *logger.Logger
	metrics MetricsRecorder
	clock   func() time.Time
}

type Option func(*reconciler)

func WithClock(clock func() time.Time) Option {
	return func(r *reconciler) {
		r.clock = clock
	}
}

func WithMetrics(metrics MetricsRecorder) Option {
	return func(r *reconciler) {
		r.metrics = metrics
	}
}

func New(db *gorm.DB, s *store.Store, logger *logger.Logger, opts ...Option) IReconciler {
	r := &reconciler{
		db:     db,
		store:  s,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *reconciler) Apply(ctx context.Context, txHash string, proposed model.TransactionStatus) (*Result, error) {
	start := time.Now()
	if txHash == "" {
		return nil, &model.ValidationError{Field: "txHash", Reason: "required"}
	}
	if !proposed.IsValid() {
		return nil, &model.ValidationError{Field: "status", Reason: "unknown status " + string(proposed)}
	}

	var result *Result
	err := store.DoInTx(ctx, r.db, func(tx *gorm.DB) error {
		current, err := r.store.Transaction.GetByHashForUpdate(tx, txHash)
		if err != nil {
			return err
		}

		result, err = r.advance(tx, current, proposed)
		return err
	})
	if err != nil {
		r.record("apply", "", start, err)
		if errors.Is(err, model.ErrUnknownTransaction) {
			return nil, err
		}
		r.logger.Error("[Reconciler][Apply]", map[string]string{
			"tx_hash":  txHash,
			"proposed": proposed.String(),
			"error":    err.Error(),
		})
		return nil, &model.StorageError{Op: "apply status", Err: err}
	}

	r.record("apply", result.Outcome, start, nil)
	return result, nil
}

func (r *reconciler) Observe(ctx context.Context, obs Observation) (*Result, error) {
	start := time.Now()
	if err := validateObservation(obs); err != nil {
		return nil, err
	}

	var result *Result
	err := store.DoInTx(ctx, r.db, func(tx *gorm.DB) error {
		now := r.now()
		if err := r.store.Wallet.Upsert(tx, obs.Wallet, now); err != nil {
			return errors.Wrap(err, "upsert wallet")
		}

		t := &model.Transaction{
			TxHash:    obs.TxHash,
			Wallet:    obs.Wallet,
			Amount:    obs.Amount,
			Status:    obs.Status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		created, err := r.store.Transaction.CreateIfAbsent(tx, t)
		if err != nil {
			return errors.Wrap(err, "create transaction")
		}
		if created {
			result = &Result{Transaction: t, Outcome: OutcomeCreated}
			return nil
		}

		current, err := r.store.Transaction.GetByHashForUpdate(tx, obs.TxHash)
		if err != nil {
			return err
		}

		result, err = r.advance(tx, current, obs.Status)
		if err != nil {
			return err
		}

		if current.Wallet != obs.Wallet || current.Amount != obs.Amount {
			result.Mismatch = true
			r.logger.Warn("[Reconciler][Observe] observation disagrees with stored record", map[string]string{
				"tx_hash":         obs.TxHash,
				"stored_wallet":   current.Wallet,
				"observed_wallet": obs.Wallet,
				"stored_amount":   strconv.FormatInt(current.Amount, 10),
				"observed_amount": strconv.FormatInt(obs.Amount, 10),
			})
		}
		return nil
	})
	if err != nil {
		r.record("observe", "", start, err)
		r.logger.Error("[Reconciler][Observe]", map[string]string{
			"tx_hash": obs.TxHash,
			"error":   err.Error(),
		})
		return nil, &model.StorageError{Op: "observe transaction", Err: err}
	}

	r.record("observe", result.Outcome, start, nil)
	return result, nil
}

func (r *reconciler) ReleaseHold(ctx context.Context, txHash string) (*Result, error) {
	start := time.Now()

	var result *Result
	err := store.DoInTx(ctx, r.db, func(tx *gorm.DB) error {
		current, err := r.store.Transaction.GetByHashForUpdate(tx, txHash)
		if err != nil {
			return err
		}
		if current.Status != model.StatusAwaitingUnlockSignature {
			return model.ErrHoldNotActive
		}

		now := r.now()
		released, err := r.store.Transaction.ReleaseHold(tx, txHash, now)
		if err != nil {
			return err
		}
		if !released {
			return model.ErrHoldNotActive
		}

		current.Status = model.StatusConfirmed
		current.StatusRank = model.StatusConfirmed.Rank()
		current.UpdatedAt = now
		result = &Result{Transaction: current, Outcome: OutcomeReleased}
		return nil
	})
	if err != nil {
		r.record("release_hold", "", start, err)
		if errors.Is(err, model.ErrUnknownTransaction) || errors.Is(err, model.ErrHoldNotActive) {
			return nil, err
		}
		return nil, &model.StorageError{Op: "release hold", Err: err}
	}

	r.logger.Info("[Reconciler][ReleaseHold] unlock hold released", map[string]string{
		"tx_hash": txHash,
	})
	r.record("release_hold", result.Outcome, start, nil)
	return result, nil
}

func (r *reconciler) GetByHash(ctx context.Context, txHash string) (*model.Transaction, error) {
	t, err := r.store.Transaction.GetByHash(r.db.WithContext(ctx), txHash)
	if err != nil {
		if errors.Is(err, model.ErrUnknownTransaction) {
			return nil, err
		}
		return nil, &model.StorageError{Op: "get by hash", Err: err}
	}
	return t, nil
}

func (r *reconciler) GetByWallet(ctx context.Context, wallet string) ([]model.Transaction, error) {
	if wallet == "" {
		return nil, &model.ValidationError{Field: "wallet", Reason: "required"}
	}
	txs, err := r.store.Transaction.ListByWallet(r.db.WithContext(ctx), wallet)
	if err != nil {
		return nil, &model.StorageError{Op: "get by wallet", Err: err}
	}
	return txs, nil
}

func (r *reconciler) ListHeldBefore(ctx context.Context, before time.Time) ([]model.Transaction, error) {
	txs, err := r.store.Transaction.ListHeldBefore(r.db.WithContext(ctx), before)
	if err != nil {
		return nil, &model.StorageError{Op: "list held", Err: err}
	}
	return txs, nil
}

func (r *reconciler) CountByStatus(ctx context.Context) (map[model.TransactionStatus]int64, error) {
	counts, err := r.store.Transaction.CountByStatus(r.db.WithContext(ctx))
	if err != nil {
		return nil, &model.StorageError{Op: "count by status", Err: err}
	}
	return counts, nil
}

// advance must run inside the transaction that locked current.
func (r *reconciler) advance(tx *gorm.DB, current *model.Transaction, proposed model.TransactionStatus) (*Result, error) {
	if proposed.Rank() <= current.StatusRank {
		return &Result{Transaction: current, Outcome: OutcomeUnchanged}, nil
	}

	now := r.now()
	advanced, err := r.store.Transaction.AdvanceStatus(tx, current.TxHash, proposed, now)
	if err != nil {
		return nil, err
	}
	if !advanced {
		latest, err := r.store.Transaction.GetByHash(tx, current.TxHash)
		if err != nil {
			return nil, err
		}
		return &Result{Transaction: latest, Outcome: OutcomeUnchanged}, nil
	}

	current.Status = proposed
	current.StatusRank = proposed.Rank()
	current.UpdatedAt = now
	return &Result{Transaction: current, Outcome: OutcomeAdvanced}, nil
}

func (r *reconciler) now() time.Time {
	return r.clock().UTC().Truncate(time.Microsecond)
}

func (r *reconciler) record(operation string, outcome Outcome, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	label := string(outcome)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrUnknownTransaction):
		label = "unknown"
	case errors.Is(err, model.ErrHoldNotActive):
		label = "not_held"
	default:
		label = "error"
	}
	r.metrics.RecordReconcileOutcome(operation, label, time.Since(start).Seconds())
}

func validateObservation(obs Observation) error {
	switch {
	case obs.TxHash == "":
		return &model.ValidationError{Field: "txHash", Reason: "required"}
	case obs.Wallet == "":
		return &model.ValidationError{Field: "wallet", Reason: "required"}
	case obs.Amount <= 0:
		return &model.ValidationError{Field: "amount", Reason: "must be positive"}
	case !obs.Status.IsValid():
		return &model.ValidationError{Field: "status", Reason: "unknown status " + string(obs.Status)}
	}
	return nil
}
