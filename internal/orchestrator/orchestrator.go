package orchestrator

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/dwarvesf/escrow-backend/internal/builder"
	"github.com/dwarvesf/escrow-backend/internal/consts"
	"github.com/dwarvesf/escrow-backend/internal/model"
	"github.com/dwarvesf/escrow-backend/internal/reconciler"
	"github.com/dwarvesf/escrow-backend/internal/utils/address"
	"github.com/dwarvesf/escrow-backend/internal/utils/config"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
)

type orchestrator struct {
	reconciler      reconciler.IReconciler
	builder         builder.IBuilder
	logger          *logger.Logger
	validate        *validator.Validate
	metrics         MetricsRecorder
	clock           func() time.Time
	scriptValidator string
	holdTTL         time.Duration
}

type Option func(*orchestrator)

func WithClock(clock func() time.Time) Option {
	return func(o *orchestrator) {
		o.clock = clock
	}
}

func WithMetrics(metrics MetricsRecorder) Option {
	return func(o *orchestrator) {
		o.metrics = metrics
	}
}

func New(appConfig *config.AppConfig, rec reconciler.IReconciler, b builder.IBuilder, logger *logger.Logger, opts ...Option) IOrchestrator {
	holdTTL := appConfig.Escrow.UnlockHoldTTL
	if holdTTL <= 0 {
		holdTTL = consts.DefaultUnlockHoldTTL
	}

	o := &orchestrator{
		reconciler:      rec,
		builder:         b,
		logger:          logger,
		validate:        address.NewValidator(),
		clock:           time.Now,
		scriptValidator: appConfig.Escrow.ScriptValidator,
		holdTTL:         holdTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *orchestrator) BuildLock(ctx context.Context, req LockRequest) (*builder.UnsignedTx, error) {
	start := time.Now()
	if err := o.validateRequest(req); err != nil {
		return nil, err
	}

	unsigned, err := o.builder.BuildLock(ctx, builder.LockParams{
		ChangeAddress:   req.ChangeAddress,
		Amount:          req.Amount,
		OwnerKeyHash:    req.OwnerKeyHash,
		Message:         req.Message,
		ScriptValidator: o.scriptValidator,
	})
	if err != nil {
		o.logger.Error("[BuildLock][builder.BuildLock]", map[string]string{
			"change_address": req.ChangeAddress,
			"amount":         strconv.FormatInt(req.Amount, 10),
			"error":          err.Error(),
		})
		o.record("build_lock", start, err)
		return nil, asUpstream("build lock", err)
	}
	if !address.IsTxHash(unsigned.TxHash) || unsigned.Complete == "" {
		err := &model.UpstreamError{Op: "build lock", Err: errors.Errorf("builder returned unusable transaction %q", unsigned.TxHash)}
		o.record("build_lock", start, err)
		return nil, err
	}
	unsigned.TxHash = strings.ToLower(unsigned.TxHash)

	_, err = o.reconciler.Observe(ctx, reconciler.Observation{
		TxHash: unsigned.TxHash,
		Wallet: req.ChangeAddress,
		Amount: req.Amount,
		Status: model.StatusAwaitingLockSignature,
	})
	if err != nil {
		o.logger.Error("[BuildLock][reconciler.Observe]", map[string]string{
			"tx_hash": unsigned.TxHash,
			"error":   err.Error(),
		})
		o.record("build_lock", start, err)
		return nil, err
	}

	o.record("build_lock", start, nil)
	return unsigned, nil
}

func (o *orchestrator) BuildUnlock(ctx context.Context, req UnlockRequest) (*builder.UnsignedTx, error) {
	start := time.Now()
	if err := o.validateRequest(req); err != nil {
		return nil, err
	}
	req.TxHash = strings.ToLower(req.TxHash)

	current, err := o.reconciler.GetByHash(ctx, req.TxHash)
	if err != nil {
		o.record("build_unlock", start, err)
		return nil, err
	}
	if current.Status != model.StatusConfirmed && current.Status != model.StatusAwaitingUnlockSignature {
		return nil, &model.ValidationError{Field: "txHash", Reason: "transaction is " + current.Status.String() + ", expected CONFIRMED"}
	}
	if current.Amount != req.Amount {
		return nil, &model.ValidationError{Field: "amount", Reason: "does not match the locked amount"}
	}

	unsigned, err := o.builder.BuildUnlock(ctx, builder.UnlockParams{
		TxHash:          req.TxHash,
		ChangeAddress:   req.ChangeAddress,
		OwnerKeyHash:    req.OwnerKeyHash,
		Amount:          req.Amount,
		Redeemer:        consts.UnlockRedeemer,
		ScriptValidator: o.scriptValidator,
	})
	if err != nil {
		o.logger.Error("[BuildUnlock][builder.BuildUnlock]", map[string]string{
			"tx_hash": req.TxHash,
			"error":   err.Error(),
		})
		o.record("build_unlock", start, err)
		return nil, asUpstream("build unlock", err)
	}
	if unsigned.Complete == "" {
		err := &model.UpstreamError{Op: "build unlock", Err: errors.New("builder returned an empty transaction")}
		o.record("build_unlock", start, err)
		return nil, err
	}

	result, err := o.reconciler.Apply(ctx, req.TxHash, model.StatusAwaitingUnlockSignature)
	if err != nil {
		o.record("build_unlock", start, err)
		return nil, err
	}
	// a concurrent unlock may have finished between the read and the hold
	if result.Transaction.Status != model.StatusAwaitingUnlockSignature {
		return nil, &model.ValidationError{Field: "txHash", Reason: "transaction is " + result.Transaction.Status.String()}
	}

	o.record("build_unlock", start, nil)
	return unsigned, nil
}

func (o *orchestrator) CancelUnlock(ctx context.Context, txHash string) (*model.Transaction, error) {
	if err := o.validateRequest(CancelUnlockRequest{TxHash: txHash}); err != nil {
		return nil, err
	}

	result, err := o.reconciler.ReleaseHold(ctx, strings.ToLower(txHash))
	if err != nil {
		return nil, err
	}
	return result.Transaction, nil
}

func (o *orchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	start := time.Now()
	operation := "submit_" + strings.ToLower(string(req.Type))
	if err := o.validateRequest(req); err != nil {
		return "", err
	}
	if req.OriginalTxHash != "" && !address.IsTxHash(req.OriginalTxHash) {
		return "", &model.ValidationError{Field: "originalTxHash", Reason: "failed txhash"}
	}
	// hashes are stored lower-case; callers may echo them in either case
	req.OriginalTxHash = strings.ToLower(req.OriginalTxHash)

	txHash, err := o.builder.Submit(ctx, builder.SignedTx{
		Complete:  req.Complete,
		Signature: req.Signature,
	})
	if err == nil && txHash == "" {
		err = &model.UpstreamError{Op: "submit", Err: errors.New("submitter returned no hash")}
	}
	if err != nil {
		o.logger.Error("[Submit][builder.Submit]", map[string]string{
			"type":             string(req.Type),
			"original_tx_hash": req.OriginalTxHash,
			"error":            err.Error(),
		})
		if req.Type == SubmitUnlock {
			o.releaseAfterFailure(ctx, req.OriginalTxHash)
		}
		o.record(operation, start, err)
		return "", asUpstream("submit", err)
	}

	switch req.Type {
	case SubmitLock:
		err = o.propose(ctx, strings.ToLower(txHash), model.StatusPending)
	case SubmitUnlock:
		err = o.propose(ctx, req.OriginalTxHash, model.StatusUnlocked)
	}
	if err != nil {
		o.record(operation, start, err)
		return txHash, err
	}

	o.logger.Info("[Submit] transaction submitted", map[string]string{
		"type":             string(req.Type),
		"tx_hash":          txHash,
		"original_tx_hash": req.OriginalTxHash,
	})
	o.record(operation, start, nil)
	return txHash, nil
}

func (o *orchestrator) Lock(ctx context.Context, req LockRequest, signer Signer) (string, error) {
	unsigned, err := o.BuildLock(ctx, req)
	if err != nil {
		return "", err
	}

	signature, err := signer.Sign(ctx, unsigned)
	if err != nil {
		o.logger.Error("[Lock][signer.Sign]", map[string]string{
			"tx_hash": unsigned.TxHash,
			"error":   err.Error(),
		})
		return "", &model.UpstreamError{Op: "sign lock", Err: err}
	}

	return o.Submit(ctx, SubmitRequest{
		Complete:  unsigned.Complete,
		Signature: signature,
		Type:      SubmitLock,
	})
}

func (o *orchestrator) Unlock(ctx context.Context, req UnlockRequest, signer Signer) (string, error) {
	unsigned, err := o.BuildUnlock(ctx, req)
	if err != nil {
		return "", err
	}

	signature, err := signer.Sign(ctx, unsigned)
	if err != nil {
		o.logger.Error("[Unlock][signer.Sign]", map[string]string{
			"tx_hash": req.TxHash,
			"error":   err.Error(),
		})
		o.releaseAfterFailure(ctx, strings.ToLower(req.TxHash))
		return "", &model.UpstreamError{Op: "sign unlock", Err: err}
	}

	return o.Submit(ctx, SubmitRequest{
		Complete:       unsigned.Complete,
		Signature:      signature,
		Type:           SubmitUnlock,
		OriginalTxHash: req.TxHash,
	})
}

func (o *orchestrator) ReleaseStaleUnlockHolds(ctx context.Context) (int, error) {
	cutoff := o.clock().UTC().Add(-o.holdTTL)
	held, err := o.reconciler.ListHeldBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, t := range held {
		if _, err := o.reconciler.ReleaseHold(ctx, t.TxHash); err != nil {
			if errors.Is(err, model.ErrHoldNotActive) {
				continue
			}
			return released, err
		}
		released++
	}

	if released > 0 {
		o.logger.Info("[ReleaseStaleUnlockHolds] released expired unlock holds", map[string]string{
			"released": strconv.Itoa(released),
			"cutoff":   cutoff.Format(time.RFC3339),
		})
	}
	return released, nil
}

// propose logs an unknown hash instead of failing: the ledger accepted the transaction and the indexer will report it.
func (o *orchestrator) propose(ctx context.Context, txHash string, status model.TransactionStatus) error {
	_, err := o.reconciler.Apply(ctx, txHash, status)
	if errors.Is(err, model.ErrUnknownTransaction) {
		o.logger.Warn("[Submit][reconciler.Apply] submitted transaction has no record", map[string]string{
			"tx_hash": txHash,
			"status":  status.String(),
		})
		return nil
	}
	return err
}

func (o *orchestrator) releaseAfterFailure(ctx context.Context, txHash string) {
	if txHash == "" {
		return
	}
	if _, err := o.reconciler.ReleaseHold(ctx, txHash); err != nil && !errors.Is(err, model.ErrHoldNotActive) {
		o.logger.Error("[releaseAfterFailure][reconciler.ReleaseHold]", map[string]string{
			"tx_hash": txHash,
			"error":   err.Error(),
		})
	}
}

func (o *orchestrator) validateRequest(req interface{}) error {
	if err := o.validate.Struct(req); err != nil {
		field, reason := address.FirstError(err)
		return &model.ValidationError{Field: field, Reason: reason}
	}
	return nil
}

func (o *orchestrator) record(operation string, start time.Time, err error) {
	if o.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordLifecycleOperation(operation, status, time.Since(start).Seconds())
}

func asUpstream(op string, err error) error {
	if model.IsUpstream(err) {
		return err
	}
	return &model.UpstreamError{Op: op, Err: err}
}
