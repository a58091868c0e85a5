package ingestor

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/dwarvesf/escrow-backend/internal/consts"
	"github.com/dwarvesf/escrow-backend/internal/model"
	"github.com/dwarvesf/escrow-backend/internal/reconciler"
	"github.com/dwarvesf/escrow-backend/internal/utils/address"
	"github.com/dwarvesf/escrow-backend/internal/utils/config"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
)

const dedupCacheName = "webhook_dedup"

type ingestor struct {
	reconciler reconciler.IReconciler
	logger     *logger.Logger
	validate   *validator.Validate
	confirmed  *cache.Cache
	metrics    MetricsRecorder
	clock      func() time.Time

	secret    string
	enforce   bool
	tolerance time.Duration
}

type Option func(*ingestor)

func WithMetrics(metrics MetricsRecorder) Option {
	return func(i *ingestor) {
		i.metrics = metrics
	}
}

func WithClock(clock func() time.Time) Option {
	return func(i *ingestor) {
		i.clock = clock
	}
}

func New(appConfig *config.AppConfig, rec reconciler.IReconciler, logger *logger.Logger, opts ...Option) IIngestor {
	ttl := appConfig.Webhook.DedupTTL
	if ttl <= 0 {
		ttl = consts.DefaultDedupTTL
	}

	i := &ingestor{
		reconciler: rec,
		logger:     logger,
		validate:   address.NewValidator(),
		confirmed:  cache.New(ttl, 2*ttl),
		clock:      time.Now,
		secret:     appConfig.Webhook.Secret,
		enforce:    appConfig.Webhook.EnforceSignature,
		tolerance:  appConfig.Webhook.SignatureTolerance,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *ingestor) Authenticate(signatureHeader string, body []byte) error {
	if i.secret == "" && !i.enforce {
		return nil
	}

	err := VerifySignature(signatureHeader, body, i.secret, i.tolerance, i.clock())
	if err == nil {
		return nil
	}
	if !i.enforce {
		i.logger.Warn("[Ingestor][Authenticate] accepting delivery with bad signature", map[string]string{
			"error": err.Error(),
		})
		return nil
	}

	i.logger.Error("[Ingestor][Authenticate]", map[string]string{
		"error": err.Error(),
	})
	return err
}

func (i *ingestor) Ingest(ctx context.Context, body []byte) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		i.logger.Error("[Ingestor][Ingest][Unmarshal]", map[string]string{
			"error": err.Error(),
		})
		i.recordBatch("malformed", start)
		return summary, &model.MalformedEventError{Index: -1, Reason: "envelope: " + err.Error()}
	}

	summary.Received = len(envelope.Payload)
	for idx, raw := range envelope.Payload {
		outcome := i.ingestEvent(ctx, idx, raw)
		summary.add(outcome)
		if i.metrics != nil {
			i.metrics.RecordWebhookEvent(string(outcome))
		}
	}

	i.logger.Info("[Ingestor][Ingest] batch processed", map[string]string{
		"delivery_id": envelope.ID,
		"received":    strconv.Itoa(summary.Received),
		"applied":     strconv.Itoa(summary.Applied),
		"unchanged":   strconv.Itoa(summary.Unchanged),
		"duplicate":   strconv.Itoa(summary.Duplicate),
		"malformed":   strconv.Itoa(summary.Malformed),
		"failed":      strconv.Itoa(summary.Failed),
	})

	status := "success"
	if summary.Failed > 0 {
		status = "partial"
	}
	i.recordBatch(status, start)
	return summary, nil
}

func (i *ingestor) ingestEvent(ctx context.Context, idx int, raw json.RawMessage) EventOutcome {
	obs, err := i.parseEvent(idx, raw)
	if err != nil {
		i.logger.Warn("[Ingestor][ingestEvent] skipping malformed event", map[string]string{
			"index": strconv.Itoa(idx),
			"error": err.Error(),
		})
		return EventMalformed
	}

	if _, found := i.confirmed.Get(obs.TxHash); found {
		i.recordCache("hit")
		return EventDuplicate
	}
	i.recordCache("miss")

	result, err := i.reconciler.Observe(ctx, *obs)
	if err != nil {
		i.logger.Error("[Ingestor][ingestEvent][Observe]", map[string]string{
			"index":   strconv.Itoa(idx),
			"tx_hash": obs.TxHash,
			"error":   err.Error(),
		})
		return EventFailed
	}

	if result.Transaction.StatusRank >= model.StatusConfirmed.Rank() {
		i.confirmed.Set(obs.TxHash, struct{}{}, cache.DefaultExpiration)
	}
	if result.Changed() {
		return EventApplied
	}
	return EventUnchanged
}

// parseEvent takes the wallet from the first input and the amount from the lovelace entry of the first output.
func (i *ingestor) parseEvent(idx int, raw json.RawMessage) (*reconciler.Observation, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, &model.MalformedEventError{Index: idx, Reason: err.Error()}
	}
	if err := i.validate.Struct(event); err != nil {
		return nil, &model.MalformedEventError{Index: idx, Reason: err.Error()}
	}

	wallet := event.Inputs[0].Address
	if err := address.ValidateWalletAddress(wallet); err != nil {
		return nil, &model.MalformedEventError{Index: idx, Reason: "wallet: " + err.Error()}
	}

	var quantity string
	for _, amt := range event.Outputs[0].Amount {
		if amt.Unit == consts.LovelaceUnit {
			quantity = amt.Quantity
			break
		}
	}
	if quantity == "" {
		return nil, &model.MalformedEventError{Index: idx, Reason: "first output carries no lovelace"}
	}
	amount, err := model.ParseLovelace(quantity)
	if err != nil {
		return nil, &model.MalformedEventError{Index: idx, Reason: err.Error()}
	}

	return &reconciler.Observation{
		TxHash: strings.ToLower(event.Tx.Hash),
		Wallet: wallet,
		Amount: amount,
		Status: model.StatusConfirmed,
	}, nil
}

func (i *ingestor) recordBatch(status string, start time.Time) {
	if i.metrics != nil {
		i.metrics.RecordWebhookBatch(status, time.Since(start).Seconds())
	}
}

func (i *ingestor) recordCache(operation string) {
	if i.metrics != nil {
		i.metrics.RecordCacheOperation(dedupCacheName, operation)
	}
}

// IsInvalidSignature reports whether err came from a rejected signature.
func IsInvalidSignature(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}
