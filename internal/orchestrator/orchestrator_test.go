package orchestrator_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"github.com/dwarvesf/escrow-backend/internal/builder"
	"github.com/dwarvesf/escrow-backend/internal/builder/buildertest"
	"github.com/dwarvesf/escrow-backend/internal/ingestor"
	"github.com/dwarvesf/escrow-backend/internal/model"
	"github.com/dwarvesf/escrow-backend/internal/orchestrator"
	"github.com/dwarvesf/escrow-backend/internal/reconciler"
	"github.com/dwarvesf/escrow-backend/internal/store"
	"github.com/dwarvesf/escrow-backend/internal/store/storetest"
	"github.com/dwarvesf/escrow-backend/internal/types/environments"
	"github.com/dwarvesf/escrow-backend/internal/utils/config"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
)

var (
	lockHash   = fmt.Sprintf("%064x", 1)
	unlockHash = fmt.Sprintf("%064x", 2)
	ownerKey   = strings.Repeat("ab", 28)
)

func walletAddress() string {
	addr, err := bech32.EncodeFromBase256("addr_test", append([]byte{0x60}, bytes.Repeat([]byte{0x42}, 28)...))
	Expect(err).NotTo(HaveOccurred())
	return addr
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx    context.Context
		rec    reconciler.IReconciler
		mb     *buildertest.MockBuilder
		o      orchestrator.IOrchestrator
		clk    *clock
		wallet string
	)

	status := func(hash string) model.TransactionStatus {
		t, err := rec.GetByHash(ctx, hash)
		Expect(err).NotTo(HaveOccurred())
		return t.Status
	}

	lockReq := func() orchestrator.LockRequest {
		return orchestrator.LockRequest{
			ChangeAddress: wallet,
			Amount:        5_000_000,
			OwnerKeyHash:  ownerKey,
			Message:       "hello",
		}
	}

	unlockReq := func() orchestrator.UnlockRequest {
		return orchestrator.UnlockRequest{
			TxHash:        lockHash,
			ChangeAddress: wallet,
			OwnerKeyHash:  ownerKey,
			Amount:        5_000_000,
		}
	}

	seed := func(s model.TransactionStatus) {
		_, err := rec.Observe(ctx, reconciler.Observation{TxHash: lockHash, Wallet: wallet, Amount: 5_000_000, Status: s})
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		wallet = walletAddress()
		clk = &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
		log := logger.New(environments.Test)

		db := storetest.NewDB(GinkgoT())
		rec = reconciler.New(db, store.New(), log, reconciler.WithClock(clk.Now))
		mb = &buildertest.MockBuilder{}
		cfg := &config.AppConfig{Escrow: config.EscrowConfig{ScriptValidator: "escrow.v1", UnlockHoldTTL: 10 * time.Minute}}
		o = orchestrator.New(cfg, rec, mb, log, orchestrator.WithClock(clk.Now))
	})

	Describe("BuildLock", func() {
		It("records the built transaction as AWAITING_LOCK_SIGNATURE", func() {
			mb.On("BuildLock", mock.Anything, builder.LockParams{
				ChangeAddress:   wallet,
				Amount:          5_000_000,
				OwnerKeyHash:    ownerKey,
				Message:         "hello",
				ScriptValidator: "escrow.v1",
			}).Return(&builder.UnsignedTx{TxHash: lockHash, Complete: "84a4"}, nil)

			unsigned, err := o.BuildLock(ctx, lockReq())
			Expect(err).NotTo(HaveOccurred())
			Expect(unsigned.TxHash).To(Equal(lockHash))
			Expect(status(lockHash)).To(Equal(model.StatusAwaitingLockSignature))
		})

		It("writes nothing when the builder fails", func() {
			mb.On("BuildLock", mock.Anything, mock.Anything).Return(nil, &model.UpstreamError{Op: "build lock", Err: errors.New("insufficient funds")})

			_, err := o.BuildLock(ctx, lockReq())
			Expect(model.IsUpstream(err)).To(BeTrue())

			txs, err := rec.GetByWallet(ctx, wallet)
			Expect(err).NotTo(HaveOccurred())
			Expect(txs).To(BeEmpty())
		})

		It("rejects an unusable builder response", func() {
			mb.On("BuildLock", mock.Anything, mock.Anything).Return(&builder.UnsignedTx{TxHash: "T1", Complete: "84"}, nil)

			_, err := o.BuildLock(ctx, lockReq())
			Expect(model.IsUpstream(err)).To(BeTrue())
		})

		DescribeTable("rejects invalid input before calling the builder",
			func(mutate func(*orchestrator.LockRequest), field string) {
				req := lockReq()
				mutate(&req)

				_, err := o.BuildLock(ctx, req)
				var verr *model.ValidationError
				Expect(errors.As(err, &verr)).To(BeTrue())
				Expect(verr.Field).To(Equal(field))
				mb.AssertNotCalled(GinkgoT(), "BuildLock", mock.Anything, mock.Anything)
			},
			Entry("zero amount", func(r *orchestrator.LockRequest) { r.Amount = 0 }, "amount"),
			Entry("negative amount", func(r *orchestrator.LockRequest) { r.Amount = -1 }, "amount"),
			Entry("bad address", func(r *orchestrator.LockRequest) { r.ChangeAddress = "W1" }, "changeAddress"),
			Entry("bad key hash", func(r *orchestrator.LockRequest) { r.OwnerKeyHash = "xyz" }, "ownerKeyHash"),
			Entry("long message", func(r *orchestrator.LockRequest) { r.Message = strings.Repeat("m", 65) }, "message"),
		)
	})

	Describe("Submit", func() {
		It("advances a submitted lock to PENDING", func() {
			seed(model.StatusAwaitingLockSignature)
			mb.On("Submit", mock.Anything, builder.SignedTx{Complete: "84a4", Signature: "a100"}).Return(lockHash, nil)

			hash, err := o.Submit(ctx, orchestrator.SubmitRequest{Complete: "84a4", Signature: "a100", Type: orchestrator.SubmitLock})
			Expect(err).NotTo(HaveOccurred())
			Expect(hash).To(Equal(lockHash))
			Expect(status(lockHash)).To(Equal(model.StatusPending))
		})

		It("leaves the lock untouched when submission fails", func() {
			seed(model.StatusAwaitingLockSignature)
			mb.On("Submit", mock.Anything, mock.Anything).Return("", errors.New("builder returned status 500"))

			_, err := o.Submit(ctx, orchestrator.SubmitRequest{Complete: "84a4", Signature: "a100", Type: orchestrator.SubmitLock})
			Expect(model.IsUpstream(err)).To(BeTrue())
			Expect(status(lockHash)).To(Equal(model.StatusAwaitingLockSignature))
		})

		It("does not regress a lock the indexer already confirmed", func() {
			seed(model.StatusConfirmed)
			mb.On("Submit", mock.Anything, mock.Anything).Return(lockHash, nil)

			_, err := o.Submit(ctx, orchestrator.SubmitRequest{Complete: "84a4", Signature: "a100", Type: orchestrator.SubmitLock})
			Expect(err).NotTo(HaveOccurred())
			Expect(status(lockHash)).To(Equal(model.StatusConfirmed))
		})

		It("succeeds for a submitted lock the store has never seen", func() {
			mb.On("Submit", mock.Anything, mock.Anything).Return(lockHash, nil)

			hash, err := o.Submit(ctx, orchestrator.SubmitRequest{Complete: "84a4", Signature: "a100", Type: orchestrator.SubmitLock})
			Expect(err).NotTo(HaveOccurred())
			Expect(hash).To(Equal(lockHash))
		})

		It("requires the original hash for an unlock", func() {
			_, err := o.Submit(ctx, orchestrator.SubmitRequest{Complete: "84a4", Signature: "a100", Type: orchestrator.SubmitUnlock})
			Expect(model.IsValidation(err)).To(BeTrue())

			_, err = o.Submit(ctx, orchestrator.SubmitRequest{Complete: "84a4", Signature: "a100", Type: "SWAP"})
			Expect(model.IsValidation(err)).To(BeTrue())
			mb.AssertNotCalled(GinkgoT(), "Submit", mock.Anything, mock.Anything)
		})
	})

	Describe("BuildUnlock", func() {
		It("holds a CONFIRMED transaction", func() {
			seed(model.StatusConfirmed)
			mb.On("BuildUnlock", mock.Anything, mock.MatchedBy(func(p builder.UnlockParams) bool {
				return p.TxHash == lockHash && p.Redeemer == "Hello, World!" && p.ScriptValidator == "escrow.v1"
			})).Return(&builder.UnsignedTx{Complete: "84a5"}, nil)

			unsigned, err := o.BuildUnlock(ctx, unlockReq())
			Expect(err).NotTo(HaveOccurred())
			Expect(unsigned.Complete).To(Equal("84a5"))
			Expect(status(lockHash)).To(Equal(model.StatusAwaitingUnlockSignature))
		})

		It("reports an unknown transaction", func() {
			_, err := o.BuildUnlock(ctx, unlockReq())
			Expect(err).To(MatchError(model.ErrUnknownTransaction))
		})

		It("refuses a transaction that is not yet confirmed", func() {
			seed(model.StatusPending)

			_, err := o.BuildUnlock(ctx, unlockReq())
			Expect(model.IsValidation(err)).To(BeTrue())
			Expect(status(lockHash)).To(Equal(model.StatusPending))
		})

		It("refuses an amount that differs from the locked one", func() {
			seed(model.StatusConfirmed)
			req := unlockReq()
			req.Amount = 4_000_000

			_, err := o.BuildUnlock(ctx, req)
			Expect(model.IsValidation(err)).To(BeTrue())
		})

		It("leaves the record CONFIRMED when the builder fails", func() {
			seed(model.StatusConfirmed)
			mb.On("BuildUnlock", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

			_, err := o.BuildUnlock(ctx, unlockReq())
			Expect(model.IsUpstream(err)).To(BeTrue())
			Expect(status(lockHash)).To(Equal(model.StatusConfirmed))
		})
	})

	Describe("unlock submission", func() {
		BeforeEach(func() {
			seed(model.StatusConfirmed)
			mb.On("BuildUnlock", mock.Anything, mock.Anything).Return(&builder.UnsignedTx{Complete: "84a5"}, nil)
			_, err := o.BuildUnlock(ctx, unlockReq())
			Expect(err).NotTo(HaveOccurred())
		})

		It("marks the original transaction UNLOCKED", func() {
			mb.On("Submit", mock.Anything, mock.Anything).Return(unlockHash, nil)

			hash, err := o.Submit(ctx, orchestrator.SubmitRequest{Complete: "84a5", Signature: "a1", Type: orchestrator.SubmitUnlock, OriginalTxHash: lockHash})
			Expect(err).NotTo(HaveOccurred())
			Expect(hash).To(Equal(unlockHash))
			Expect(status(lockHash)).To(Equal(model.StatusUnlocked))
		})

		It("releases the hold when submission fails", func() {
			mb.On("Submit", mock.Anything, mock.Anything).Return("", errors.New("builder returned status 503"))

			_, err := o.Submit(ctx, orchestrator.SubmitRequest{Complete: "84a5", Signature: "a1", Type: orchestrator.SubmitUnlock, OriginalTxHash: lockHash})
			Expect(model.IsUpstream(err)).To(BeTrue())
			Expect(status(lockHash)).To(Equal(model.StatusConfirmed))
		})

		It("releases the hold on cancel", func() {
			t, err := o.CancelUnlock(ctx, lockHash)
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Status).To(Equal(model.StatusConfirmed))

			_, err = o.CancelUnlock(ctx, lockHash)
			Expect(err).To(MatchError(model.ErrHoldNotActive))
		})

		It("accepts the original hash in upper case", func() {
			hash := strings.Repeat("cd", 32)
			_, err := rec.Observe(ctx, reconciler.Observation{TxHash: hash, Wallet: wallet, Amount: 5_000_000, Status: model.StatusConfirmed})
			Expect(err).NotTo(HaveOccurred())
			req := unlockReq()
			req.TxHash = strings.ToUpper(hash)
			_, err = o.BuildUnlock(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(status(hash)).To(Equal(model.StatusAwaitingUnlockSignature))

			mb.On("Submit", mock.Anything, mock.Anything).Return(unlockHash, nil)
			_, err = o.Submit(ctx, orchestrator.SubmitRequest{Complete: "84a5", Signature: "a1", Type: orchestrator.SubmitUnlock, OriginalTxHash: strings.ToUpper(hash)})
			Expect(err).NotTo(HaveOccurred())
			Expect(status(hash)).To(Equal(model.StatusUnlocked))
		})

		It("releases only holds older than the TTL", func() {
			clk.Advance(5 * time.Minute)
			released, err := o.ReleaseStaleUnlockHolds(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(released).To(BeZero())
			Expect(status(lockHash)).To(Equal(model.StatusAwaitingUnlockSignature))

			clk.Advance(6 * time.Minute)
			released, err = o.ReleaseStaleUnlockHolds(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(released).To(Equal(1))
			Expect(status(lockHash)).To(Equal(model.StatusConfirmed))
		})
	})

	Describe("server side signing", func() {
		It("runs the whole lock flow", func() {
			mb.On("BuildLock", mock.Anything, mock.Anything).Return(&builder.UnsignedTx{TxHash: lockHash, Complete: "84a4"}, nil)
			mb.On("Submit", mock.Anything, builder.SignedTx{Complete: "84a4", Signature: "sig:84a4"}).Return(lockHash, nil)
			signer := orchestrator.SignerFunc(func(_ context.Context, u *builder.UnsignedTx) (string, error) {
				return "sig:" + u.Complete, nil
			})

			hash, err := o.Lock(ctx, lockReq(), signer)
			Expect(err).NotTo(HaveOccurred())
			Expect(hash).To(Equal(lockHash))
			Expect(status(lockHash)).To(Equal(model.StatusPending))
		})

		It("keeps the lock at AWAITING_LOCK_SIGNATURE when signing fails", func() {
			mb.On("BuildLock", mock.Anything, mock.Anything).Return(&builder.UnsignedTx{TxHash: lockHash, Complete: "84a4"}, nil)
			signer := orchestrator.SignerFunc(func(context.Context, *builder.UnsignedTx) (string, error) {
				return "", errors.New("user declined")
			})

			_, err := o.Lock(ctx, lockReq(), signer)
			Expect(model.IsUpstream(err)).To(BeTrue())
			Expect(status(lockHash)).To(Equal(model.StatusAwaitingLockSignature))
			mb.AssertNotCalled(GinkgoT(), "Submit", mock.Anything, mock.Anything)
		})

		It("releases the unlock hold when signing fails", func() {
			seed(model.StatusConfirmed)
			mb.On("BuildUnlock", mock.Anything, mock.Anything).Return(&builder.UnsignedTx{Complete: "84a5"}, nil)
			signer := orchestrator.SignerFunc(func(context.Context, *builder.UnsignedTx) (string, error) {
				return "", errors.New("user declined")
			})

			_, err := o.Unlock(ctx, unlockReq(), signer)
			Expect(model.IsUpstream(err)).To(BeTrue())
			Expect(status(lockHash)).To(Equal(model.StatusConfirmed))
		})
	})

	It("carries a deposit from lock through webhook confirmation to unlock", func() {
		mb.On("BuildLock", mock.Anything, mock.Anything).Return(&builder.UnsignedTx{TxHash: lockHash, Complete: "84a4"}, nil)
		mb.On("BuildUnlock", mock.Anything, mock.Anything).Return(&builder.UnsignedTx{Complete: "84a5"}, nil)
		mb.On("Submit", mock.Anything, builder.SignedTx{Complete: "84a4", Signature: "w"}).Return(lockHash, nil)
		mb.On("Submit", mock.Anything, builder.SignedTx{Complete: "84a5", Signature: "w"}).Return(unlockHash, nil)
		signer := orchestrator.SignerFunc(func(context.Context, *builder.UnsignedTx) (string, error) { return "w", nil })

		log := logger.New(environments.Test)
		webhookCfg := &config.AppConfig{Webhook: config.WebhookConfig{DedupTTL: time.Minute}}
		ing := ingestor.New(webhookCfg, rec, log)
		confirmation, err := json.Marshal(map[string]interface{}{
			"id":   "evt-1",
			"type": "transaction",
			"payload": []interface{}{map[string]interface{}{
				"tx":     map[string]interface{}{"hash": lockHash},
				"inputs": []interface{}{map[string]interface{}{"address": wallet}},
				"outputs": []interface{}{map[string]interface{}{
					"address": "addr_test1script",
					"amount":  []interface{}{map[string]interface{}{"unit": "lovelace", "quantity": "5000000"}},
				}},
			}},
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = o.Lock(ctx, lockReq(), signer)
		Expect(err).NotTo(HaveOccurred())
		Expect(status(lockHash)).To(Equal(model.StatusPending))

		summary, err := ing.Ingest(ctx, confirmation)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Applied).To(Equal(1))
		Expect(status(lockHash)).To(Equal(model.StatusConfirmed))

		summary, err = ing.Ingest(ctx, confirmation)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Duplicate).To(Equal(1))
		Expect(status(lockHash)).To(Equal(model.StatusConfirmed))

		// a stale poll after confirmation changes nothing
		_, err = rec.Apply(ctx, lockHash, model.StatusPending)
		Expect(err).NotTo(HaveOccurred())
		Expect(status(lockHash)).To(Equal(model.StatusConfirmed))

		_, err = o.Unlock(ctx, unlockReq(), signer)
		Expect(err).NotTo(HaveOccurred())
		Expect(status(lockHash)).To(Equal(model.StatusUnlocked))

		summary, err = ing.Ingest(ctx, confirmation)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Applied).To(BeZero())
		Expect(status(lockHash)).To(Equal(model.StatusUnlocked))

		// a restarted process has an empty dedup cache and must still not regress
		summary, err = ingestor.New(webhookCfg, rec, log).Ingest(ctx, confirmation)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Unchanged).To(Equal(1))
		Expect(status(lockHash)).To(Equal(model.StatusUnlocked))

		txs, err := rec.GetByWallet(ctx, wallet)
		Expect(err).NotTo(HaveOccurred())
		Expect(txs).To(HaveLen(1))
		Expect(txs[0].Amount).To(Equal(int64(5_000_000)))
	})
})
