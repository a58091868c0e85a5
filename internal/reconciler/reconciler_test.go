package reconciler_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/dwarvesf/escrow-backend/internal/model"
	"github.com/dwarvesf/escrow-backend/internal/reconciler"
	"github.com/dwarvesf/escrow-backend/internal/store"
	"github.com/dwarvesf/escrow-backend/internal/store/storetest"
	"github.com/dwarvesf/escrow-backend/internal/types/environments"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
)

type fakeRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRecorder) RecordReconcileOutcome(operation, outcome string, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, operation+":"+outcome)
}

func (f *fakeRecorder) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func permutations(in []model.TransactionStatus) [][]model.TransactionStatus {
	if len(in) <= 1 {
		return [][]model.TransactionStatus{append([]model.TransactionStatus(nil), in...)}
	}
	var out [][]model.TransactionStatus
	for i := range in {
		rest := make([]model.TransactionStatus, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]model.TransactionStatus{in[i]}, p...))
		}
	}
	return out
}

var _ = Describe("Reconciler", func() {
	var (
		ctx      context.Context
		db       *gorm.DB
		r        reconciler.IReconciler
		recorder *fakeRecorder
		now      time.Time
	)

	observe := func(hash string, status model.TransactionStatus) *reconciler.Result {
		res, err := r.Observe(ctx, reconciler.Observation{
			TxHash: hash,
			Wallet: "W1",
			Amount: 5_000_000,
			Status: status,
		})
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = storetest.NewDB(GinkgoT())
		recorder = &fakeRecorder{}
		now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		var mu sync.Mutex
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Second)
			return now
		}
		r = reconciler.New(db, store.New(), logger.New(environments.Test),
			reconciler.WithClock(clock),
			reconciler.WithMetrics(recorder),
		)
	})

	Describe("#Apply", func() {
		It("rejects an unknown transaction without writing", func() {
			_, err := r.Apply(ctx, "T404", model.StatusConfirmed)
			Expect(err).To(MatchError(model.ErrUnknownTransaction))

			var count int64
			Expect(db.Model(&model.Transaction{}).Count(&count).Error).To(Succeed())
			Expect(count).To(BeZero())
			Expect(recorder.Calls()).To(ContainElement("apply:unknown"))
		})

		It("rejects an invalid status", func() {
			_, err := r.Apply(ctx, "T1", model.TransactionStatus("LOST"))
			Expect(model.IsValidation(err)).To(BeTrue())
		})

		It("advances to a higher rank and stamps updatedAt", func() {
			created := observe("T1", model.StatusPending)

			res, err := r.Apply(ctx, "T1", model.StatusConfirmed)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(reconciler.OutcomeAdvanced))
			Expect(res.Transaction.Status).To(Equal(model.StatusConfirmed))
			Expect(res.Transaction.UpdatedAt.After(created.Transaction.UpdatedAt)).To(BeTrue())
		})

		It("treats PENDING on UNLOCKED as a successful no-op", func() {
			observe("T1", model.StatusUnlocked)
			before, err := r.GetByHash(ctx, "T1")
			Expect(err).NotTo(HaveOccurred())

			res, err := r.Apply(ctx, "T1", model.StatusPending)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(reconciler.OutcomeUnchanged))
			Expect(res.Changed()).To(BeFalse())

			after, err := r.GetByHash(ctx, "T1")
			Expect(err).NotTo(HaveOccurred())
			Expect(after.Status).To(Equal(model.StatusUnlocked))
			Expect(after.UpdatedAt.Equal(before.UpdatedAt)).To(BeTrue())
		})

		It("ends at the highest proposed rank for every ordering", func() {
			for i, order := range permutations(model.AllStatuses) {
				hash := fmt.Sprintf("P%03d", i)
				observe(hash, model.StatusAwaitingLockSignature)

				lastRank := 0
				for _, status := range order {
					res, err := r.Apply(ctx, hash, status)
					Expect(err).NotTo(HaveOccurred())
					Expect(res.Transaction.Status.Rank()).To(BeNumerically(">=", lastRank))
					lastRank = res.Transaction.Status.Rank()
				}

				got, err := r.GetByHash(ctx, hash)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Status).To(Equal(model.StatusUnlocked), hash)
			}
		})

		It("keeps the maximum under concurrent proposals", func() {
			observe("T1", model.StatusAwaitingLockSignature)

			proposals := make([]model.TransactionStatus, 0, 40)
			for i := 0; i < 40; i++ {
				proposals = append(proposals, model.AllStatuses[rand.Intn(4)])
			}
			proposals = append(proposals, model.StatusAwaitingUnlockSignature)

			var wg sync.WaitGroup
			for _, p := range proposals {
				wg.Add(1)
				go func(p model.TransactionStatus) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := r.Apply(ctx, "T1", p)
					Expect(err).NotTo(HaveOccurred())
				}(p)
			}
			wg.Wait()

			got, err := r.GetByHash(ctx, "T1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.StatusAwaitingUnlockSignature))
		})
	})

	Describe("#Observe", func() {
		It("creates exactly one wallet and one transaction for an unknown hash", func() {
			res := observe("T1", model.StatusConfirmed)
			Expect(res.Outcome).To(Equal(reconciler.OutcomeCreated))

			again := observe("T1", model.StatusConfirmed)
			Expect(again.Outcome).To(Equal(reconciler.OutcomeUnchanged))

			var wallets, txs int64
			Expect(db.Model(&model.Wallet{}).Count(&wallets).Error).To(Succeed())
			Expect(db.Model(&model.Transaction{}).Count(&txs).Error).To(Succeed())
			Expect(wallets).To(Equal(int64(1)))
			Expect(txs).To(Equal(int64(1)))
		})

		It("keeps stored wallet and amount and flags the mismatch", func() {
			observe("T1", model.StatusPending)

			res, err := r.Observe(ctx, reconciler.Observation{
				TxHash: "T1",
				Wallet: "W2",
				Amount: 7,
				Status: model.StatusConfirmed,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Mismatch).To(BeTrue())
			Expect(res.Outcome).To(Equal(reconciler.OutcomeAdvanced))
			Expect(res.Transaction.Wallet).To(Equal("W1"))
			Expect(res.Transaction.Amount).To(Equal(int64(5_000_000)))
		})

		It("rejects observations without wallet or amount", func() {
			_, err := r.Observe(ctx, reconciler.Observation{TxHash: "T1", Amount: 1, Status: model.StatusConfirmed})
			Expect(model.IsValidation(err)).To(BeTrue())

			_, err = r.Observe(ctx, reconciler.Observation{TxHash: "T1", Wallet: "W1", Status: model.StatusConfirmed})
			Expect(model.IsValidation(err)).To(BeTrue())
		})

		It("converges concurrent first sightings into one row", func() {
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					observe("T1", model.StatusConfirmed)
				}()
			}
			wg.Wait()

			txs, err := r.GetByWallet(ctx, "W1")
			Expect(err).NotTo(HaveOccurred())
			Expect(txs).To(HaveLen(1))
			Expect(txs[0].Status).To(Equal(model.StatusConfirmed))
		})
	})

	Describe("#ReleaseHold", func() {
		It("moves a held record back to CONFIRMED", func() {
			observe("T1", model.StatusAwaitingUnlockSignature)

			res, err := r.ReleaseHold(ctx, "T1")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(reconciler.OutcomeReleased))
			Expect(res.Transaction.Status).To(Equal(model.StatusConfirmed))
		})

		It("refuses records that are not held", func() {
			observe("T1", model.StatusUnlocked)

			_, err := r.ReleaseHold(ctx, "T1")
			Expect(err).To(MatchError(model.ErrHoldNotActive))

			got, err := r.GetByHash(ctx, "T1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.StatusUnlocked))
		})

		It("reports unknown hashes", func() {
			_, err := r.ReleaseHold(ctx, "T404")
			Expect(err).To(MatchError(model.ErrUnknownTransaction))
		})
	})

	Describe("lock, index and late poll", func() {
		It("settles on CONFIRMED regardless of the late PENDING", func() {
			created := observe("T1", model.StatusAwaitingLockSignature)
			Expect(created.Outcome).To(Equal(reconciler.OutcomeCreated))

			_, err := r.Apply(ctx, "T1", model.StatusPending)
			Expect(err).NotTo(HaveOccurred())

			indexed := observe("T1", model.StatusConfirmed)
			Expect(indexed.Outcome).To(Equal(reconciler.OutcomeAdvanced))

			late, err := r.Apply(ctx, "T1", model.StatusPending)
			Expect(err).NotTo(HaveOccurred())
			Expect(late.Outcome).To(Equal(reconciler.OutcomeUnchanged))

			txs, err := r.GetByWallet(ctx, "W1")
			Expect(err).NotTo(HaveOccurred())
			Expect(txs).To(HaveLen(1))
			Expect(txs[0].Status).To(Equal(model.StatusConfirmed))
			Expect(model.HasSettling(txs)).To(BeFalse())
		})
	})

	Describe("#GetByWallet", func() {
		It("requires a wallet", func() {
			_, err := r.GetByWallet(ctx, "")
			Expect(model.IsValidation(err)).To(BeTrue())
		})

		It("orders by most recent update", func() {
			observe("A", model.StatusPending)
			observe("B", model.StatusPending)
			_, err := r.Apply(ctx, "A", model.StatusConfirmed)
			Expect(err).NotTo(HaveOccurred())

			txs, err := r.GetByWallet(ctx, "W1")
			Expect(err).NotTo(HaveOccurred())
			Expect(txs).To(HaveLen(2))
			Expect(txs[0].TxHash).To(Equal("A"))
			Expect(txs[1].TxHash).To(Equal("B"))
		})
	})

	Describe("#CountByStatus", func() {
		It("counts every status", func() {
			observe("A", model.StatusPending)
			observe("B", model.StatusConfirmed)

			counts, err := r.CountByStatus(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(counts[model.StatusPending]).To(Equal(int64(1)))
			Expect(counts[model.StatusConfirmed]).To(Equal(int64(1)))
			Expect(counts[model.StatusUnlocked]).To(BeZero())
		})
	})
})
