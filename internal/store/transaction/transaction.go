package transaction

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dwarvesf/escrow-backend/internal/model"
)

type store struct{}

func New() IStore {
	return &store{}
}

func (s *store) CreateIfAbsent(tx *gorm.DB, t *model.Transaction) (bool, error) {
	t.StatusRank = t.Status.Rank()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()

	res := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}},
		DoNothing: true,
	}).Create(t)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *store) GetByHash(tx *gorm.DB, txHash string) (*model.Transaction, error) {
	var t model.Transaction
	err := tx.Where("tx_hash = ?", txHash).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrUnknownTransaction
		}
		return nil, err
	}
	return &t, nil
}

func (s *store) GetByHashForUpdate(tx *gorm.DB, txHash string) (*model.Transaction, error) {
	var t model.Transaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("tx_hash = ?", txHash).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrUnknownTransaction
		}
		return nil, err
	}
	return &t, nil
}

func (s *store) ListByWallet(tx *gorm.DB, wallet string) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := tx.Where("wallet = ?", wallet).
		Order("updated_at DESC").
		Order("tx_hash ASC").
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *store) AdvanceStatus(tx *gorm.DB, txHash string, status model.TransactionStatus, now time.Time) (bool, error) {
	res := tx.Model(&model.Transaction{}).
		Where("tx_hash = ? AND status_rank < ?", txHash, status.Rank()).
		Updates(map[string]interface{}{
			"status":      status,
			"status_rank": status.Rank(),
			"updated_at":  now.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *store) ReleaseHold(tx *gorm.DB, txHash string, now time.Time) (bool, error) {
	res := tx.Model(&model.Transaction{}).
		Where("tx_hash = ? AND status = ?", txHash, model.StatusAwaitingUnlockSignature).
		Updates(map[string]interface{}{
			"status":      model.StatusConfirmed,
			"status_rank": model.StatusConfirmed.Rank(),
			"updated_at":  now.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *store) ListHeldBefore(tx *gorm.DB, before time.Time) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := tx.Where("status = ? AND updated_at < ?", model.StatusAwaitingUnlockSignature, before.UTC()).
		Order("updated_at ASC").
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *store) CountByStatus(tx *gorm.DB) (map[model.TransactionStatus]int64, error) {
	var rows []struct {
		Status model.TransactionStatus
		Total  int64
	}
	err := tx.Model(&model.Transaction{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.TransactionStatus]int64, len(model.AllStatuses))
	for _, s := range model.AllStatuses {
		counts[s] = 0
	}
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}
