package wallet

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dwarvesf/escrow-backend/internal/model"
)

type store struct{}

func New() IStore {
	return &store{}
}

func (s *store) Upsert(tx *gorm.DB, address string, now time.Time) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoNothing: true,
	}).Create(&model.Wallet{
		Address:   address,
		CreatedAt: now.UTC(),
	}).Error
}

func (s *store) GetByAddress(tx *gorm.DB, address string) (*model.Wallet, error) {
	var w model.Wallet
	err := tx.Where("address = ?", address).First(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}
