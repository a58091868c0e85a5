package wallet

import (
	"time"

	"gorm.io/gorm"

	"github.com/dwarvesf/escrow-backend/internal/model"
)

type IStore interface {
	// Upsert inserts the wallet when absent and is a no-op otherwise.
	Upsert(tx *gorm.DB, address string, now time.Time) error
	GetByAddress(tx *gorm.DB, address string) (*model.Wallet, error)
}
