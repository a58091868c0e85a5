package transaction

import (
	"time"

	"gorm.io/gorm"

	"github.com/dwarvesf/escrow-backend/internal/model"
)

type IStore interface {
	// CreateIfAbsent inserts t unless its hash exists and reports whether a row was written.
	CreateIfAbsent(tx *gorm.DB, t *model.Transaction) (bool, error)
	GetByHash(tx *gorm.DB, txHash string) (*model.Transaction, error)
	// GetByHashForUpdate row locks the record until tx ends.
	GetByHashForUpdate(tx *gorm.DB, txHash string) (*model.Transaction, error)
	ListByWallet(tx *gorm.DB, wallet string) ([]model.Transaction, error)
	// AdvanceStatus writes status only when it outranks the stored one.
	AdvanceStatus(tx *gorm.DB, txHash string, status model.TransactionStatus, now time.Time) (bool, error)
	// ReleaseHold moves a record held at AWAITING_UNLOCK_SIGNATURE back to CONFIRMED.
	ReleaseHold(tx *gorm.DB, txHash string, now time.Time) (bool, error)
	ListHeldBefore(tx *gorm.DB, before time.Time) ([]model.Transaction, error)
	CountByStatus(tx *gorm.DB) (map[model.TransactionStatus]int64, error)
}
