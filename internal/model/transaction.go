package model

import (
	"time"
)

// Transaction is one escrow deposit tracked by its ledger hash.
// Amount is in lovelace and never changes after creation.
type Transaction struct {
	TxHash     string            `gorm:"column:tx_hash;type:varchar(64);primaryKey" json:"txHash"`
	Wallet     string            `gorm:"column:wallet;type:varchar(255);not null;index:idx_transactions_wallet_updated_at,priority:1" json:"wallet"`
	Amount     int64             `gorm:"column:amount;not null" json:"amount"`
	Status     TransactionStatus `gorm:"column:status;type:varchar(50);not null" json:"status"`
	StatusRank int               `gorm:"column:status_rank;not null" json:"-"`
	CreatedAt  time.Time         `gorm:"column:created_at;not null;autoCreateTime:false" json:"createdAt"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;not null;autoUpdateTime:false;index:idx_transactions_wallet_updated_at,priority:2,sort:desc" json:"updatedAt"`

	WalletRef *Wallet `gorm:"foreignKey:Wallet;references:Address;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT" json:"-"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// HasSettling reports whether any transaction still waits on the ledger.
func HasSettling(txs []Transaction) bool {
	for _, tx := range txs {
		if tx.Status.IsSettling() {
			return true
		}
	}
	return false
}
