package model

import (
	"time"
)

type Wallet struct {
	Address   string    `gorm:"column:address;type:varchar(255);primaryKey" json:"address"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false" json:"createdAt"`
}

func (Wallet) TableName() string {
	return "wallets"
}
