package store

import (
	"github.com/dwarvesf/escrow-backend/internal/store/transaction"
	"github.com/dwarvesf/escrow-backend/internal/store/wallet"
)

type Store struct {
	Wallet      wallet.IStore
	Transaction transaction.IStore
}

func New() *Store {
	return &Store{
		Wallet:      wallet.New(),
		Transaction: transaction.New(),
	}
}
