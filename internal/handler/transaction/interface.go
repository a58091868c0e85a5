package transaction

import (
	"github.com/gin-gonic/gin"
)

type IHandler interface {
	// GetTransactions lists a wallet's transactions, most recently updated first
	GetTransactions(c *gin.Context)
}

type GetTransactionsRequest struct {
	Wallet string `form:"wallet" binding:"required"`
}
