package transaction

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dwarvesf/escrow-backend/internal/model"
	"github.com/dwarvesf/escrow-backend/internal/reconciler"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
	"github.com/dwarvesf/escrow-backend/internal/view"
)

type transactionHandler struct {
	reconciler reconciler.IReconciler
	logger     *logger.Logger
}

func New(reconciler reconciler.IReconciler, logger *logger.Logger) IHandler {
	return &transactionHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// GetTransactions godoc
// @Summary List wallet transactions
// @Description Returns every escrow transaction of a wallet ordered by last update, newest first
// @id getTransactions
// @Tags Transaction
// @Produce json
// @Param wallet query string true "Wallet address"
// @Success 200 {array} view.TransactionResponse
// @Failure 400 {object} view.ErrorResponse
// @Failure 500 {object} view.ErrorResponse
// @Router /transactions [get]
func (h *transactionHandler) GetTransactions(c *gin.Context) {
	var req GetTransactionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		verr := &model.ValidationError{Field: "wallet", Reason: "required"}
		c.JSON(http.StatusBadRequest, view.CreateErrorResponse(verr, ""))
		return
	}

	txs, err := h.reconciler.GetByWallet(c.Request.Context(), req.Wallet)
	if err != nil {
		h.logger.Error("[GetTransactions][GetByWallet]", map[string]string{
			"wallet": req.Wallet,
			"error":  err.Error(),
		})
		c.JSON(view.StatusCode(err), view.CreateErrorResponse(err, "failed to get transactions"))
		return
	}

	c.JSON(http.StatusOK, view.ToTransactionResponses(txs))
}
