package escrow

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dwarvesf/escrow-backend/internal/orchestrator"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
	"github.com/dwarvesf/escrow-backend/internal/view"
)

type handler struct {
	orchestrator orchestrator.IOrchestrator
	logger       *logger.Logger
}

func New(orchestrator orchestrator.IOrchestrator, logger *logger.Logger) IHandler {
	return &handler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Lock godoc
// @Summary Build a lock transaction
// @Description Builds an unsigned transaction paying the escrow script and records it as AWAITING_LOCK_SIGNATURE
// @id lock
// @Tags Escrow
// @Accept json
// @Produce json
// @Param request body orchestrator.LockRequest true "Lock parameters"
// @Success 200 {object} view.LockResponse
// @Failure 400 {object} view.ErrorResponse
// @Failure 500 {object} view.ErrorResponse
// @Router /lock [post]
func (h *handler) Lock(c *gin.Context) {
	var req orchestrator.LockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "[Lock][ShouldBindJSON]", err)
		return
	}

	unsigned, err := h.orchestrator.BuildLock(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "[Lock][BuildLock]", err, "failed to build lock transaction")
		return
	}

	c.JSON(http.StatusOK, view.LockResponse{TxHash: unsigned.TxHash, Complete: unsigned.Complete})
}

// Unlock godoc
// @Summary Build an unlock transaction
// @Description Builds an unsigned spend of a confirmed escrow output and holds it at AWAITING_UNLOCK_SIGNATURE
// @id unlock
// @Tags Escrow
// @Accept json
// @Produce json
// @Param request body orchestrator.UnlockRequest true "Unlock parameters"
// @Success 200 {object} view.UnlockResponse
// @Failure 400 {object} view.ErrorResponse
// @Failure 404 {object} view.ErrorResponse
// @Failure 500 {object} view.ErrorResponse
// @Router /unlock [post]
func (h *handler) Unlock(c *gin.Context) {
	var req orchestrator.UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "[Unlock][ShouldBindJSON]", err)
		return
	}

	unsigned, err := h.orchestrator.BuildUnlock(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "[Unlock][BuildUnlock]", err, "failed to build unlock transaction")
		return
	}

	c.JSON(http.StatusOK, view.UnlockResponse{Complete: unsigned.Complete})
}

// CancelUnlock godoc
// @Summary Cancel a pending unlock
// @Description Returns a held transaction to CONFIRMED after the wallet declined to sign
// @id cancelUnlock
// @Tags Escrow
// @Accept json
// @Produce json
// @Param request body orchestrator.CancelUnlockRequest true "Transaction to release"
// @Success 200 {object} view.TransactionResponse
// @Failure 400 {object} view.ErrorResponse
// @Failure 404 {object} view.ErrorResponse
// @Failure 409 {object} view.ErrorResponse
// @Router /unlock/cancel [post]
func (h *handler) CancelUnlock(c *gin.Context) {
	var req orchestrator.CancelUnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "[CancelUnlock][ShouldBindJSON]", err)
		return
	}

	tx, err := h.orchestrator.CancelUnlock(c.Request.Context(), req.TxHash)
	if err != nil {
		h.fail(c, "[CancelUnlock][CancelUnlock]", err, "failed to cancel unlock")
		return
	}

	c.JSON(http.StatusOK, view.ToTransactionResponse(*tx))
}

// Submit godoc
// @Summary Submit a signed transaction
// @Description Submits a signed lock or unlock and advances the stored status
// @id submit
// @Tags Escrow
// @Accept json
// @Produce json
// @Param request body orchestrator.SubmitRequest true "Signed transaction"
// @Success 200 {object} view.SubmitResponse
// @Failure 400 {object} view.ErrorResponse
// @Failure 500 {object} view.ErrorResponse
// @Router /submit [post]
func (h *handler) Submit(c *gin.Context) {
	var req orchestrator.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "[Submit][ShouldBindJSON]", err)
		return
	}

	txHash, err := h.orchestrator.Submit(c.Request.Context(), req)
	if err != nil && txHash != "" {
		// already broadcast, a client retry would submit twice
		h.logger.Error("[Submit][Submit] submitted but status not recorded", map[string]string{
			"tx_hash":          txHash,
			"original_tx_hash": req.OriginalTxHash,
			"error":            err.Error(),
		})
		c.JSON(http.StatusOK, view.SubmitResponse{TxHash: txHash, Warning: "submitted, status update pending"})
		return
	}
	if err != nil {
		h.fail(c, "[Submit][Submit]", err, "failed to submit transaction")
		return
	}

	c.JSON(http.StatusOK, view.SubmitResponse{TxHash: txHash})
}

func (h *handler) badRequest(c *gin.Context, step string, err error) {
	h.logger.Error(step, map[string]string{
		"error": err.Error(),
	})
	c.JSON(http.StatusBadRequest, view.CreateErrorResponse(err, "invalid request"))
}

func (h *handler) fail(c *gin.Context, step string, err error, message string) {
	h.logger.Error(step, map[string]string{
		"error": err.Error(),
	})
	c.JSON(view.StatusCode(err), view.CreateErrorResponse(err, message))
}
