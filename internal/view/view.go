package view

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/dwarvesf/escrow-backend/internal/model"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type OkResponse struct {
	Ok bool `json:"ok"`
}

type LockResponse struct {
	TxHash   string `json:"txHash"`
	Complete string `json:"complete"`
}

type UnlockResponse struct {
	Complete string `json:"complete"`
}

type SubmitResponse struct {
	TxHash string `json:"txHash"`
	// Warning is set when the broadcast succeeded but the stored status could not be advanced.
	Warning string `json:"warning,omitempty"`
}

type TransactionResponse struct {
	TxHash    string `json:"txHash"`
	Wallet    string `json:"wallet"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updatedAt"`
}

// ToTransactionResponse renders a stored row with an RFC3339 UTC timestamp.
func ToTransactionResponse(tx model.Transaction) TransactionResponse {
	return TransactionResponse{
		TxHash:    tx.TxHash,
		Wallet:    tx.Wallet,
		Amount:    tx.Amount,
		Status:    tx.Status.String(),
		UpdatedAt: tx.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func ToTransactionResponses(txs []model.Transaction) []TransactionResponse {
	res := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		res = append(res, ToTransactionResponse(tx))
	}
	return res
}

// StatusCode maps domain errors onto HTTP status codes.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case model.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnknownTransaction):
		return http.StatusNotFound
	case errors.Is(err, model.ErrHoldNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// CreateErrorResponse hides storage internals and falls back to message when err carries nothing useful.
func CreateErrorResponse(err error, message string) ErrorResponse {
	if err == nil {
		return ErrorResponse{Error: message}
	}
	if model.IsStorage(err) {
		return ErrorResponse{Error: message}
	}
	if message == "" {
		return ErrorResponse{Error: err.Error()}
	}
	return ErrorResponse{Error: message + ": " + err.Error()}
}
