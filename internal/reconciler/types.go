package reconciler

import (
	"github.com/dwarvesf/escrow-backend/internal/model"
)

type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeAdvanced  Outcome = "advanced"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeReleased  Outcome = "released"
)

// Observation is a sighting of a transaction from the ledger or a local flow.
type Observation struct {
	TxHash string
	Wallet string
	Amount int64
	Status model.TransactionStatus
}

type Result struct {
	Transaction *model.Transaction
	Outcome     Outcome
	// Mismatch is set when an observation disagrees with the stored wallet or amount.
	Mismatch bool
}

func (r *Result) Changed() bool {
	return r.Outcome != OutcomeUnchanged
}
