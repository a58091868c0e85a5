package orchestrator

type SubmitType string

const (
	SubmitLock   SubmitType = "LOCK"
	SubmitUnlock SubmitType = "UNLOCK"
)

type LockRequest struct {
	ChangeAddress string `json:"changeAddress" validate:"required,cardano_address"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	OwnerKeyHash  string `json:"ownerKeyHash" validate:"required,keyhash"`
	// Message is attached as transaction metadata; ledger metadata strings are capped at 64 bytes.
	Message string `json:"message,omitempty" validate:"max=64"`
}

type UnlockRequest struct {
	TxHash        string `json:"txHash" validate:"required,txhash"`
	ChangeAddress string `json:"changeAddress" validate:"required,cardano_address"`
	OwnerKeyHash  string `json:"ownerKeyHash" validate:"required,keyhash"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
}

type SubmitRequest struct {
	Complete       string     `json:"complete" validate:"required"`
	Signature      string     `json:"signature" validate:"required"`
	Type           SubmitType `json:"type" validate:"required,oneof=LOCK UNLOCK"`
	OriginalTxHash string     `json:"originalTxHash,omitempty" validate:"required_if=Type UNLOCK"`
}

type CancelUnlockRequest struct {
	TxHash string `json:"txHash" validate:"required,txhash"`
}
