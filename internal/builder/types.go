package builder

// LockParams describes a payment to the escrow script carrying the owner key hash as datum.
type LockParams struct {
	ChangeAddress   string `json:"changeAddress"`
	Amount          int64  `json:"amount"`
	OwnerKeyHash    string `json:"ownerKeyHash"`
	Message         string `json:"message,omitempty"`
	ScriptValidator string `json:"scriptValidator,omitempty"`
}

// UnlockParams describes a spend of the locked output back to the owner.
type UnlockParams struct {
	TxHash          string `json:"txHash"`
	ChangeAddress   string `json:"changeAddress"`
	OwnerKeyHash    string `json:"ownerKeyHash"`
	Amount          int64  `json:"amount"`
	Redeemer        string `json:"redeemer"`
	ScriptValidator string `json:"scriptValidator,omitempty"`
}

// UnsignedTx carries the serialized body awaiting witnesses.
type UnsignedTx struct {
	TxHash   string `json:"txHash"`
	Complete string `json:"complete"`
}

type SignedTx struct {
	Complete  string `json:"complete"`
	Signature string `json:"signature"`
}

type submitResponse struct {
	TxHash string `json:"txHash"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
