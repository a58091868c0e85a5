package consts

import "time"

const (
	LovelaceUnit = "lovelace"

	// UnlockRedeemer is the fixed redeemer the escrow validator expects on spend.
	UnlockRedeemer = "Hello, World!"

	DefaultPollInterval   = 5 * time.Second
	DefaultBuilderTimeout = 15 * time.Second
	DefaultUnlockHoldTTL  = 10 * time.Minute
	DefaultHoldSweepSpec  = "@every 1m"
	DefaultDedupTTL       = 10 * time.Minute
	DefaultSignatureSkew  = 10 * time.Minute

	RequestIDHeader        = "X-Request-ID"
	WebhookSignatureHeader = "Blockfrost-Signature"

	JobUnlockHoldRelease = "unlock_hold_release"
)
