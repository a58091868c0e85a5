package model

import (
	"strings"
)

// TransactionStatus is the lifecycle position of an escrow transaction.
type TransactionStatus string

const (
	StatusAwaitingLockSignature   TransactionStatus = "AWAITING_LOCK_SIGNATURE"
	StatusPending                 TransactionStatus = "PENDING"
	StatusConfirmed               TransactionStatus = "CONFIRMED"
	StatusAwaitingUnlockSignature TransactionStatus = "AWAITING_UNLOCK_SIGNATURE"
	StatusUnlocked                TransactionStatus = "UNLOCKED"
)

var statusRanks = map[TransactionStatus]int{
	StatusAwaitingLockSignature:   0,
	StatusPending:                 1,
	StatusConfirmed:               2,
	StatusAwaitingUnlockSignature: 3,
	StatusUnlocked:                4,
}

// AllStatuses lists every status in rank order.
var AllStatuses = []TransactionStatus{
	StatusAwaitingLockSignature,
	StatusPending,
	StatusConfirmed,
	StatusAwaitingUnlockSignature,
	StatusUnlocked,
}

// Rank returns the position of the status in the lifecycle, or -1 when the status is unknown.
func (s TransactionStatus) Rank() int {
	rank, ok := statusRanks[s]
	if !ok {
		return -1
	}
	return rank
}

func (s TransactionStatus) IsValid() bool {
	_, ok := statusRanks[s]
	return ok
}

// IsSettling reports whether the status still waits on the ledger.
func (s TransactionStatus) IsSettling() bool {
	return s == StatusPending || s == StatusAwaitingUnlockSignature
}

func (s TransactionStatus) String() string {
	return string(s)
}

// ParseStatus accepts the canonical upper case names, ignoring surrounding whitespace and case.
func ParseStatus(raw string) (TransactionStatus, error) {
	s := TransactionStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", &ValidationError{Field: "status", Reason: "unknown status " + raw}
	}
	return s, nil
}
