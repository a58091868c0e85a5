package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	MainnetHRP = "addr"
	TestnetHRP = "addr_test"

	// KeyHashLength is the hex length of a 28 byte payment key hash.
	KeyHashLength = 56

	// MaxWalletLength matches the wallet column width.
	MaxWalletLength = 255
)

// ValidateCardanoAddress checks that a Shelley address is well formed bech32 with a payment hrp.
// Shelley addresses exceed the 90 char bech32 limit, so the unbounded decoder is used.
func ValidateCardanoAddress(address string) error {
	if len(address) == 0 {
		return errors.New("address is empty")
	}

	if address != strings.ToLower(address) {
		return errors.New("address must be lower-case")
	}

	hrp, data, err := bech32.DecodeNoLimit(address)
	if err != nil {
		return fmt.Errorf("bech32 decode error: %v", err)
	}

	if hrp != MainnetHRP && hrp != TestnetHRP {
		return fmt.Errorf("invalid human-readable part (expected %q or %q, got %q)", MainnetHRP, TestnetHRP, hrp)
	}

	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return fmt.Errorf("invalid payload: %v", err)
	}

	// header byte plus at least a 28 byte payment credential
	if len(payload) < 29 {
		return errors.New("payload is too short")
	}

	return nil
}

// ValidateWalletAddress accepts any address an indexer can report as a spending input:
// Shelley bech32 or legacy Byron base58.
func ValidateWalletAddress(address string) error {
	if len(address) == 0 {
		return errors.New("address is empty")
	}
	if len(address) > MaxWalletLength {
		return fmt.Errorf("address exceeds %d characters", MaxWalletLength)
	}
	if ValidateCardanoAddress(address) == nil {
		return nil
	}
	return validateByronAddress(address)
}

// Byron addresses are base58 encoded CBOR arrays of a tagged payload and a crc.
func validateByronAddress(address string) error {
	decoded := base58.Decode(address)
	if len(decoded) < 2 {
		return errors.New("neither bech32 nor base58")
	}
	if decoded[0] != 0x82 {
		return errors.New("base58 payload is not a byron address")
	}
	return nil
}

// ValidateKeyHash checks a hex encoded payment key hash.
func ValidateKeyHash(keyHash string) error {
	if len(keyHash) != KeyHashLength {
		return fmt.Errorf("key hash must be %d hex characters", KeyHashLength)
	}
	if _, err := hex.DecodeString(keyHash); err != nil {
		return fmt.Errorf("key hash is not hex: %v", err)
	}
	return nil
}

// IsTxHash reports whether s looks like a 32 byte hex transaction hash.
func IsTxHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
