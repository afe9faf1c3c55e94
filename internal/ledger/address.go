package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Classic addresses use base58 with the ledger's own alphabet.
const rippleAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

const (
	accountIDVersion = 0x00
	accountIDLen     = 20
	checksumLen      = 4
)

var alphabet = base58.NewAlphabet(rippleAlphabet)

// ErrInvalidAddress is returned for malformed classic addresses.
var ErrInvalidAddress = errors.New("invalid classic address")

// DecodeAccountID decodes a classic address ("r...") to its 20-byte account
// ID, verifying the version byte and double-SHA256 checksum.
func DecodeAccountID(address string) ([]byte, error) {
	if len(address) < 25 || len(address) > 35 || address[0] != 'r' {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	raw, err := base58.DecodeAlphabet(address, alphabet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != 1+accountIDLen+checksumLen || raw[0] != accountIDVersion {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	payload, sum := raw[:1+accountIDLen], raw[1+accountIDLen:]
	if !bytes.Equal(checksum(payload), sum) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return payload[1:], nil
}

// EncodeAccountID is the inverse of DecodeAccountID.
func EncodeAccountID(id []byte) (string, error) {
	if len(id) != accountIDLen {
		return "", fmt.Errorf("account id must be %d bytes, got %d", accountIDLen, len(id))
	}
	payload := append([]byte{accountIDVersion}, id...)
	return base58.EncodeAlphabet(append(payload, checksum(payload)...), alphabet), nil
}

// ValidateAddress reports whether address is a well-formed classic address.
func ValidateAddress(address string) error {
	_, err := DecodeAccountID(address)
	return err
}

func checksum(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:checksumLen]
}

// CurrencyDisplay returns a readable form of a currency code. Standard
// three-letter codes pass through; 40-hex codes holding ASCII text are decoded
// with the zero padding stripped; anything else is returned unchanged.
func CurrencyDisplay(code string) string {
	if len(code) != 40 {
		return code
	}
	raw, err := hex.DecodeString(code)
	if err != nil || raw[0] == 0 {
		return code
	}
	text := strings.TrimRight(string(raw), "\x00")
	for _, r := range text {
		if r < 0x20 || r > 0x7e {
			return code
		}
	}
	return text
}
