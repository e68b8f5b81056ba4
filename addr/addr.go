// Package addr implements the LOS network's domain-tagged Base58Check
// address format (§6 "Address format").
package addr

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"strings"

	"github.com/decred/base58"
)

// Prefix is the human-readable domain tag every LOS address carries.
const Prefix = "LOS"

var (
	ErrMissingPrefix = errors.New("addr: missing LOS prefix")
	ErrBadChecksum   = errors.New("addr: checksum mismatch")
	ErrTooShort      = errors.New("addr: decoded payload too short")
)

// Address is an opaque, validated LOS address. The zero value is not a
// valid address; use Parse or FromPublicKey to obtain one.
type Address struct {
	encoded string
}

// String returns the Base58Check-encoded, "LOS"-prefixed form.
func (a Address) String() string { return a.encoded }

// IsZero reports whether this is the unset address.
func (a Address) IsZero() bool { return a.encoded == "" }

// Equal compares two addresses by their canonical encoding.
func (a Address) Equal(b Address) bool { return a.encoded == b.encoded }

const checksumLen = 4

// encodePayload wraps a 20-byte identity hash with a 4-byte double-SHA256
// checksum and Base58-encodes the result, matching the Base58Check scheme
// used by the pack's UTXO-derived chains (decred/base58).
func encodePayload(payload [20]byte) string {
	full := make([]byte, 0, 20+checksumLen)
	full = append(full, payload[:]...)
	sum := checksum(payload[:])
	full = append(full, sum[:]...)
	return Prefix + base58.Encode(full)
}

func checksum(payload []byte) [checksumLen]byte {
	h1 := sha256.Sum256(payload)
	h2 := sha256.Sum256(h1[:])
	var out [checksumLen]byte
	copy(out[:], h2[:checksumLen])
	return out
}

// Parse validates and decodes a string as a LOS address, rejecting
// anything lacking the domain prefix or failing the checksum.
func Parse(s string) (Address, error) {
	if !strings.HasPrefix(s, Prefix) {
		return Address{}, ErrMissingPrefix
	}
	body := base58.Decode(strings.TrimPrefix(s, Prefix))
	if len(body) < 20+checksumLen {
		return Address{}, ErrTooShort
	}
	payload := body[:len(body)-checksumLen]
	gotSum := body[len(body)-checksumLen:]
	wantSum := checksum(payload)
	if !bytes.Equal(gotSum, wantSum[:]) {
		return Address{}, ErrBadChecksum
	}
	return Address{encoded: s}, nil
}

// FromPublicKey derives the canonical LOS address for a secp256k1 public
// key: the first 20 bytes of SHA-256(pubkey), Base58Check-encoded with the
// "LOS" domain tag.
func FromPublicKey(pubKey []byte) Address {
	h := sha256.Sum256(pubKey)
	var payload [20]byte
	copy(payload[:], h[:20])
	return Address{encoded: encodePayload(payload)}
}

// MustParse is Parse but panics on error; reserved for constants/tests.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}
