// Package chainsig implements the block-identity and signing-hash
// primitives: content-addressed block hashing (I5), domain-separated
// signing hashes (P4), and secp256k1 sign/verify/address-derivation. The
// cryptographic primitives themselves are treated as opaque per §1; this
// package only fixes which concrete primitives the node uses.
package chainsig

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/losnetwork/los-node/config"
)

var ErrInvalidSignature = errors.New("chainsig: invalid signature")

// PrivateKey wraps a secp256k1 signing key for this node or a validator.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a fresh random keypair.
func GenerateKey() (*PrivateKey, error) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: k}, nil
}

// LoadKey reconstructs a PrivateKey from its 32-byte scalar encoding, the
// on-disk format cmd/losvalidator persists a node's identity key as.
func LoadKey(raw []byte) (*PrivateKey, error) {
	if len(raw) != 32 {
		return nil, errors.New("chainsig: private key must be 32 bytes")
	}
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(raw)}, nil
}

// Bytes returns the 32-byte scalar encoding of the private key, for
// persisting to disk.
func (p *PrivateKey) Bytes() []byte {
	return p.key.Serialize()
}

// PublicKeyBytes returns the compressed SEC1 public key.
func (p *PrivateKey) PublicKeyBytes() []byte {
	return p.key.PubKey().SerializeCompressed()
}

// Sign produces a deterministic ECDSA signature over msgHash.
func (p *PrivateKey) Sign(msgHash []byte) []byte {
	sig := ecdsa.Sign(p.key, msgHash)
	return sig.Serialize()
}

// VerifySignature checks an ECDSA signature against a compressed public key.
func VerifySignature(pubKeyBytes, msgHash, sig []byte) bool {
	pub, err := secp256k1.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(msgHash, pub)
}

// Keccak256 is the node's chosen general-purpose hash primitive, reused
// from the teacher's dependency on go-ethereum/crypto.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}

// domainTag mixes the chain ID into a hash so a block or vote signed on
// one network never verifies on another (P4).
func domainTag(chainID config.ChainID) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(chainID))
	return b
}

// SigningHash computes the domain-separated hash that a block's signature
// covers: every field except the signature itself, salted with the chain
// ID. Callers pass the pre-serialized, signature-stripped block encoding.
func SigningHash(chainID config.ChainID, unsignedEncoding []byte) []byte {
	return Keccak256(domainTag(chainID), unsignedEncoding)
}

// BlockHash computes block identity (I5): content-addressed over the full
// serialized block including signature. Identical content, identical
// identity, on every honest node.
func BlockHash(fullEncoding []byte) []byte {
	return Keccak256(fullEncoding)
}

// RandomNonce returns a fresh nonce for PoW search seeding.
func RandomNonce() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}
