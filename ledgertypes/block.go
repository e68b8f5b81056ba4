// Package ledgertypes defines the block-lattice's core data types: Block,
// AccountState, and the canonical encoding used for block identity and
// signing hashes (§3 "Entities").
package ledgertypes

import (
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/losnetwork/los-node/addr"
	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/config"
)

// BlockType enumerates the seven block kinds a LOS account chain may hold.
type BlockType uint8

const (
	Send BlockType = iota
	Receive
	Mint
	Slash
	Change
	ContractDeploy
	ContractCall
)

func (t BlockType) String() string {
	switch t {
	case Send:
		return "Send"
	case Receive:
		return "Receive"
	case Mint:
		return "Mint"
	case Slash:
		return "Slash"
	case Change:
		return "Change"
	case ContractDeploy:
		return "ContractDeploy"
	case ContractCall:
		return "ContractCall"
	default:
		return "Unknown"
	}
}

// Block is the atomic, immutable-once-signed unit of the lattice (§3).
type Block struct {
	AccountStr string // owner address, addr.Address.String()
	Previous   string // prior block hash on this account's chain, "0" for first
	Type       BlockType
	Amount     uint64 // smallest-unit integer (CIL)
	Link       string // meaning depends on Type, see §3
	Work       uint64 // anti-spam PoW nonce
	Timestamp  int64  // unix millis
	Fee        uint64

	PublicKey []byte
	Signature []byte // excluded from the signing hash
}

// unsigned is the RLP-encodable projection of a Block used to compute the
// signing hash: every field except Signature.
type unsigned struct {
	AccountStr string
	Previous   string
	Type       BlockType
	Amount     uint64
	Link       string
	Work       uint64
	Timestamp  int64
	Fee        uint64
	PublicKey  []byte
}

func (b *Block) unsignedView() unsigned {
	return unsigned{
		AccountStr: b.AccountStr,
		Previous:   b.Previous,
		Type:       b.Type,
		Amount:     b.Amount,
		Link:       b.Link,
		Work:       b.Work,
		Timestamp:  b.Timestamp,
		Fee:        b.Fee,
		PublicKey:  b.PublicKey,
	}
}

// full is the RLP-encodable projection used for block identity: every
// field including the signature.
type full struct {
	AccountStr string
	Previous   string
	Type       BlockType
	Amount     uint64
	Link       string
	Work       uint64
	Timestamp  int64
	Fee        uint64
	PublicKey  []byte
	Signature  []byte
}

func (b *Block) fullView() full {
	return full{
		AccountStr: b.AccountStr,
		Previous:   b.Previous,
		Type:       b.Type,
		Amount:     b.Amount,
		Link:       b.Link,
		Work:       b.Work,
		Timestamp:  b.Timestamp,
		Fee:        b.Fee,
		PublicKey:  b.PublicKey,
		Signature:  b.Signature,
	}
}

// SigningHash returns the domain-separated hash the block's Signature
// covers (I5, P4).
func (b *Block) SigningHash(chainID config.ChainID) ([]byte, error) {
	enc, err := rlp.EncodeToBytes(b.unsignedView())
	if err != nil {
		return nil, err
	}
	return chainsig.SigningHash(chainID, enc), nil
}

// Hash returns the block's content-addressed identity (I5): deterministic
// across all honest nodes holding the identical content.
func (b *Block) Hash() ([]byte, error) {
	enc, err := rlp.EncodeToBytes(b.fullView())
	if err != nil {
		return nil, err
	}
	return chainsig.BlockHash(enc), nil
}

// HashHex returns Hash() hex-encoded, the form used as a map key and in
// gossip payloads.
func (b *Block) HashHex() (string, error) {
	h, err := b.Hash()
	if err != nil {
		return "", err
	}
	return hexEncode(h), nil
}

// Sender returns the parsed owner address of the block.
func (b *Block) Sender() (addr.Address, error) {
	return addr.Parse(b.AccountStr)
}

// AccountState is a single account's chain tip plus balance (§3).
type AccountState struct {
	Head        string // hash of chain tip, "0" if empty
	Balance     uint64
	BlockCount  uint64
	IsValidator bool
}

// ZeroHead is the sentinel head hash for an account with no blocks yet.
const ZeroHead = "0"

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
