// Package blockbuilder constructs and signs the system-originated blocks
// (Mint rewards, Mint PoW, Slash penalties) that the reward pool, mint
// scheduler, and slashing manager each need to emit onto an account's
// chain. Centralizing it keeps the anti-spam work computation and signing
// hash logic in one place instead of duplicated across those packages.
package blockbuilder

import (
	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/config"
	"github.com/losnetwork/los-node/ledgertypes"
)

// Clock is injected so tests can control block timestamps.
type Clock func() int64

// Build assembles, anti-spam-works, and signs a new block extending
// previous on the given account's chain.
func Build(
	priv *chainsig.PrivateKey,
	account string,
	previous string,
	blockType ledgertypes.BlockType,
	amount uint64,
	link string,
	fee uint64,
	chainID config.ChainID,
	clock Clock,
) (*ledgertypes.Block, error) {
	b := &ledgertypes.Block{
		AccountStr: account,
		Previous:   previous,
		Type:       blockType,
		Amount:     amount,
		Link:       link,
		Fee:        fee,
		Timestamp:  clock(),
		PublicKey:  priv.PublicKeyBytes(),
	}

	signingHash, err := b.SigningHash(chainID)
	if err != nil {
		return nil, err
	}

	b.Work = findAntiSpamWork(signingHash, config.MinPowDifficultyBits)
	b.Signature = priv.Sign(signingHash)
	return b, nil
}

// findAntiSpamWork searches for a nonce satisfying the universal
// anti-spam proof (I6): H(signing_hash || work) with >= difficultyBits
// leading zero bits. System-originated blocks pay this cost exactly like
// user blocks; there is no privileged bypass.
func findAntiSpamWork(signingHash []byte, difficultyBits int) uint64 {
	for nonce := uint64(0); ; nonce++ {
		h := chainsig.Keccak256(signingHash, uint64BE(nonce))
		if leadingZeroBits(h) >= difficultyBits {
			return nonce
		}
	}
}

func uint64BE(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
	return b
}

func leadingZeroBits(h []byte) int {
	count := 0
	for _, by := range h {
		if by == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if by&mask != 0 {
				return count
			}
			count++
		}
		break
	}
	return count
}
