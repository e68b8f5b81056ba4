package ledger

import (
	"encoding/binary"
	"math/bits"

	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/ledgertypes"
)

// leadingZeroBits counts the number of leading zero bits in a hash, used
// for both the universal anti-spam work target and the mining difficulty
// check (I6).
func leadingZeroBits(h []byte) int {
	count := 0
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		count += bits.LeadingZeros8(b)
		break
	}
	return count
}

// antiSpamHash hashes the block's signing hash together with its claimed
// work nonce; every block, system-created or not, must clear
// MinPowDifficultyBits of leading zeros here (I6).
func antiSpamHash(signingHash []byte, work uint64) []byte {
	var workBytes [8]byte
	binary.BigEndian.PutUint64(workBytes[:], work)
	return chainsig.Keccak256(signingHash, workBytes[:])
}

// verifyAntiSpamWork checks a block's Work field against the fixed
// network-wide anti-spam target.
func verifyAntiSpamWork(b *ledgertypes.Block, signingHash []byte, difficultyBits int) bool {
	h := antiSpamHash(signingHash, b.Work)
	return leadingZeroBits(h) >= difficultyBits
}

// miningHash computes H(address || epoch || nonce), the domain-separated
// mining proof §4.4 requires for public PoW mint blocks.
func miningHash(address string, epoch, nonce uint64) []byte {
	var epochBytes, nonceBytes [8]byte
	binary.BigEndian.PutUint64(epochBytes[:], epoch)
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	return chainsig.Keccak256([]byte(address), epochBytes[:], nonceBytes[:])
}

// verifyMiningProof checks a MINE link's nonce against the claimed epoch's
// difficulty.
func verifyMiningProof(address string, epoch, nonce uint64, difficultyBits int) bool {
	h := miningHash(address, epoch, nonce)
	return leadingZeroBits(h) >= difficultyBits
}
