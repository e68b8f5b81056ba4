package mint

import (
	"context"
	"math/bits"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/chainsig"
)

// solveResult is a candidate nonce found by one worker.
type solveResult struct {
	nonce uint64
}

// Mine searches for a nonce satisfying H(address || epoch || nonce) >=
// difficultyBits leading zero bits, using numWorkers goroutines each
// striding through the nonce space so no two workers ever try the same
// value (grounded in the teacher's solveWorkerAdvanced parallel-search
// pattern, simplified to the spec's single deterministic proof). The
// first worker to find a solution cancels the rest.
func Mine(ctx context.Context, address string, epoch uint64, difficultyBits, numWorkers int) (uint64, bool) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	results := make(chan solveResult, numWorkers)
	var wg sync.WaitGroup
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(start uint64) {
			defer wg.Done()
			mineWorker(workerCtx, address, epoch, uint64(numWorkers), start, difficultyBits, results)
		}(uint64(i))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case r := <-results:
		cancel()
		<-done
		return r.nonce, true
	case <-done:
		return 0, false
	case <-ctx.Done():
		return 0, false
	}
}

func mineWorker(ctx context.Context, address string, epoch, step, nonce uint64, difficultyBits int, results chan<- solveResult) {
	var checked uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		h := miningHash(address, epoch, nonce)
		if leadingZeroBits(h) >= difficultyBits {
			select {
			case results <- solveResult{nonce: nonce}:
			case <-ctx.Done():
			}
			return
		}

		nonce += step
		checked++
		if checked%200000 == 0 {
			log.Debug("mining progress", "address", address, "epoch", epoch, "checked", checked)
		}
	}
}

func miningHash(address string, epoch, nonce uint64) []byte {
	return chainsig.Keccak256([]byte(address), uint64ToBytes(epoch), uint64ToBytes(nonce))
}

func uint64ToBytes(v uint64) []byte {
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
		count += bits.LeadingZeros8(by)
		break
	}
	return count
}

// DifficultyForEpoch is a placeholder hook: the spec fixes difficulty bits
// per-epoch but leaves the exact adjustment curve unspecified beyond "fixed
// per-epoch"; this node keeps config.MinPowDifficultyBits constant, matching
// Scheduler.difficultyBits, until a future epoch-indexed table is needed.
func DifficultyForEpoch(epoch uint64, base int) int {
	return base
}
