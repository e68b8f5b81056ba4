// Package mint implements the public PoW mint distribution described in
// §4.4: a halving epoch-reward schedule, a fixed per-epoch difficulty, and
// an in-memory per-epoch miner set rebuilt from persisted Mint blocks on
// startup. It satisfies ledger.MintPolicy so the ledger can validate Mint
// blocks without importing this package.
package mint

import (
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/config"
	"github.com/losnetwork/los-node/ledgertypes"
)

// Scheduler tracks the current mint epoch, its reward/difficulty, and the
// set of addresses that have already minted in it (§4.4).
type Scheduler struct {
	cfg *config.Config

	mu             sync.Mutex
	currentEpoch   uint64
	epochStart     int64
	epochDuration  time.Duration
	difficultyBits int
	minters        map[uint64]map[string]bool // epoch -> address set
	excluded       map[string]bool            // genesis validators, never mint
}

// NewScheduler creates a mint scheduler starting at epoch 0.
func NewScheduler(cfg *config.Config, genesisValidators []string, epochDuration time.Duration, startTime int64) *Scheduler {
	excluded := make(map[string]bool, len(genesisValidators))
	for _, a := range genesisValidators {
		excluded[a] = true
	}
	return &Scheduler{
		cfg:            cfg,
		epochStart:     startTime,
		epochDuration:  epochDuration,
		difficultyBits: config.MinPowDifficultyBits,
		minters:        map[uint64]map[string]bool{0: {}},
		excluded:       excluded,
	}
}

// RebuildFromBlocks reconstructs current_epoch_miners by scanning every
// persisted Mint block whose link starts "MINE:" (§4.4 "rebuilt by scanning
// persisted Mint blocks").
func (s *Scheduler) RebuildFromBlocks(blocks []ledgertypes.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range blocks {
		if b.Type != ledgertypes.Mint || !strings.HasPrefix(b.Link, "MINE:") {
			continue
		}
		parsed, err := ledgertypes.ParseMintLink(b.Link)
		if err != nil {
			continue
		}
		set, ok := s.minters[parsed.Epoch]
		if !ok {
			set = make(map[string]bool)
			s.minters[parsed.Epoch] = set
		}
		set[b.AccountStr] = true
	}
}

// AdvanceIfDue checks wall-clock against the epoch boundary and, if
// crossed, increments current_epoch and clears the miner set for the new
// epoch (§4.4 "Epoch advancement"). Safe to call frequently; it is a no-op
// between boundaries.
func (s *Scheduler) AdvanceIfDue(now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for int64(now) >= s.epochStart+int64(s.epochDuration/time.Millisecond) {
		s.epochStart += int64(s.epochDuration / time.Millisecond)
		s.currentEpoch++
		if _, ok := s.minters[s.currentEpoch]; !ok {
			s.minters[s.currentEpoch] = make(map[string]bool)
		}
		log.Info("mint epoch advanced", "epoch", s.currentEpoch)
	}
}

// CurrentEpoch implements ledger.MintPolicy.
func (s *Scheduler) CurrentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentEpoch
}

// DifficultyBits implements ledger.MintPolicy.
func (s *Scheduler) DifficultyBits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.difficultyBits
}

// EpochRewardCil implements ledger.MintPolicy: the emission halves every
// config.RewardHalvingIntervalEpochs epochs, floored at zero once the
// reward would round away entirely.
func (s *Scheduler) EpochRewardCil(epoch uint64) uint64 {
	halvings := epoch / config.RewardHalvingIntervalEpochs
	if halvings >= 64 {
		return 0
	}
	return config.RewardRateInitialCil >> halvings
}

// HasMinted implements ledger.MintPolicy.
func (s *Scheduler) HasMinted(address string, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.minters[epoch]
	if !ok {
		return false
	}
	return set[address]
}

// RecordMinted implements ledger.MintPolicy.
func (s *Scheduler) RecordMinted(address string, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.minters[epoch]
	if !ok {
		set = make(map[string]bool)
		s.minters[epoch] = set
	}
	set[address] = true
}

// IsExcluded reports whether address is a genesis validator barred from
// mining (§4.4 "Bootstrap exclusion").
func (s *Scheduler) IsExcluded(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.excluded[address]
}
