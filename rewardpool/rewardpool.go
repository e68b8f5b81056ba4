// Package rewardpool implements the epoch-driven validator reward and fee
// distribution described in §4.3: heartbeat liveness tracking, a
// deterministic leader election, and the three-phase reward pipeline
// (collect templates under the pool's own lock, PoW+sign with no locks,
// apply each block through ApplyBlock, which takes the ledger lock per
// call). The ledger lock is not held while templates are collected. It
// satisfies ledger.RewardPoolSink so the ledger can debit
// the pool without importing this package.
package rewardpool

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/config"
)

// Status mirrors §3's ValidatorProfile.status enum for the reward pool's
// own bookkeeping.
type Status int

const (
	StatusActive Status = iota
	StatusUnstaking
	StatusBanned
)

// ValidatorRecord is the per-validator accounting the reward pool keeps,
// independent of (but kept consistent with) the ledger's own account
// balances.
type ValidatorRecord struct {
	Address              string
	IsGenesis            bool
	JoinEpoch            uint64
	StakeCil             uint64
	HeartbeatsCurrent    uint64
	HeartbeatsCumulative uint64
	ExpectedHeartbeats   uint64
	CumulativeRewardsCil uint64
	Status               Status
}

// Pool holds the reward-pool state described in §4.3's "State" list.
type Pool struct {
	cfg *config.Config

	mu                   sync.Mutex
	remainingCil         uint64
	totalDistributedCil  uint64
	currentEpoch         uint64
	epochStartMillis     int64
	epochDurationMillis  int64
	validators           map[string]*ValidatorRecord
	heartbeatedThisTick  map[string]bool // idempotency set, cleared every tick
	proxied              map[string]bool // locally-registered addresses this node vouches for
}

// New constructs an empty reward pool funded with the configured budget.
func New(cfg *config.Config, epochDuration time.Duration, startMillis int64) *Pool {
	return &Pool{
		cfg:                 cfg,
		remainingCil:        config.ValidatorRewardPoolCil,
		currentEpoch:        0,
		epochStartMillis:    startMillis,
		epochDurationMillis: int64(epochDuration / time.Millisecond),
		validators:          make(map[string]*ValidatorRecord),
		heartbeatedThisTick: make(map[string]bool),
		proxied:             make(map[string]bool),
	}
}

// DeductRewardPool implements ledger.RewardPoolSink.
func (p *Pool) DeductRewardPool(amountCil uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amountCil > p.remainingCil {
		p.remainingCil = 0
	} else {
		p.remainingCil -= amountCil
	}
	p.totalDistributedCil += amountCil
	return nil
}

// RegisterValidator adds or updates a validator's reward-pool record.
func (p *Pool) RegisterValidator(address string, isGenesis bool, stakeCil uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.validators[address]
	if !ok {
		rec = &ValidatorRecord{Address: address, IsGenesis: isGenesis, JoinEpoch: p.currentEpoch, Status: StatusActive}
		p.validators[address] = rec
	}
	rec.StakeCil = stakeCil
	rec.Status = StatusActive
}

// SetProxied marks address as one this node proxies heartbeats for
// (locally-registered validator, §4.3).
func (p *Pool) SetProxied(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxied[address] = true
}

// RemainingCil and TotalDistributedCil expose pool-view statistics for
// diagnostics and AuditSupply callers.
func (p *Pool) RemainingCil() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remainingCil
}

func (p *Pool) TotalDistributedCil() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalDistributedCil
}

func (p *Pool) CurrentEpoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentEpoch
}

// sortedAddresses returns every registered validator address sorted, for
// deterministic leader election (§4.3 step 1).
func (p *Pool) sortedAddresses() []string {
	addrs := make([]string, 0, len(p.validators))
	for a := range p.validators {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return addrs
}

// IsLeader reports whether address is the deterministic leader for the
// current epoch: leader_index = current_epoch mod len(validators).
func (p *Pool) IsLeader(address string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	addrs := p.sortedAddresses()
	if len(addrs) == 0 {
		return false
	}
	idx := p.currentEpoch % uint64(len(addrs))
	return addrs[idx] == address
}

// sync_reward_from_gossip keeps pool-view statistics consistent when a
// non-leader observes a reward/fee Mint block applied via gossip (§4.3).
func (p *Pool) SyncRewardFromGossip(address string, amountCil uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amountCil > p.remainingCil {
		p.remainingCil = 0
	} else {
		p.remainingCil -= amountCil
	}
	p.totalDistributedCil += amountCil
	if rec, ok := p.validators[address]; ok {
		rec.CumulativeRewardsCil += amountCil
	}
}

// CatchUpEpochs fast-forwards current_epoch and zeroes heartbeats for
// every epoch that elapsed while the node was offline (§4.3 "Catch-up").
func (p *Pool) CatchUpEpochs(nowMillis int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.epochDurationMillis > 0 && nowMillis >= p.epochStartMillis+p.epochDurationMillis {
		p.epochStartMillis += p.epochDurationMillis
		p.currentEpoch++
		p.resetHeartbeatsLocked()
	}
}

func (p *Pool) resetHeartbeatsLocked() {
	for _, rec := range p.validators {
		rec.HeartbeatsCurrent = 0
	}
	p.heartbeatedThisTick = make(map[string]bool)
}

// EpochBoundaryReached reports whether wall-clock has crossed
// epoch_start + epoch_duration (§4.3 "Epoch completion").
func (p *Pool) EpochBoundaryReached(nowMillis int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epochDurationMillis > 0 && nowMillis >= p.epochStartMillis+p.epochDurationMillis
}

// AdvanceEpoch increments current_epoch, resets per-epoch heartbeat
// counters, and returns the epoch number just completed. Every node calls
// this at the boundary; only the leader additionally runs the reward
// pipeline (§4.3 step 1).
func (p *Pool) AdvanceEpoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	completed := p.currentEpoch
	p.epochStartMillis += p.epochDurationMillis
	p.currentEpoch++
	p.resetHeartbeatsLocked()
	log.Info("reward pool epoch advanced", "completed_epoch", completed, "new_epoch", p.currentEpoch)
	return completed
}
