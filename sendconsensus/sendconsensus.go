// Package sendconsensus implements the stake-weighted send-confirmation
// protocol described in §4.2: every Send block is independently
// finalized by accumulating distinct-voter stake-weighted votes until a
// quorum threshold is crossed, at which point the originating node
// applies the Send, auto-constructs the matching Receive, and gossips
// BLOCK_CONFIRMED.
package sendconsensus

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/blockbuilder"
	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/config"
	"github.com/losnetwork/los-node/ledgertypes"
)

const pendingTTL = 300 * time.Second

// LedgerView is the slice of ledger.Ledger the send-consensus engine
// needs: validating and applying the originator's own Send (normal path)
// and applying confirmed blocks directly (bypassing chain-sequence,
// §4.2 step 5).
type LedgerView interface {
	ApplyBlock(b *ledgertypes.Block) (string, error)
	ApplyDirect(b *ledgertypes.Block) (string, error)
	Account(address string) (ledgertypes.AccountState, bool)
}

// Broadcaster pushes CONFIRM_REQ / BLOCK_CONFIRMED gossip messages.
type Broadcaster interface {
	BroadcastConfirmRequest(hash string, b *ledgertypes.Block)
	BroadcastBlockConfirmed(send, receive *ledgertypes.Block)
}

// ActiveValidatorSet answers the questions the quorum formula needs:
// total active validator count and balance-weighted stake lookups.
type ActiveValidatorSet interface {
	ActiveValidatorCount() int
	BalanceOf(address string) uint64
}

type pendingSend struct {
	block        *ledgertypes.Block
	recipient    string
	createdAt    time.Time
	voters       map[string]uint64 // voter address -> voting power
	cumulative   uint64
}

// Engine tracks in-flight Send confirmations.
type Engine struct {
	cfg     *config.Config
	ledger  LedgerView
	bcast   Broadcaster
	active  ActiveValidatorSet
	chainID config.ChainID
	nodeKey *chainsig.PrivateKey
	nodeID  string

	mu              sync.Mutex
	pending         map[string]*pendingSend
	activeStakeHint uint64
}

// New constructs a send-consensus engine bound to a node's own signing
// key (used to author the auto-constructed Receive block, §4.2 step 4).
func New(cfg *config.Config, ledger LedgerView, bcast Broadcaster, active ActiveValidatorSet, chainID config.ChainID, nodeKey *chainsig.PrivateKey, nodeID string) *Engine {
	return &Engine{
		cfg:     cfg,
		ledger:  ledger,
		bcast:   bcast,
		active:  active,
		chainID: chainID,
		nodeKey: nodeKey,
		nodeID:  nodeID,
		pending: make(map[string]*pendingSend),
	}
}

// MinDistinctVoters implements §4.2's quorum formula: max(2, 2f+1), f =
// (n-1)/3, with n=1 → 1 (bootstrap). Checkpoint finality and fraud-evidence
// quorums reuse this same formula over the active validator set.
func MinDistinctVoters(n int) int {
	if n <= 1 {
		return 1
	}
	f := (n - 1) / 3
	q := 2*f + 1
	if q < 2 {
		return 2
	}
	return q
}

// PropagateSend implements §4.2 step 1: the originating node validates a
// Send locally (via a trial, non-committing check left to the caller),
// registers it as pending, and returns the CONFIRM_REQ payload to
// broadcast. On testnet (mainnet-bypass), callers should instead call
// FinalizeBypassed directly.
func (e *Engine) PropagateSend(hash string, b *ledgertypes.Block) {
	e.mu.Lock()
	e.pending[hash] = &pendingSend{
		block:      b,
		recipient:  b.Link,
		createdAt:  time.Now(),
		voters:     make(map[string]uint64),
		cumulative: 0,
	}
	e.mu.Unlock()

	if e.bcast != nil {
		e.bcast.BroadcastConfirmRequest(hash, b)
	}
}

// RecordVote implements §4.2 steps 2-3: a distinct-voter CONFIRM_RES
// accumulates calculate_voting_power(V.balance) toward the tally. The
// caller has already verified V's signature and that V did not self-vote.
// Returns true the moment this vote pushes the tally across quorum for
// the first time.
func (e *Engine) RecordVote(hash, voter string, voterBalance uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[hash]
	if !ok {
		return false
	}
	if _, already := p.voters[voter]; already {
		return false // distinct-voter dedup (P-equivalent of anti-inflation)
	}
	power := calculateVotingPower(voterBalance)
	p.voters[voter] = power
	p.cumulative += power

	n := 1
	if e.active != nil {
		n = e.active.ActiveValidatorCount()
	}
	quorumVoters := MinDistinctVoters(n)

	var totalStake uint64
	if e.active != nil {
		// Total active stake is the denominator last supplied through
		// SetActiveStakeHint (zero until it is first set).
		totalStake = e.totalActiveStakeLocked()
	}
	if totalStake == 0 {
		return false
	}

	threshold := totalStake * uint64(config.SendConsensusThreshold)
	thresholdMet := p.cumulative*10000 >= threshold
	wasMet := (p.cumulative-power)*10000 >= threshold && len(p.voters)-1 >= quorumVoters
	return thresholdMet && len(p.voters) >= quorumVoters && !wasMet
}

func (e *Engine) totalActiveStakeLocked() uint64 {
	// ActiveValidatorSet does not enumerate addresses; node wiring feeds
	// the denominator directly via SetActiveStakeHint to avoid requiring
	// an enumeration method on every implementation.
	return e.activeStakeHint
}

// SetActiveStakeHint lets the node periodically refresh the denominator
// used in the quorum threshold check (sum of active validator balances).
func (e *Engine) SetActiveStakeHint(total uint64) {
	e.mu.Lock()
	e.activeStakeHint = total
	e.mu.Unlock()
}

// calculateVotingPower implements §4.2 "calculate_voting_power(balance) =
// balance (linear in stake)".
func calculateVotingPower(balance uint64) uint64 {
	return balance
}

// Finalize implements §4.2 step 4: applies the Send to the local ledger,
// auto-constructs the matching Receive signed by this node's own key, and
// returns both blocks for the caller to gossip as BLOCK_CONFIRMED.
func (e *Engine) Finalize(hash string) (send, receive *ledgertypes.Block, err error) {
	e.mu.Lock()
	p, ok := e.pending[hash]
	if ok {
		delete(e.pending, hash)
	}
	e.mu.Unlock()
	if !ok {
		return nil, nil, nil
	}

	sendHash, err := e.ledger.ApplyBlock(p.block)
	if err != nil {
		return nil, nil, err
	}

	recipientAccount, _ := e.ledger.Account(p.recipient)
	clock := func() int64 { return time.Now().UnixMilli() }
	recv, err := blockbuilder.Build(e.nodeKey, p.recipient, recipientAccount.Head, ledgertypes.Receive, p.block.Amount, sendHash, 0, e.chainID, clock)
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.ledger.ApplyBlock(recv); err != nil {
		return nil, nil, err
	}

	log.Info("send finalized via quorum", "hash", hash, "recipient", p.recipient)
	if e.bcast != nil {
		e.bcast.BroadcastBlockConfirmed(p.block, recv)
	}
	return p.block, recv, nil
}

// FinalizeBypassed implements §4.2's testnet bypass: sends finalize
// immediately with no vote collection, gossiping BLOCK_CONFIRMED
// directly.
func (e *Engine) FinalizeBypassed(b *ledgertypes.Block) (send, receive *ledgertypes.Block, err error) {
	sendHash, err := e.ledger.ApplyBlock(b)
	if err != nil {
		return nil, nil, err
	}
	recipientAccount, _ := e.ledger.Account(b.Link)
	clock := func() int64 { return time.Now().UnixMilli() }
	recv, err := blockbuilder.Build(e.nodeKey, b.Link, recipientAccount.Head, ledgertypes.Receive, b.Amount, sendHash, 0, e.chainID, clock)
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.ledger.ApplyBlock(recv); err != nil {
		return nil, nil, err
	}
	if e.bcast != nil {
		e.bcast.BroadcastBlockConfirmed(b, recv)
	}
	return b, recv, nil
}

// ApplyConfirmed implements §4.2 step 5: a peer receiving BLOCK_CONFIRMED
// re-verifies and applies both blocks via ApplyDirect, which bypasses the
// chain-sequence check since the peer's local head for the sender may
// legitimately diverge. A returned error here represents an observed
// fork, not necessarily a rejected block — ApplyDirect still applies and
// reports it.
func (e *Engine) ApplyConfirmed(send, receive *ledgertypes.Block) (forkSend, forkReceive error) {
	if _, err := e.ledger.ApplyDirect(send); err != nil {
		forkSend = err
		log.Warn("fork observed applying confirmed send", "err", err)
	}
	if _, err := e.ledger.ApplyDirect(receive); err != nil {
		forkReceive = err
		log.Warn("fork observed applying confirmed receive", "err", err)
	}
	return
}

// GCExpired drops pending entries older than 300s along with their vote
// sets (§4.2 "Timeouts").
func (e *Engine) GCExpired(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for hash, p := range e.pending {
		if now.Sub(p.createdAt) > pendingTTL {
			delete(e.pending, hash)
			removed++
		}
	}
	return removed
}
