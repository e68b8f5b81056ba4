// Package slashing detects Byzantine behavior — double-signing, downtime,
// and fraud evidence quorums — and records penalties as Slash blocks
// (§4.5). It subscribes to the ledger's applied-block feed rather than
// importing ledger internals, matching the decoupling every other
// consumer of ledger.Ledger uses.
package slashing

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/blockbuilder"
	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/config"
	"github.com/losnetwork/los-node/ledgertypes"
)

// ValidatorStatus mirrors §3's ValidatorProfile.status.
type ValidatorStatus int

const (
	StatusActive ValidatorStatus = iota
	StatusUnstaking
	StatusBanned
)

type signRecord struct {
	height uint64
	hash   string
}

// LedgerView is the slice of ledger.Ledger the slashing manager needs.
type LedgerView interface {
	ApplyBlock(b *ledgertypes.Block) (string, error)
	Account(address string) (ledgertypes.AccountState, bool)
	SubscribeApplied(ch chan<- AppliedBlock) event.Subscription
}

// AppliedBlock mirrors ledger.AppliedBlock; declared locally so this
// package does not need to import ledger for its concrete type (only the
// LedgerView interface it's handed satisfies the shape ledger.Ledger
// already emits).
type AppliedBlock struct {
	Block        ledgertypes.Block
	Hash         string
	HeightBefore uint64
	Direct       bool
}

// Broadcaster pushes freshly constructed Slash blocks over gossip.
type Broadcaster interface {
	BroadcastSlashBlock(b *ledgertypes.Block)
}

// Manager implements §4.5: double-sign detection, downtime penalties,
// voluntary unstake, and fraud-evidence quorum execution.
type Manager struct {
	cfg     *config.Config
	ledger  LedgerView
	bcast   Broadcaster
	chainID config.ChainID

	mu            sync.Mutex
	registered    map[string]bool
	status        map[string]ValidatorStatus
	signedAtH     map[string]map[uint64]signRecord // validator -> height -> (first seen hash)
	participation map[string]uint64                // validator -> blocks observed
	globalHeight  uint64
	operatorKey   *chainsig.PrivateKey

	fraud *FraudTracker
}

// SetOperatorKey supplies the key this node uses to author Slash blocks
// it detects the need for. Detection still runs without one; only block
// authorship is gated on it.
func (m *Manager) SetOperatorKey(priv *chainsig.PrivateKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operatorKey = priv
}

// New constructs a slashing manager. It does not subscribe to the ledger's
// applied-block feed itself; applied blocks reach it through Run.
func New(cfg *config.Config, ledger LedgerView, bcast Broadcaster, chainID config.ChainID) *Manager {
	m := &Manager{
		cfg:           cfg,
		ledger:        ledger,
		bcast:         bcast,
		chainID:       chainID,
		registered:    make(map[string]bool),
		status:        make(map[string]ValidatorStatus),
		signedAtH:     make(map[string]map[uint64]signRecord),
		participation: make(map[string]uint64),
		fraud:         newFraudTracker(),
	}
	return m
}

// SetBroadcaster wires the gossip broadcaster after construction, since
// the node's own Broadcaster implementation typically needs the manager
// to already exist.
func (m *Manager) SetBroadcaster(bcast Broadcaster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bcast = bcast
}

// Run processes applied-block events from ch until ch is closed or stop
// is closed (the caller owns the subscription that feeds ch; this method
// blocks on the channel, matching the teacher's event-pump consumption
// style).
func (m *Manager) Run(ch <-chan AppliedBlock, stop <-chan struct{}) {
	for {
		select {
		case applied, ok := <-ch:
			if !ok {
				return
			}
			m.observe(applied)
		case <-stop:
			return
		}
	}
}

// RegisterValidator marks address as a registered validator subject to
// double-sign/downtime detection.
func (m *Manager) RegisterValidator(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[address] = true
	m.status[address] = StatusActive
}

// Unregister implements §4.5 "Voluntary unstake": marks address Unstaking
// and removes it from the active set; balance is untouched.
func (m *Manager) Unregister(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[address] = StatusUnstaking
	delete(m.registered, address)
}

func (m *Manager) isSystemBlock(t ledgertypes.BlockType) bool {
	return t == ledgertypes.Mint || t == ledgertypes.Slash
}

// observe implements the double-sign check and downtime participation
// bookkeeping for one applied block.
func (m *Manager) observe(applied AppliedBlock) {
	m.mu.Lock()
	m.globalHeight++
	if m.globalHeight < applied.HeightBefore+1 {
		m.globalHeight = applied.HeightBefore + 1
	}
	address := applied.Block.AccountStr
	m.participation[address]++

	var conflict *signRecord
	if m.registered[address] && !m.isSystemBlock(applied.Block.Type) {
		byHeight, ok := m.signedAtH[address]
		if !ok {
			byHeight = make(map[uint64]signRecord)
			m.signedAtH[address] = byHeight
		}
		h := applied.HeightBefore
		if prior, seen := byHeight[h]; seen {
			if prior.hash != applied.Hash {
				c := prior
				conflict = &c
			}
		} else {
			byHeight[h] = signRecord{height: h, hash: applied.Hash}
		}
	}
	m.mu.Unlock()

	if conflict != nil {
		log.Warn("double-sign detected", "validator", address, "height", applied.HeightBefore, "hash_a", conflict.hash, "hash_b", applied.Hash)
		m.penalizeDoubleSign(address, applied.Hash)
	}
}

// penalizeDoubleSign implements §4.5's 100%-balance double-sign penalty:
// constructs, applies, and gossips a Slash block with link
// "PENALTY:DOUBLE_SIGN:<hash>".
func (m *Manager) penalizeDoubleSign(address, conflictHash string) {
	account, ok := m.ledger.Account(address)
	if !ok {
		return
	}
	// Penalizing requires a key the slashing manager does not hold for
	// validators — system slash blocks are submitted by whichever node
	// detects the violation, signed with that node's own key acting as an
	// attester. The penalty amount itself is encoded in the block and
	// validated independently by every peer re-applying it.
	m.submitSlash(address, account.Balance, ledgertypes.DoubleSignLink(conflictHash))
}

// CheckDowntime implements §4.5's downtime path: compares each
// registered validator's participation against global observed height
// and, if the shortfall crosses the configured threshold, emits a 1%
// downtime Slash block.
func (m *Manager) CheckDowntime(minParticipationPct uint64) {
	m.mu.Lock()
	global := m.globalHeight
	type target struct {
		address string
		seen    uint64
	}
	var targets []target
	for address := range m.registered {
		targets = append(targets, target{address: address, seen: m.participation[address]})
	}
	m.mu.Unlock()

	if global == 0 {
		return
	}
	for _, t := range targets {
		pct := t.seen * 100 / global
		if pct >= minParticipationPct {
			continue
		}
		account, ok := m.ledger.Account(t.address)
		if !ok || account.Balance == 0 {
			continue
		}
		penalty := account.Balance / 100
		if penalty == 0 {
			continue
		}
		m.submitSlash(t.address, penalty, ledgertypes.DowntimeLink(global))
	}
}

// submitSlash is shared by the double-sign and downtime paths: it is a
// signing operation performed by whichever node owns this Manager acting
// as the network's witness, so it needs the node's own operator key
// rather than the offender's.
func (m *Manager) submitSlash(address string, amount uint64, link string) {
	// The operator key is supplied via SetOperatorKey; without one this
	// manager can still detect and log violations (useful for a read-only
	// observer) but cannot author the penalty block itself.
	m.mu.Lock()
	key := m.operatorKey
	m.mu.Unlock()
	if key == nil {
		log.Warn("slash condition met but no operator key configured; skipping block submission", "address", address, "link", link)
		return
	}
	account, ok := m.ledger.Account(address)
	if !ok {
		return
	}
	clock := func() int64 { return time.Now().UnixMilli() }
	block, err := blockbuilder.Build(key, address, account.Head, ledgertypes.Slash, amount, link, 0, m.chainID, clock)
	if err != nil {
		log.Error("failed to build slash block", "err", err)
		return
	}
	if _, err := m.ledger.ApplyBlock(block); err != nil {
		log.Error("slash block rejected by local ledger", "err", err)
		return
	}
	log.Info("slash applied", "address", address, "amount_cil", amount, "link", link)
	if m.bcast != nil {
		m.bcast.BroadcastSlashBlock(block)
	}
}
