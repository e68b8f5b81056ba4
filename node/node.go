// Package node wires every component — ledger, reward pool, mint
// scheduler, slashing manager, checkpoint engine, send-consensus engine,
// sync coordinator, gossip transport, and validator registry — into one
// running validator node, matching §5's event-pump-plus-tickers model.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/addr"
	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/checkpoint"
	"github.com/losnetwork/los-node/config"
	"github.com/losnetwork/los-node/gossip"
	"github.com/losnetwork/los-node/ledger"
	"github.com/losnetwork/los-node/ledgertypes"
	"github.com/losnetwork/los-node/mint"
	"github.com/losnetwork/los-node/rewardpool"
	"github.com/losnetwork/los-node/sendconsensus"
	"github.com/losnetwork/los-node/slashing"
	"github.com/losnetwork/los-node/store"
	"github.com/losnetwork/los-node/syncer"
	"github.com/losnetwork/los-node/validatorreg"
)

// Node owns every subsystem and the tickers that drive them.
type Node struct {
	cfg     *config.Config
	priv    *chainsig.PrivateKey
	address addr.Address

	Ledger        *ledger.Ledger
	RewardPool    *rewardpool.Pool
	Mint          *mint.Scheduler
	Slashing      *slashing.Manager
	Checkpoint    *checkpoint.Engine
	SendConsensus *sendconsensus.Engine
	Sync          *syncer.Coordinator
	Registry      *validatorreg.Registry
	Endpoints     *validatorreg.EndpointBook
	Addresses     *AddressBook
	Transport     gossip.Transport

	appliedSub event.Subscription
	appliedCh  chan ledger.AppliedBlock
	slashingCh chan slashing.AppliedBlock

	liveMu    sync.Mutex
	livePeers map[string]rewardpool.LivePeer

	persist *persistence

	wg sync.WaitGroup
}

// New constructs a fully wired Node. genesisValidators are addresses
// excluded from mining (§4.4 "Bootstrap exclusion") and given zero reward
// weight (§4.3 step 3). kv backs the debounced persistence loop (§5); pass
// store.NewMemory() where durability is not required.
func New(cfg *config.Config, priv *chainsig.PrivateKey, genesisValidators []string, transport gossip.Transport, kv store.KV) *Node {
	address := addr.FromPublicKey(priv.PublicKeyBytes())
	now := time.Now().UnixMilli()

	mintSched := mint.NewScheduler(cfg, genesisValidators, cfg.EpochDuration, now)
	rewardPool := rewardpool.New(cfg, cfg.EpochDuration, now)

	l := ledger.New(cfg, mintSched, rewardPool, nil)

	endpoints := validatorreg.NewEndpointBook()
	registry := validatorreg.New(validatorreg.NewLedgerAdapter(
		func(a string) (uint64, bool) {
			acc, ok := l.Account(a)
			return acc.Balance, ok
		},
		l.SetValidatorFlag,
	), endpoints)

	slashMgr := slashing.New(cfg, l, nil, cfg.ChainID)
	slashMgr.SetOperatorKey(priv)

	checkpointEngine := checkpoint.New(cfg)
	syncCoord := syncer.New(cfg, l, 8*1024*1024)

	n := &Node{
		cfg:           cfg,
		priv:          priv,
		address:       address,
		Ledger:        l,
		RewardPool:    rewardPool,
		Mint:          mintSched,
		Slashing:      slashMgr,
		Checkpoint:    checkpointEngine,
		SendConsensus: nil, // constructed below, needs `n` for ActiveValidatorSet wiring
		Sync:          syncCoord,
		Registry:      registry,
		Endpoints:     endpoints,
		Addresses:     NewAddressBook(),
		Transport:     transport,
		appliedCh:     make(chan ledger.AppliedBlock, 256),
		slashingCh:    make(chan slashing.AppliedBlock, 256),
		livePeers:     make(map[string]rewardpool.LivePeer),
		persist:       newPersistence(kv),
	}

	n.SendConsensus = sendconsensus.New(cfg, l, n, n, cfg.ChainID, priv, address.String())
	slashMgr.SetBroadcaster(n)

	for _, gv := range genesisValidators {
		registry.Register(gv, validatorreg.SourceGenesis, "")
		rewardPool.RegisterValidator(gv, true, 0)
		slashMgr.RegisterValidator(gv)
	}

	n.appliedSub = l.SubscribeApplied(n.appliedCh)
	return n
}

// Address returns this node's own validator address.
func (n *Node) Address() addr.Address { return n.address }

// PublicKeyFor implements checkpoint.PublicKeyLookup: a validator's
// signing key is looked up from their chain's head block (§4.6), since
// the ledger does not keep a separate key registry.
func (n *Node) PublicKeyFor(address string) ([]byte, bool) {
	account, ok := n.Ledger.Account(address)
	if !ok || account.Head == ledgertypes.ZeroHead {
		return nil, false
	}
	b, ok := n.Ledger.Block(account.Head)
	if !ok {
		return nil, false
	}
	return b.PublicKey, true
}

// recordLivePeer stores a signature-verified heartbeat observation for the
// next RecordTick call (§4.3 "Heartbeat recording").
func (n *Node) recordLivePeer(address string, tsMillis int64) {
	n.liveMu.Lock()
	defer n.liveMu.Unlock()
	n.livePeers[address] = rewardpool.LivePeer{Address: address, LastSeenMilli: tsMillis}
}

func (n *Node) livePeerSnapshot() map[string]rewardpool.LivePeer {
	n.liveMu.Lock()
	defer n.liveMu.Unlock()
	out := make(map[string]rewardpool.LivePeer, len(n.livePeers))
	for k, v := range n.livePeers {
		out[k] = v
	}
	return out
}

// quorumSize applies §4.2's max(2, 2f+1) formula over the current active
// validator set, reused by checkpoint finality and fraud-evidence quorums.
func (n *Node) quorumSize() int {
	return sendconsensus.MinDistinctVoters(n.ActiveValidatorCount())
}

// --- sendconsensus.Broadcaster ---

func (n *Node) BroadcastConfirmRequest(hash string, b *ledgertypes.Block) {
	enc, err := encodeBlock(b)
	if err != nil {
		log.Error("failed to encode block for CONFIRM_REQ", "err", err)
		return
	}
	n.broadcast(gossip.EncodeConfirmReq(hash, b.AccountStr, b.Amount, b.Timestamp, enc))
}

func (n *Node) BroadcastBlockConfirmed(send, receive *ledgertypes.Block) {
	sendEnc, err := encodeBlock(send)
	if err != nil {
		log.Error("failed to encode send block for BLOCK_CONFIRMED", "err", err)
		return
	}
	recvEnc, err := encodeBlock(receive)
	if err != nil {
		log.Error("failed to encode receive block for BLOCK_CONFIRMED", "err", err)
		return
	}
	n.broadcast(gossip.EncodeBlockConfirmed(sendEnc, recvEnc))
}

// broadcast pushes a fully formed gossip message out the transport, if
// one is configured (tests and offline tooling may run with none).
func (n *Node) broadcast(message string) {
	if n.Transport == nil {
		return
	}
	n.Transport.Broadcast(message)
}

// --- mint.Broadcaster ---

func (n *Node) BroadcastMinedBlock(b *ledgertypes.Block) {
	enc, err := encodeBlock(b)
	if err != nil {
		log.Error("failed to encode mined block", "err", err)
		return
	}
	n.broadcast(gossip.EncodeMineBlock(enc))
}

// --- rewardpool.Broadcaster ---

func (n *Node) BroadcastRewardBlock(b *ledgertypes.Block) {
	enc, err := encodeBlock(b)
	if err != nil {
		log.Error("failed to encode reward block", "err", err)
		return
	}
	n.broadcast(gossip.EncodeMineBlock(enc))
}

// --- slashing.Broadcaster ---

func (n *Node) BroadcastSlashBlock(b *ledgertypes.Block) {
	enc, err := encodeBlock(b)
	if err != nil {
		log.Error("failed to encode slash block", "err", err)
		return
	}
	n.broadcast(gossip.EncodeMineBlock(enc))
}

// --- wiring shims satisfying sendconsensus.ActiveValidatorSet ---

func (n *Node) ActiveValidatorCount() int {
	return len(n.Registry.Addresses())
}

func (n *Node) BalanceOf(address string) uint64 {
	acc, _ := n.Ledger.Account(address)
	return acc.Balance
}

// Run starts the forwarding goroutine that turns ledger-applied events
// into the shape slashing.Manager consumes, and blocks until ctx is
// cancelled (graceful shutdown path, §5).
func (n *Node) Run(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.pumpAppliedEvents(ctx)
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.Slashing.Run(n.slashingCh, ctx.Done())
	}()

	n.RunDispatch(ctx)
	n.RunTickers(ctx)

	<-ctx.Done()
	n.shutdown()
}

func (n *Node) pumpAppliedEvents(ctx context.Context) {
	for {
		select {
		case applied := <-n.appliedCh:
			n.persist.MarkDirty()
			select {
			case n.slashingCh <- slashing.AppliedBlock{Block: applied.Block, Hash: applied.Hash, HeightBefore: applied.HeightBefore, Direct: applied.Direct}:
			default:
				log.Warn("slashing event channel full, dropping applied-block notification")
			}
		case <-ctx.Done():
			return
		}
	}
}

// shutdown implements §5's graceful-shutdown contract: flush durable
// state and stop, without running further teardown that could block
// inside the storage layer.
func (n *Node) shutdown() {
	n.appliedSub.Unsubscribe()
	close(n.slashingCh)
	n.wg.Wait()
	n.trySave()
	log.Info("node shutdown complete")
}
