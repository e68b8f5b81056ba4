package mint

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/addr"
	"github.com/losnetwork/los-node/blockbuilder"
	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/config"
	"github.com/losnetwork/los-node/ledgertypes"
)

// LedgerView is the slice of ledger.Ledger the miner worker pool needs:
// read the account's chain head and apply a constructed Mint block.
type LedgerView interface {
	Account(address string) (ledgertypes.AccountState, bool)
	ApplyBlock(b *ledgertypes.Block) (string, error)
}

// Broadcaster pushes a freshly mined block out over gossip (§4.4
// "gossips as MINE_BLOCK").
type Broadcaster interface {
	BroadcastMinedBlock(b *ledgertypes.Block)
}

// Miner runs a cancellable worker pool that repeatedly attempts to mine
// the current epoch's reward, applying and broadcasting on success
// (§4.4, §5 "miner worker pool").
type Miner struct {
	cfg       *config.Config
	sched     *Scheduler
	ledger    LedgerView
	priv      *chainsig.PrivateKey
	address   addr.Address
	bcast     Broadcaster
	numWorker int
}

// NewMiner constructs a Miner bound to a specific keypair/address.
func NewMiner(cfg *config.Config, sched *Scheduler, ledger LedgerView, priv *chainsig.PrivateKey, address addr.Address, bcast Broadcaster, numWorker int) *Miner {
	if numWorker < 1 {
		numWorker = 1
	}
	return &Miner{cfg: cfg, sched: sched, ledger: ledger, priv: priv, address: address, bcast: bcast, numWorker: numWorker}
}

// Run blocks, repeatedly mining until ctx is cancelled. Each successful
// find immediately starts the next search at the (possibly advanced)
// current epoch.
func (m *Miner) Run(ctx context.Context) {
	if m.sched.IsExcluded(m.address.String()) {
		log.Info("address excluded from mining (genesis validator)", "address", m.address.String())
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.attemptOnce(ctx)
	}
}

func (m *Miner) attemptOnce(ctx context.Context) {
	epoch := m.sched.CurrentEpoch()
	address := m.address.String()

	if m.sched.HasMinted(address, epoch) {
		time.Sleep(time.Second)
		return
	}

	difficulty := m.sched.DifficultyBits()
	nonce, ok := Mine(ctx, address, epoch, difficulty, m.numWorker)
	if !ok {
		return
	}

	account, _ := m.ledger.Account(address)
	reward := m.sched.EpochRewardCil(epoch)
	link := ledgertypes.MineLink(epoch, nonce)

	block, err := blockbuilder.Build(m.priv, address, account.Head, ledgertypes.Mint, reward, link, 0, m.cfg.ChainID, func() int64 { return time.Now().UnixMilli() })
	if err != nil {
		log.Error("failed to build mint block", "err", err)
		return
	}

	if _, err := m.ledger.ApplyBlock(block); err != nil {
		log.Warn("mined block rejected by local ledger", "err", err, "epoch", epoch)
		return
	}

	log.Info("mined reward", "epoch", epoch, "reward_cil", reward, "address", address)
	if m.bcast != nil {
		m.bcast.BroadcastMinedBlock(block)
	}
}
