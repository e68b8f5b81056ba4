package rewardpool

import (
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/blockbuilder"
	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/config"
	"github.com/losnetwork/los-node/ledgertypes"
)

// LedgerView is the slice of ledger.Ledger the reward pipeline needs.
type LedgerView interface {
	Account(address string) (ledgertypes.AccountState, bool)
	ApplyBlock(b *ledgertypes.Block) (string, error)
	AccumulatedFees() uint64
}

// Broadcaster pushes freshly minted reward/fee blocks out over gossip
// after all locks are released (§4.3 step 4 "queued for gossip after all
// locks are released").
type Broadcaster interface {
	BroadcastRewardBlock(b *ledgertypes.Block)
}

type rewardTemplate struct {
	address string
	amount  uint64
	link    string
	head    string
}

// RefreshStakeWeights implements §4.3 step 2: the leader refreshes stake
// weights from current ledger balances before computing rewards.
func (p *Pool) RefreshStakeWeights(ledger LedgerView) {
	p.mu.Lock()
	addrs := p.sortedAddresses()
	p.mu.Unlock()

	for _, a := range addrs {
		account, ok := ledger.Account(a)
		if !ok {
			continue
		}
		p.mu.Lock()
		if rec, ok := p.validators[a]; ok {
			rec.StakeCil = account.Balance
		}
		p.mu.Unlock()
	}
}

// collectRewardTemplates is phase 1 of the pipeline (§4.3 step 3):
// compute each eligible validator's proportional reward while holding
// only the pool's own lock, never the ledger's.
func (p *Pool) collectRewardTemplates(epoch uint64, rewardRateCil uint64, minUptimePct uint64) []rewardTemplate {
	p.mu.Lock()
	defer p.mu.Unlock()

	var totalEligibleStake uint64
	type candidate struct {
		address string
		weight  float64
	}
	var candidates []candidate

	for _, rec := range p.validators {
		if rec.IsGenesis || rec.Status != StatusActive {
			continue
		}
		if rec.ExpectedHeartbeats == 0 {
			continue
		}
		uptimePct := rec.HeartbeatsCurrent * 100 / rec.ExpectedHeartbeats
		if uptimePct < minUptimePct {
			continue
		}
		livenessFactor := float64(rec.HeartbeatsCurrent) / float64(rec.ExpectedHeartbeats)
		if livenessFactor > 1 {
			livenessFactor = 1
		}
		candidates = append(candidates, candidate{address: rec.Address, weight: float64(rec.StakeCil) * livenessFactor})
		totalEligibleStake += rec.StakeCil
	}

	if totalEligibleStake == 0 || len(candidates) == 0 {
		return nil
	}

	var totalWeight float64
	for _, c := range candidates {
		totalWeight += c.weight
	}
	if totalWeight == 0 {
		return nil
	}

	templates := make([]rewardTemplate, 0, len(candidates))
	for _, c := range candidates {
		share := c.weight / totalWeight
		amount := uint64(float64(rewardRateCil) * share)
		if amount == 0 {
			continue
		}
		templates = append(templates, rewardTemplate{address: c.address, amount: amount, link: ledgertypes.RewardLink(epoch)})
	}
	return templates
}

// collectFeeTemplates is phase 1 for fee distribution (§4.3 step 5): drain
// accumulated_fees, split proportional to active-validator stake.
func (p *Pool) collectFeeTemplates(epoch uint64, accumulatedFees uint64) []rewardTemplate {
	p.mu.Lock()
	defer p.mu.Unlock()

	var totalStake uint64
	var actives []*ValidatorRecord
	for _, rec := range p.validators {
		if rec.Status != StatusActive {
			continue
		}
		actives = append(actives, rec)
		totalStake += rec.StakeCil
	}
	if totalStake == 0 || accumulatedFees == 0 {
		return nil
	}

	templates := make([]rewardTemplate, 0, len(actives))
	for _, rec := range actives {
		amount := accumulatedFees * rec.StakeCil / totalStake
		if amount == 0 {
			continue
		}
		templates = append(templates, rewardTemplate{address: rec.Address, amount: amount, link: ledgertypes.FeeRewardLink(epoch)})
	}
	return templates
}

// RunEpochRewardPipeline executes the full three-phase leader pipeline for
// one completed epoch: collect templates (pool lock only), PoW+sign with
// no locks held, then apply each signed block individually (ledger takes
// its own lock per ApplyBlock call) and broadcast only after every lock
// has been released (§4.3, §5 "three phases").
func (p *Pool) RunEpochRewardPipeline(epoch uint64, priv *chainsig.PrivateKey, leaderAddress string, ledger LedgerView, bcast Broadcaster, chainID config.ChainID, minUptimePct uint64) {
	clock := func() int64 { return time.Now().UnixMilli() }

	p.RefreshStakeWeights(ledger)

	rewardRate := config.RewardRateInitialCil
	rewardTemplates := p.collectRewardTemplates(epoch, rewardRate, minUptimePct)

	for _, t := range rewardTemplates {
		account, _ := ledger.Account(t.address)
		block, err := blockbuilder.Build(priv, t.address, account.Head, ledgertypes.Mint, t.amount, t.link, 0, chainID, clock)
		if err != nil {
			log.Error("failed to build reward block", "address", t.address, "err", err)
			continue
		}
		if _, err := ledger.ApplyBlock(block); err != nil {
			log.Error("reward block rejected by local ledger", "address", t.address, "err", err)
			continue
		}
		p.SyncRewardFromGossip(t.address, t.amount)
		if bcast != nil {
			bcast.BroadcastRewardBlock(block)
		}
	}

	fees := ledger.AccumulatedFees()
	feeTemplates := p.collectFeeTemplates(epoch, fees)
	for _, t := range feeTemplates {
		account, _ := ledger.Account(t.address)
		block, err := blockbuilder.Build(priv, t.address, account.Head, ledgertypes.Mint, t.amount, t.link, 0, chainID, clock)
		if err != nil {
			log.Error("failed to build fee-reward block", "address", t.address, "err", err)
			continue
		}
		if _, err := ledger.ApplyBlock(block); err != nil {
			log.Error("fee-reward block rejected by local ledger", "address", t.address, "err", err)
			continue
		}
		p.SyncRewardFromGossip(t.address, t.amount)
		if bcast != nil {
			bcast.BroadcastRewardBlock(block)
		}
	}

	log.Info("epoch reward pipeline complete", "epoch", epoch, "leader", leaderAddress, "reward_recipients", len(rewardTemplates), "fee_recipients", len(feeTemplates))
}
