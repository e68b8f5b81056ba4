package ledger

import (
	"fmt"

	"github.com/losnetwork/los-node/config"
)

// AuditSupply recomputes I4 — total_supply = Σ balances +
// remaining_public_supply + Σ slashed + accumulated_fees +
// reward_pool_remaining — and returns a descriptive error if the books do
// not balance. It never mutates state and never halts the node; callers
// (the node's periodic auditor) log the returned error at CRITICAL and
// keep serving (§7 "Invariant violation"). rewardPoolDistributed is
// reported for diagnostics only: it is already reflected inside Σ
// balances once a reward Mint block lands, so it is not itself a term of
// the conservation equation.
func (l *Ledger) AuditSupply(rewardPoolRemaining, rewardPoolDistributed uint64) error {
	var totalBalances uint64
	var remainingPublic, accumulatedFees, slashed uint64

	l.g.Read(func(s state) {
		for _, a := range s.accounts {
			totalBalances += a.Balance
		}
		remainingPublic = s.remainingPublicSupply
		accumulatedFees = s.accumulatedFees
		slashed = s.slashedTotal
	})

	// The tracked supply is the portion the core itself emits and
	// accounts for: the public PoW/faucet pool plus the validator reward
	// pool. Both start fully undistributed and conserve exactly as CIL
	// migrates between buckets (balances, fees, slashed) — nothing is
	// created or destroyed by any apply path.
	trackedSupplyCil := uint64(config.PublicSupplyCap) + uint64(config.ValidatorRewardPoolCil)
	accounted := totalBalances + remainingPublic + slashed + accumulatedFees + rewardPoolRemaining

	if accounted != trackedSupplyCil {
		return fmt.Errorf(
			"%w: want=%d accounted=%d (balances=%d remaining_public=%d slashed=%d fees=%d reward_pool_remaining=%d reward_pool_distributed=%d)",
			ErrSupplyInvariant, trackedSupplyCil, accounted, totalBalances, remainingPublic, slashed, accumulatedFees, rewardPoolRemaining, rewardPoolDistributed,
		)
	}
	return nil
}
