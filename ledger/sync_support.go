package ledger

import "github.com/losnetwork/los-node/ledgertypes"

// Snapshot is the serializable ledger view exchanged by the sync
// coordinator (§4.7) — SYNC_GZIP / SYNC_VIA_REST payloads marshal this.
type Snapshot struct {
	Accounts              map[string]ledgertypes.AccountState
	Blocks                map[string]ledgertypes.Block
	ClaimedSends          []string
	RemainingPublicSupply uint64
	AccumulatedFees       uint64
	StateRoot             []byte
}

// Export produces a full snapshot of the ledger for gossip/REST transfer,
// including the state_root the receiver compares against its own before
// doing any further work (§4.7 step 1).
func (l *Ledger) Export() Snapshot {
	var snap Snapshot
	l.g.Read(func(s state) {
		snap.Accounts = make(map[string]ledgertypes.AccountState, len(s.accounts))
		for k, v := range s.accounts {
			snap.Accounts[k] = *v
		}
		snap.Blocks = make(map[string]ledgertypes.Block, len(s.blocks))
		for k, v := range s.blocks {
			snap.Blocks[k] = *v
		}
		snap.ClaimedSends = s.claimed.ToSlice()
		snap.RemainingPublicSupply = s.remainingPublicSupply
		snap.AccumulatedFees = s.accumulatedFees
	})
	if root, err := l.ComputeStateRoot(); err == nil {
		snap.StateRoot = root
	}
	return snap
}

// TotalBlockCount returns the sum of block_count over every account in the
// local ledger's view — used by the sync coordinator to decide gap size
// and staleness (§4.7).
func (l *Ledger) TotalBlockCount() uint64 {
	var total uint64
	l.g.Read(func(s state) {
		for _, a := range s.accounts {
			total += a.BlockCount
		}
	})
	return total
}

// MergeBulk applies an incoming snapshot using the §4.7 step-3 "bulk mode"
// rules: adopt any account whose incoming block_count exceeds the local
// one, insert every block not already present, adopt the distribution
// record if it shows more tokens distributed, union claimed_sends, and
// take the maximum of accumulated_fees. Returns the number of accounts
// and blocks adopted.
func (l *Ledger) MergeBulk(snap Snapshot) (accountsAdopted, blocksAdopted int) {
	l.g.With(func(s *state) {
		for address, incoming := range snap.Accounts {
			local, ok := s.accounts[address]
			if !ok || incoming.BlockCount > local.BlockCount {
				cp := incoming
				s.accounts[address] = &cp
				accountsAdopted++
			}
		}
		for hash, b := range snap.Blocks {
			if _, ok := s.blocks[hash]; !ok {
				cp := b
				s.blocks[hash] = &cp
				blocksAdopted++
			}
		}
		if snap.RemainingPublicSupply < s.remainingPublicSupply {
			s.remainingPublicSupply = snap.RemainingPublicSupply
		}
		for _, h := range snap.ClaimedSends {
			s.claimed.Add(h)
		}
		if snap.AccumulatedFees > s.accumulatedFees {
			s.accumulatedFees = snap.AccumulatedFees
		}
	})
	return
}

// StateRootEquals compares a remote state root against the local one,
// short-circuiting sync work when they already match (§4.7 step 1).
func (l *Ledger) StateRootEquals(remote []byte) (bool, error) {
	local, err := l.ComputeStateRoot()
	if err != nil {
		return false, err
	}
	if len(local) != len(remote) {
		return false, nil
	}
	for i := range local {
		if local[i] != remote[i] {
			return false, nil
		}
	}
	return true, nil
}
