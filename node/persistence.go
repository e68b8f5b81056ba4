package node

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/store"
)

const ledgerSnapshotKey = "ledger/snapshot"

// persistence drives §5's "dirty-flag + in-progress-flag pair" debounced
// save: at most one save runs at a time, and a mutation that lands while
// a save is already in flight triggers exactly one more save once it
// completes, instead of queuing unboundedly.
type persistence struct {
	kv         store.KV
	dirty      atomic.Bool
	inProgress atomic.Bool
}

func newPersistence(kv store.KV) *persistence {
	return &persistence{kv: kv}
}

// MarkDirty is called after every state mutation (an applied block, a
// reward/mint/slash distribution) to schedule the next debounced save.
func (p *persistence) MarkDirty() {
	p.dirty.Store(true)
}

// trySave takes a ledger snapshot under the ledger's own lock (via
// Export, which returns before this function does any I/O) and writes it
// out, retrying once more if MarkDirty fired again while the write was
// in flight.
func (n *Node) trySave() {
	if n.persist == nil {
		return
	}
	if !n.persist.dirty.Load() {
		return
	}
	if !n.persist.inProgress.CompareAndSwap(false, true) {
		return
	}
	defer n.persist.inProgress.Store(false)

	for n.persist.dirty.Load() {
		n.persist.dirty.Store(false)
		snap := n.Ledger.Export()
		raw, err := json.Marshal(snap)
		if err != nil {
			log.Error("failed to encode ledger snapshot for save", "err", err)
			continue
		}
		if err := n.persist.kv.Put(ledgerSnapshotKey, raw); err != nil {
			log.Error("failed to persist ledger snapshot", "err", err)
			n.persist.dirty.Store(true) // retry next tick rather than lose the write
			return
		}
	}
}

// saveLoop implements the save ticker named in §5's timer list, separate
// from the checkpoint-propose ticker even though both currently share
// SaveDebounceInterval as their cadence.
func (n *Node) saveLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.SaveDebounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.trySave()
		case <-ctx.Done():
			return
		}
	}
}
