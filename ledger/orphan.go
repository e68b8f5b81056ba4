package ledger

import "github.com/losnetwork/los-node/ledgertypes"

// RemoveOrphanedBlocks scans the blocks map for entries not reachable from
// any account's head chain and deletes them, returning the count removed.
// Invoked after bulk state ingestion (§4.1, §4.7 step 5).
func (l *Ledger) RemoveOrphanedBlocks() int {
	removed := 0
	l.g.With(func(s *state) {
		reachable := make(map[string]bool, len(s.blocks))
		for _, a := range s.accounts {
			h := a.Head
			for h != ledgertypes.ZeroHead {
				if reachable[h] {
					break // already walked this suffix from another account (shouldn't happen, but avoid infinite loop on corrupt data)
				}
				b, ok := s.blocks[h]
				if !ok {
					break
				}
				reachable[h] = true
				h = b.Previous
			}
		}
		for h := range s.blocks {
			if !reachable[h] {
				delete(s.blocks, h)
				removed++
			}
		}
	})
	return removed
}
