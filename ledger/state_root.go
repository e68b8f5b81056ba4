package ledger

import (
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/losnetwork/los-node/chainsig"
)

type accountRecord struct {
	Address    string
	Balance    uint64
	Head       string
	BlockCount uint64
}

// ComputeStateRoot returns a deterministic hash over the canonical sorted
// encoding of every (address, balance, head, block_count) tuple (§4.1).
// Identical on all honest nodes holding identical account state; the
// supply counters (remaining public supply, accumulated fees, slashed
// total) are not part of the hash.
func (l *Ledger) ComputeStateRoot() ([]byte, error) {
	var records []accountRecord
	l.g.Read(func(s state) {
		records = make([]accountRecord, 0, len(s.accounts))
		for address, a := range s.accounts {
			records = append(records, accountRecord{
				Address:    address,
				Balance:    a.Balance,
				Head:       a.Head,
				BlockCount: a.BlockCount,
			})
		}
	})
	sort.Slice(records, func(i, j int) bool { return records[i].Address < records[j].Address })

	enc, err := rlp.EncodeToBytes(records)
	if err != nil {
		return nil, err
	}
	return chainsig.Keccak256(enc), nil
}
