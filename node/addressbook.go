package node

import "sync"

// AddressBook tracks every peer this node has exchanged an ID message
// with (§6 "ID:<addr>:<remaining_supply>:<ts_ms>"), independent of the
// validator-specific bookkeeping validatorreg.EndpointBook keeps. It is
// one of the single-logical-mutex shared objects named in §5.
type AddressBook struct {
	mu    sync.Mutex
	peers map[string]PeerInfo
}

// PeerInfo is what this node knows about one remote peer.
type PeerInfo struct {
	Address         string
	RemainingSupply uint64
	LastSeenMilli   int64
}

func NewAddressBook() *AddressBook {
	return &AddressBook{peers: make(map[string]PeerInfo)}
}

func (b *AddressBook) Observe(info PeerInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[info.Address] = info
}

func (b *AddressBook) Get(address string) (PeerInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.peers[address]
	return p, ok
}

func (b *AddressBook) Snapshot() []PeerInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PeerInfo, 0, len(b.peers))
	for _, p := range b.peers {
		out = append(out, p)
	}
	return out
}

func (b *AddressBook) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}
