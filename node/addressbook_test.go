package node

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressBookObserveAndGet(t *testing.T) {
	b := NewAddressBook()
	require.Equal(t, 0, b.Count())

	b.Observe(PeerInfo{Address: "los1abc", RemainingSupply: 10, LastSeenMilli: 100})
	info, ok := b.Get("los1abc")
	require.True(t, ok)
	require.Equal(t, uint64(10), info.RemainingSupply)
	require.Equal(t, 1, b.Count())
}

func TestAddressBookObserveOverwritesExisting(t *testing.T) {
	b := NewAddressBook()
	b.Observe(PeerInfo{Address: "los1abc", RemainingSupply: 10, LastSeenMilli: 100})
	b.Observe(PeerInfo{Address: "los1abc", RemainingSupply: 20, LastSeenMilli: 200})

	info, ok := b.Get("los1abc")
	require.True(t, ok)
	require.Equal(t, uint64(20), info.RemainingSupply)
	require.Equal(t, 1, b.Count())
}

func TestAddressBookSnapshotIsIndependentCopy(t *testing.T) {
	b := NewAddressBook()
	b.Observe(PeerInfo{Address: "los1abc", RemainingSupply: 10})

	snap := b.Snapshot()
	require.Len(t, snap, 1)

	b.Observe(PeerInfo{Address: "los1def", RemainingSupply: 20})
	require.Len(t, snap, 1) // earlier snapshot unaffected by later mutation
}

func TestAddressBookGetUnknownPeer(t *testing.T) {
	b := NewAddressBook()
	_, ok := b.Get("ghost")
	require.False(t, ok)
}
