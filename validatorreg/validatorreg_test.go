package validatorreg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/losnetwork/los-node/config"
)

type fakeLedger struct {
	balances map[string]uint64
	flags    map[string]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]uint64), flags: make(map[string]bool)}
}

func (f *fakeLedger) Account(address string) (uint64, bool) {
	b, ok := f.balances[address]
	return b, ok
}

func (f *fakeLedger) SetValidatorFlag(address string, isValidator bool) {
	f.flags[address] = isValidator
}

func TestRegisterRejectsUnknownAccount(t *testing.T) {
	ledger := newFakeLedger()
	r := New(ledger, NewEndpointBook())

	err := r.Register("ghost", SourceRest, "")
	require.Error(t, err)
}

func TestRegisterRejectsBelowMinimumStake(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances["alice"] = config.MinValidatorRegisterCil - 1
	r := New(ledger, NewEndpointBook())

	err := r.Register("alice", SourceRest, "")
	require.Error(t, err)
	require.False(t, r.IsRegistered("alice"))
}

func TestRegisterIsIdempotentAndSetsFlag(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances["alice"] = config.MinValidatorRegisterCil
	book := NewEndpointBook()
	r := New(ledger, book)

	require.NoError(t, r.Register("alice", SourceMining, "10.0.0.1:7070"))
	require.True(t, r.IsRegistered("alice"))
	require.True(t, ledger.flags["alice"])

	host, ok := book.Get("alice")
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:7070", host)

	// re-registering from a different source is a no-op, not an error
	require.NoError(t, r.Register("alice", SourceGossip, "10.0.0.2:7070"))
	host, _ = book.Get("alice")
	require.Equal(t, "10.0.0.2:7070", host) // endpoint still refreshes
}

func TestUnregisterClearsFlagWithoutTouchingBalance(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances["alice"] = config.MinValidatorRegisterCil
	r := New(ledger, NewEndpointBook())
	require.NoError(t, r.Register("alice", SourceRest, ""))

	r.Unregister("alice")
	require.False(t, r.IsRegistered("alice"))
	require.False(t, ledger.flags["alice"])
	require.Equal(t, config.MinValidatorRegisterCil, ledger.balances["alice"])
}

func TestAddressesListsAllRegistered(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances["alice"] = config.MinValidatorRegisterCil
	ledger.balances["bob"] = config.MinValidatorRegisterCil
	r := New(ledger, NewEndpointBook())
	require.NoError(t, r.Register("alice", SourceRest, ""))
	require.NoError(t, r.Register("bob", SourceRest, ""))

	addrs := r.Addresses()
	require.ElementsMatch(t, []string{"alice", "bob"}, addrs)
}

func TestEndpointBookAllReturnsIndependentSnapshot(t *testing.T) {
	book := NewEndpointBook()
	book.Set("alice", "1.1.1.1:7070")

	snap := book.All()
	snap["alice"] = "mutated"

	host, _ := book.Get("alice")
	require.Equal(t, "1.1.1.1:7070", host)
}

func TestNewLedgerAdapterWiresClosures(t *testing.T) {
	balances := map[string]uint64{"alice": 500}
	var flagged bool
	adapter := NewLedgerAdapter(
		func(a string) (uint64, bool) { b, ok := balances[a]; return b, ok },
		func(a string, v bool) { flagged = v },
	)

	b, ok := adapter.Account("alice")
	require.True(t, ok)
	require.Equal(t, uint64(500), b)

	adapter.SetValidatorFlag("alice", true)
	require.True(t, flagged)
}
