package sendconsensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/config"
	"github.com/losnetwork/los-node/ledgertypes"
)

type fakeLedger struct {
	accounts map[string]ledgertypes.AccountState
	applied  []*ledgertypes.Block
	direct   []*ledgertypes.Block
	applyErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{accounts: make(map[string]ledgertypes.AccountState)}
}

func (f *fakeLedger) ApplyBlock(b *ledgertypes.Block) (string, error) {
	if f.applyErr != nil {
		return "", f.applyErr
	}
	f.applied = append(f.applied, b)
	return "hash-" + b.AccountStr, nil
}

func (f *fakeLedger) ApplyDirect(b *ledgertypes.Block) (string, error) {
	if f.applyErr != nil {
		return "", f.applyErr
	}
	f.direct = append(f.direct, b)
	return "hash-" + b.AccountStr, nil
}

func (f *fakeLedger) Account(address string) (ledgertypes.AccountState, bool) {
	a, ok := f.accounts[address]
	return a, ok
}

type fakeBroadcaster struct {
	confirmRequests int
	confirmed       int
}

func (f *fakeBroadcaster) BroadcastConfirmRequest(hash string, b *ledgertypes.Block) {
	f.confirmRequests++
}

func (f *fakeBroadcaster) BroadcastBlockConfirmed(send, receive *ledgertypes.Block) {
	f.confirmed++
}

type fakeActiveSet struct {
	count    int
	balances map[string]uint64
}

func (f *fakeActiveSet) ActiveValidatorCount() int { return f.count }

func (f *fakeActiveSet) BalanceOf(address string) uint64 { return f.balances[address] }

func newEngine(t *testing.T, active *fakeActiveSet) (*Engine, *fakeLedger, *fakeBroadcaster) {
	t.Helper()
	priv, err := chainsig.GenerateKey()
	require.NoError(t, err)
	ledger := newFakeLedger()
	bcast := &fakeBroadcaster{}
	e := New(&config.Config{}, ledger, bcast, active, config.ChainIDTestnet, priv, "node-under-test")
	return e, ledger, bcast
}

func TestMinDistinctVotersBootstrap(t *testing.T) {
	require.Equal(t, 1, MinDistinctVoters(0))
	require.Equal(t, 1, MinDistinctVoters(1))
}

func TestMinDistinctVotersScalesWithValidatorCount(t *testing.T) {
	require.Equal(t, 2, MinDistinctVoters(2))
	require.Equal(t, 2, MinDistinctVoters(3))
	require.Equal(t, 3, MinDistinctVoters(4))
	require.Equal(t, 3, MinDistinctVoters(6))
	require.Equal(t, 7, MinDistinctVoters(10))
}

func TestPropagateSendBroadcastsConfirmRequest(t *testing.T) {
	active := &fakeActiveSet{count: 1}
	e, _, bcast := newEngine(t, active)

	b := &ledgertypes.Block{AccountStr: "alice", Link: "bob", Amount: 100}
	e.PropagateSend("hash1", b)

	require.Equal(t, 1, bcast.confirmRequests)
}

func TestRecordVoteRejectsUnknownHash(t *testing.T) {
	active := &fakeActiveSet{count: 1}
	e, _, _ := newEngine(t, active)

	require.False(t, e.RecordVote("no-such-hash", "voter1", 100))
}

func TestRecordVoteDistinctVoterDedup(t *testing.T) {
	active := &fakeActiveSet{count: 4}
	e, _, _ := newEngine(t, active)
	e.SetActiveStakeHint(1000)

	b := &ledgertypes.Block{AccountStr: "alice", Link: "bob", Amount: 100}
	e.PropagateSend("hash1", b)

	e.RecordVote("hash1", "voter1", 100)
	crossed := e.RecordVote("hash1", "voter1", 100) // repeated vote, must not double-count
	require.False(t, crossed)

	e.mu.Lock()
	p := e.pending["hash1"]
	require.Equal(t, uint64(100), p.cumulative)
	require.Len(t, p.voters, 1)
	e.mu.Unlock()
}

func TestRecordVoteCrossesThresholdOnStakeAndQuorum(t *testing.T) {
	active := &fakeActiveSet{count: 4} // f=1, quorum = 3
	e, _, _ := newEngine(t, active)
	e.SetActiveStakeHint(1000)

	b := &ledgertypes.Block{AccountStr: "alice", Link: "bob", Amount: 100}
	e.PropagateSend("hash1", b)

	require.False(t, e.RecordVote("hash1", "voter1", 300))
	require.False(t, e.RecordVote("hash1", "voter2", 300))
	// cumulative is now 900/1000 = 9000bps >= 6700bps threshold, and this is
	// the 3rd distinct voter, crossing quorum count too.
	require.True(t, e.RecordVote("hash1", "voter3", 300))
	// a later vote after quorum has already been reached once should not
	// report crossing again from RecordVote's point of view, but it does
	// still accumulate; the caller is expected to finalize on the first
	// true return.
}

func TestRecordVoteNotCrossedWithoutStakeHint(t *testing.T) {
	active := &fakeActiveSet{count: 1}
	e, _, _ := newEngine(t, active)
	// no SetActiveStakeHint call: denominator stays zero

	b := &ledgertypes.Block{AccountStr: "alice", Link: "bob", Amount: 100}
	e.PropagateSend("hash1", b)

	require.False(t, e.RecordVote("hash1", "voter1", 1000))
}

func TestFinalizeAppliesSendAndAutoBuildsReceive(t *testing.T) {
	active := &fakeActiveSet{count: 1}
	e, ledger, bcast := newEngine(t, active)

	ledger.accounts["bob"] = ledgertypes.AccountState{Head: ledgertypes.ZeroHead}

	b := &ledgertypes.Block{AccountStr: "alice", Link: "bob", Amount: 50}
	e.PropagateSend("hash1", b)

	send, receive, err := e.Finalize("hash1")
	require.NoError(t, err)
	require.Same(t, b, send)
	require.NotNil(t, receive)
	require.Equal(t, "bob", receive.AccountStr)
	require.Equal(t, ledgertypes.Receive, receive.Type)
	require.Equal(t, uint64(50), receive.Amount)
	require.Equal(t, 1, bcast.confirmed)

	require.Len(t, ledger.applied, 2)

	// pending entry must be gone after finalize
	_, _, err = e.Finalize("hash1")
	require.NoError(t, err)
	require.Len(t, ledger.applied, 2) // no-op second time
}

func TestFinalizeUnknownHashIsNoop(t *testing.T) {
	active := &fakeActiveSet{count: 1}
	e, ledger, bcast := newEngine(t, active)

	send, receive, err := e.Finalize("never-propagated")
	require.NoError(t, err)
	require.Nil(t, send)
	require.Nil(t, receive)
	require.Empty(t, ledger.applied)
	require.Equal(t, 0, bcast.confirmed)
}

func TestFinalizeBypassedSkipsQuorum(t *testing.T) {
	active := &fakeActiveSet{count: 10}
	e, ledger, bcast := newEngine(t, active)
	ledger.accounts["bob"] = ledgertypes.AccountState{Head: ledgertypes.ZeroHead}

	b := &ledgertypes.Block{AccountStr: "alice", Link: "bob", Amount: 25}
	send, receive, err := e.FinalizeBypassed(b)

	require.NoError(t, err)
	require.Same(t, b, send)
	require.NotNil(t, receive)
	require.Equal(t, uint64(25), receive.Amount)
	require.Equal(t, 1, bcast.confirmed)
	require.Len(t, ledger.applied, 2)
}

func TestApplyConfirmedUsesApplyDirect(t *testing.T) {
	active := &fakeActiveSet{count: 1}
	e, ledger, _ := newEngine(t, active)

	send := &ledgertypes.Block{AccountStr: "alice"}
	receive := &ledgertypes.Block{AccountStr: "bob"}

	forkSend, forkReceive := e.ApplyConfirmed(send, receive)
	require.NoError(t, forkSend)
	require.NoError(t, forkReceive)
	require.Len(t, ledger.direct, 2)
}

func TestApplyConfirmedSurfacesForkErrors(t *testing.T) {
	active := &fakeActiveSet{count: 1}
	e, ledger, _ := newEngine(t, active)
	ledger.applyErr = require.AnError

	forkSend, forkReceive := e.ApplyConfirmed(&ledgertypes.Block{}, &ledgertypes.Block{})
	require.Error(t, forkSend)
	require.Error(t, forkReceive)
}

func TestGCExpiredRemovesOldPending(t *testing.T) {
	active := &fakeActiveSet{count: 1}
	e, _, _ := newEngine(t, active)

	e.PropagateSend("stale", &ledgertypes.Block{AccountStr: "alice", Link: "bob"})
	e.mu.Lock()
	e.pending["stale"].createdAt = time.Now().Add(-10 * time.Minute)
	e.mu.Unlock()

	e.PropagateSend("fresh", &ledgertypes.Block{AccountStr: "carol", Link: "dave"})

	removed := e.GCExpired(time.Now())
	require.Equal(t, 1, removed)

	e.mu.Lock()
	_, staleStillThere := e.pending["stale"]
	_, freshStillThere := e.pending["fresh"]
	e.mu.Unlock()
	require.False(t, staleStillThere)
	require.True(t, freshStillThere)
}
