package slashing

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/require"

	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/config"
	"github.com/losnetwork/los-node/ledgertypes"
)

type fakeLedger struct {
	accounts map[string]ledgertypes.AccountState
	applied  []*ledgertypes.Block
	feed     event.Feed
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{accounts: make(map[string]ledgertypes.AccountState)}
}

func (f *fakeLedger) ApplyBlock(b *ledgertypes.Block) (string, error) {
	f.applied = append(f.applied, b)
	return "hash-" + b.AccountStr, nil
}

func (f *fakeLedger) Account(address string) (ledgertypes.AccountState, bool) {
	a, ok := f.accounts[address]
	return a, ok
}

func (f *fakeLedger) SubscribeApplied(ch chan<- AppliedBlock) event.Subscription {
	return f.feed.Subscribe(ch)
}

type fakeBroadcaster struct {
	slashed []*ledgertypes.Block
}

func (f *fakeBroadcaster) BroadcastSlashBlock(b *ledgertypes.Block) {
	f.slashed = append(f.slashed, b)
}

type fakeMinter struct {
	exists map[string]bool
}

func (f *fakeMinter) BlockExists(hash string) bool { return f.exists[hash] }

func newManager(t *testing.T) (*Manager, *fakeLedger, *fakeBroadcaster, *chainsig.PrivateKey) {
	t.Helper()
	ledger := newFakeLedger()
	bcast := &fakeBroadcaster{}
	m := New(&config.Config{}, ledger, bcast, config.ChainIDTestnet)
	priv, err := chainsig.GenerateKey()
	require.NoError(t, err)
	m.SetOperatorKey(priv)
	return m, ledger, bcast, priv
}

func TestRegisterAndUnregisterValidator(t *testing.T) {
	m, _, _, _ := newManager(t)
	m.RegisterValidator("alice")
	require.True(t, m.registered["alice"])
	require.Equal(t, StatusActive, m.status["alice"])

	m.Unregister("alice")
	require.False(t, m.registered["alice"])
	require.Equal(t, StatusUnstaking, m.status["alice"])
}

func TestObserveDetectsDoubleSignAndSlashesFullBalance(t *testing.T) {
	m, ledger, bcast, _ := newManager(t)
	m.RegisterValidator("alice")
	ledger.accounts["alice"] = ledgertypes.AccountState{Head: "head1", Balance: 1000}

	m.observe(AppliedBlock{Block: ledgertypes.Block{AccountStr: "alice", Type: ledgertypes.Send}, Hash: "hashA", HeightBefore: 5})
	require.Empty(t, ledger.applied)

	// a second, conflicting block applied at the same prior height is the
	// double-sign: same predecessor, different resulting hash.
	m.observe(AppliedBlock{Block: ledgertypes.Block{AccountStr: "alice", Type: ledgertypes.Send}, Hash: "hashB", HeightBefore: 5})

	require.Len(t, ledger.applied, 1)
	slash := ledger.applied[0]
	require.Equal(t, ledgertypes.Slash, slash.Type)
	require.Equal(t, uint64(1000), slash.Amount)
	require.Equal(t, ledgertypes.DoubleSignLink("hashB"), slash.Link)
	require.Len(t, bcast.slashed, 1)
}

func TestObserveIgnoresSystemBlocksForDoubleSignCheck(t *testing.T) {
	m, ledger, _, _ := newManager(t)
	m.RegisterValidator("alice")
	ledger.accounts["alice"] = ledgertypes.AccountState{Balance: 1000}

	m.observe(AppliedBlock{Block: ledgertypes.Block{AccountStr: "alice", Type: ledgertypes.Mint}, Hash: "hashA", HeightBefore: 5})
	m.observe(AppliedBlock{Block: ledgertypes.Block{AccountStr: "alice", Type: ledgertypes.Mint}, Hash: "hashB", HeightBefore: 5})

	require.Empty(t, ledger.applied)
}

func TestSubmitSlashWithoutOperatorKeyIsNoop(t *testing.T) {
	ledger := newFakeLedger()
	bcast := &fakeBroadcaster{}
	m := New(&config.Config{}, ledger, bcast, config.ChainIDTestnet)
	m.RegisterValidator("alice")
	ledger.accounts["alice"] = ledgertypes.AccountState{Balance: 1000}

	m.observe(AppliedBlock{Block: ledgertypes.Block{AccountStr: "alice"}, Hash: "hashA", HeightBefore: 5})
	m.observe(AppliedBlock{Block: ledgertypes.Block{AccountStr: "alice"}, Hash: "hashB", HeightBefore: 5})

	require.Empty(t, ledger.applied)
	require.Empty(t, bcast.slashed)
}

func TestCheckDowntimePenalizesOnePercent(t *testing.T) {
	m, ledger, bcast, _ := newManager(t)
	m.RegisterValidator("alice")
	ledger.accounts["alice"] = ledgertypes.AccountState{Balance: 10_000}

	// alice only participates in 1 of 100 observed blocks; drive
	// globalHeight up via another account's activity.
	for i := 0; i < 99; i++ {
		m.observe(AppliedBlock{Block: ledgertypes.Block{AccountStr: "bob"}, Hash: "h", HeightBefore: uint64(i)})
	}
	m.observe(AppliedBlock{Block: ledgertypes.Block{AccountStr: "alice"}, Hash: "h", HeightBefore: 99})

	m.CheckDowntime(50)

	require.Len(t, ledger.applied, 1)
	slash := ledger.applied[0]
	require.Equal(t, "alice", slash.AccountStr)
	require.Equal(t, uint64(100), slash.Amount) // 1% of 10,000
	require.Len(t, bcast.slashed, 1)
}

func TestCheckDowntimeSkipsParticipatingValidators(t *testing.T) {
	m, ledger, _, _ := newManager(t)
	m.RegisterValidator("alice")
	ledger.accounts["alice"] = ledgertypes.AccountState{Balance: 10_000}

	for i := 0; i < 100; i++ {
		m.observe(AppliedBlock{Block: ledgertypes.Block{AccountStr: "alice"}, Hash: "h", HeightBefore: uint64(i)})
	}

	m.CheckDowntime(50)
	require.Empty(t, ledger.applied)
}

func TestRequestDigestIsDeterministic(t *testing.T) {
	a := RequestDigest("offender", "txid", "proposer", 1000)
	b := RequestDigest("offender", "txid", "proposer", 1000)
	require.Equal(t, a, b)

	c := RequestDigest("offender", "txid", "proposer", 1001)
	require.NotEqual(t, a, c)
}

func TestFraudTrackerTriggersOnceAtQuorum(t *testing.T) {
	ft := newFraudTracker()
	req := SlashRequest{Offender: "mallory", ForgedTXID: "tx1", Signed: true}

	req.Proposer = "p1"
	require.False(t, ft.RecordProposal(req, 1000, 3))
	req.Proposer = "p1" // duplicate proposer must not count twice
	require.False(t, ft.RecordProposal(req, 1000, 3))
	req.Proposer = "p2"
	require.False(t, ft.RecordProposal(req, 1000, 3))
	req.Proposer = "p3"
	require.True(t, ft.RecordProposal(req, 1000, 3))

	// already triggered; further proposals are no-ops
	req.Proposer = "p4"
	require.False(t, ft.RecordProposal(req, 1000, 3))
}

func TestFraudTrackerGCDropsOnlyUntriggeredStaleEvidence(t *testing.T) {
	ft := newFraudTracker()
	stale := SlashRequest{Offender: "a", ForgedTXID: "tx-stale", Proposer: "p1", Signed: true}
	ft.RecordProposal(stale, 0, 5)

	ft.GC(int64(10*time.Minute/time.Millisecond), 5*time.Minute)

	ft.mu.Lock()
	_, stillThere := ft.proposers[evidenceKey{offender: "a", txid: "tx-stale"}]
	ft.mu.Unlock()
	require.False(t, stillThere)
}

func TestSubmitSlashRequestRefutedByExistingBlock(t *testing.T) {
	m, ledger, _, _ := newManager(t)
	ledger.accounts["mallory"] = ledgertypes.AccountState{Balance: 1000}
	minter := &fakeMinter{exists: map[string]bool{"tx1": true}}

	err := m.SubmitSlashRequest(SlashRequest{Offender: "mallory", ForgedTXID: "tx1", Proposer: "p1", Signed: true}, minter, 1)
	require.Error(t, err)
}

func TestSubmitSlashRequestAppliesTenPercentPenaltyAtQuorum(t *testing.T) {
	m, ledger, bcast, _ := newManager(t)
	ledger.accounts["mallory"] = ledgertypes.AccountState{Balance: 1000}
	minter := &fakeMinter{}

	req := SlashRequest{Offender: "mallory", ForgedTXID: "tx1", Signed: true}
	req.Proposer = "p1"
	require.NoError(t, m.SubmitSlashRequest(req, minter, 1))

	require.Len(t, ledger.applied, 1)
	slash := ledger.applied[0]
	require.Equal(t, uint64(100), slash.Amount) // 10% of 1000
	require.Equal(t, ledgertypes.FraudLink("tx1"), slash.Link)
	require.Len(t, bcast.slashed, 1)
}
