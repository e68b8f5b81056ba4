package slashing

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/ledgertypes"
)

// RequestDigest is the byte sequence a SLASH_REQ proposer signs over,
// letting a gossip handler verify the signature before calling
// SubmitSlashRequest.
func RequestDigest(offender, forgedTXID, proposer string, tsMillis int64) []byte {
	return chainsig.Keccak256([]byte(offender), []byte(forgedTXID), []byte(proposer), []byte(strconv.FormatInt(tsMillis, 10)))
}

// MinterLookup is the slice of the mint scheduler a fraud check needs:
// whether the claimed TXID exists as a successfully minted block.
type MinterLookup interface {
	BlockExists(hash string) bool
}

// SlashRequest is the decoded, signature-verified payload of a gossiped
// SLASH_REQ message (§4.5 "Fraud evidence").
type SlashRequest struct {
	Offender    string
	ForgedTXID  string
	Proposer    string
	ProposerSig []byte
	Signed      bool // false only for the legacy testnet-only unsigned path
}

type evidenceKey struct {
	offender string
	txid     string
}

// FraudTracker accumulates distinct SLASH_REQ proposals per (offender,
// evidence) pair and reports when a 2f+1 quorum is reached.
type FraudTracker struct {
	mu        sync.Mutex
	proposers map[evidenceKey]map[string]bool // evidence -> proposer set
	firstSeen map[evidenceKey]int64
	triggered map[evidenceKey]bool
}

func newFraudTracker() *FraudTracker {
	return &FraudTracker{
		proposers: make(map[evidenceKey]map[string]bool),
		firstSeen: make(map[evidenceKey]int64),
		triggered: make(map[evidenceKey]bool),
	}
}

// RecordProposal registers one SLASH_REQ. It returns true the moment the
// accumulated distinct proposers for this (offender, evidence) pair first
// cross quorum; subsequent calls for the same evidence return false even
// if more proposals arrive (execution is a one-shot transition).
//
// quorum formula matches sendconsensus: max(2, 2f+1) where f = (n-1)/3
// for n registered validators; the caller, who knows the current
// validator set size, computes it and passes the result in.
func (ft *FraudTracker) RecordProposal(req SlashRequest, nowMilli int64, quorum int) bool {
	if !req.Signed {
		// Legacy unsigned SLASH_REQ path: accepted only on networks the
		// caller has already gated to testnet (see node wiring); recorded
		// under a synthetic single-proposer key so it can still reach
		// quorum=1 test networks but never silently count toward a
		// mainnet quorum.
		req.Proposer = "unsigned:" + req.Proposer
	}

	key := evidenceKey{offender: req.Offender, txid: req.ForgedTXID}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	if ft.triggered[key] {
		return false
	}
	set, ok := ft.proposers[key]
	if !ok {
		set = make(map[string]bool)
		ft.proposers[key] = set
		ft.firstSeen[key] = nowMilli
	}
	set[req.Proposer] = true

	if len(set) >= quorum {
		ft.triggered[key] = true
		return true
	}
	return false
}

// GC drops evidence older than maxAge that never reached quorum,
// bounding memory for evidence nobody corroborated.
func (ft *FraudTracker) GC(nowMilli int64, maxAge time.Duration) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	cutoff := nowMilli - int64(maxAge/time.Millisecond)
	for key, seen := range ft.firstSeen {
		if ft.triggered[key] {
			continue
		}
		if seen < cutoff {
			delete(ft.proposers, key)
			delete(ft.firstSeen, key)
		}
	}
}

// SubmitSlashRequest is the entry point a gossip handler calls with a
// decoded SLASH_REQ. If evidence is independently verifiable (the forged
// TXID does not appear as a successfully minted block) and the proposal
// crosses quorum, a 10% balance Slash block is authored (§4.5).
func (m *Manager) SubmitSlashRequest(req SlashRequest, minter MinterLookup, quorum int) error {
	if minter.BlockExists(req.ForgedTXID) {
		return fmt.Errorf("fraud evidence refuted: txid %s is a real applied block", req.ForgedTXID)
	}
	now := time.Now().UnixMilli()
	if !m.fraud.RecordProposal(req, now, quorum) {
		return nil
	}
	account, ok := m.ledger.Account(req.Offender)
	if !ok || account.Balance == 0 {
		log.Warn("fraud quorum reached but offender has no balance to slash", "offender", req.Offender)
		return nil
	}
	penalty := account.Balance / 10
	if penalty == 0 {
		return nil
	}
	m.submitSlash(req.Offender, penalty, ledgertypes.FraudLink(req.ForgedTXID))
	return nil
}
