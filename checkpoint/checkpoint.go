// Package checkpoint implements the finality engine described in §4.6:
// periodic checkpoint proposals at fixed block-count intervals, signature
// accumulation toward a 2f+1 quorum, and garbage collection of stale
// pending checkpoints.
package checkpoint

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/addr"
	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/config"
)

// Proposal is a checkpoint in flight, accumulating signatures toward
// quorum (§4.6).
type Proposal struct {
	Height     uint64
	BlockHash  string
	StateRoot  []byte
	Proposer   string
	Signatures map[string][]byte // signer address -> signature over the proposal digest
}

// Finalized is a checkpoint that reached quorum.
type Finalized struct {
	Height    uint64
	BlockHash string
	StateRoot []byte
	Signers   []string
}

// PublicKeyLookup resolves a validator's current public key from their
// head block, the way signature verification is specified in §4.6
// ("looked up from their head block").
type PublicKeyLookup interface {
	PublicKeyFor(address string) ([]byte, bool)
}

// Engine tracks pending and finalized checkpoints.
type Engine struct {
	cfg *config.Config

	mu        sync.Mutex
	pending   map[uint64]*Proposal
	finalized map[uint64]*Finalized
	lastFinal uint64
}

// New constructs an empty checkpoint engine.
func New(cfg *config.Config) *Engine {
	return &Engine{
		cfg:       cfg,
		pending:   make(map[uint64]*Proposal),
		finalized: make(map[uint64]*Finalized),
	}
}

// AlignedHeight returns the nearest CHECKPOINT_INTERVAL boundary at or
// below blockCount (§4.6 "snaps height down to the nearest aligned
// interval").
func AlignedHeight(blockCount uint64) uint64 {
	return (blockCount / config.CheckpointInterval) * config.CheckpointInterval
}

// ShouldPropose reports whether blockCount has crossed a new
// CHECKPOINT_INTERVAL boundary beyond the last height this engine has
// already proposed or finalized.
func (e *Engine) ShouldPropose(blockCount uint64) (uint64, bool) {
	aligned := AlignedHeight(blockCount)
	if aligned == 0 {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if aligned <= e.lastFinal {
		return 0, false
	}
	if _, exists := e.pending[aligned]; exists {
		return 0, false
	}
	return aligned, true
}

// Digest is the byte sequence a proposer/signer signs over: height ||
// block_hash || state_root. Exported so gossip handlers can verify an
// incoming CHECKPOINT_PROPOSE/CHECKPOINT_SIGN signature before calling
// Receive/ApplySignature.
func Digest(height uint64, blockHash string, stateRoot []byte) []byte {
	heightBytes := make([]byte, 8)
	for i := 0; i < 8; i++ {
		heightBytes[7-i] = byte(height >> (8 * i))
	}
	return chainsig.Keccak256(heightBytes, []byte(blockHash), stateRoot)
}

// Propose constructs and self-signs a CHECKPOINT_PROPOSE for the given
// height, registering it as the first entry in its own pending quorum.
func (e *Engine) Propose(height uint64, blockHash string, stateRoot []byte, proposer addr.Address, priv *chainsig.PrivateKey) *Proposal {
	sig := priv.Sign(Digest(height, blockHash, stateRoot))
	p := &Proposal{
		Height:     height,
		BlockHash:  blockHash,
		StateRoot:  stateRoot,
		Proposer:   proposer.String(),
		Signatures: map[string][]byte{proposer.String(): sig},
	}
	e.mu.Lock()
	e.pending[height] = p
	e.mu.Unlock()
	log.Info("checkpoint proposed", "height", height, "block_hash", blockHash)
	return p
}

// ErrStateRootMismatch is returned when a peer's recomputed state_root at
// the proposed height disagrees with the proposal.
var ErrStateRootMismatch = fmt.Errorf("recomputed state_root does not match checkpoint proposal")

// Receive processes an incoming CHECKPOINT_PROPOSE from a peer: if the
// receiver's own recomputed state root at that height agrees, it records
// the proposer's already-verified signature and its own co-sign into the
// pending quorum, then returns the co-sign for the caller to gossip as
// CHECKPOINT_SIGN. Without recording the proposer's signature here, a
// non-proposer node would never count the proposer's own attestation
// toward quorum.
func (e *Engine) Receive(height uint64, blockHash string, stateRoot, localStateRoot []byte, proposer addr.Address, proposerSig []byte, self addr.Address, priv *chainsig.PrivateKey) ([]byte, error) {
	if !bytesEqual(stateRoot, localStateRoot) {
		return nil, ErrStateRootMismatch
	}
	sig := priv.Sign(Digest(height, blockHash, stateRoot))

	e.mu.Lock()
	p, ok := e.pending[height]
	if !ok {
		p = &Proposal{Height: height, BlockHash: blockHash, StateRoot: stateRoot, Proposer: proposer.String(), Signatures: map[string][]byte{}}
		e.pending[height] = p
	}
	if p.Signatures == nil {
		p.Signatures = make(map[string][]byte)
	}
	p.Signatures[proposer.String()] = proposerSig
	p.Signatures[self.String()] = sig
	e.mu.Unlock()

	return sig, nil
}

// ApplySignature records an incoming CHECKPOINT_SIGN after the caller has
// verified it against the signer's known public key (looked up from
// their head block, per §4.6). Returns the finalized checkpoint the
// moment quorum is first reached, or nil otherwise.
func (e *Engine) ApplySignature(height uint64, signer string, sig []byte, quorum int) *Finalized {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[height]
	if !ok {
		return nil
	}
	if p.Signatures == nil {
		p.Signatures = make(map[string][]byte)
	}
	p.Signatures[signer] = sig

	if quorum < 1 {
		quorum = 1
	}
	if len(p.Signatures) < quorum {
		return nil
	}

	signers := make([]string, 0, len(p.Signatures))
	for s := range p.Signatures {
		signers = append(signers, s)
	}
	final := &Finalized{Height: p.Height, BlockHash: p.BlockHash, StateRoot: p.StateRoot, Signers: signers}
	e.finalized[height] = final
	if height > e.lastFinal {
		e.lastFinal = height
	}
	delete(e.pending, height)
	log.Info("checkpoint finalized", "height", height, "signers", len(signers))
	return final
}

// LastFinalizedHeight returns the highest height finalized so far.
func (e *Engine) LastFinalizedHeight() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastFinal
}

// GCStale drops pending checkpoints more than 2 intervals behind the
// latest finalized height (§4.6 "Pending checkpoints ... are GC'd").
func (e *Engine) GCStale() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	threshold := uint64(2 * config.CheckpointInterval)
	for h := range e.pending {
		if e.lastFinal > threshold && h+threshold < e.lastFinal {
			delete(e.pending, h)
			removed++
		}
	}
	return removed
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
