// Package ledger implements §4.1: the single source of truth for account
// state and block storage. It is the leaf dependency every other
// component (reward pool, mint, slashing, checkpoint, send-consensus,
// sync) builds on.
package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/losnetwork/los-node/addr"
	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/concurrency"
	"github.com/losnetwork/los-node/config"
	"github.com/losnetwork/los-node/ledgertypes"
)

// MintPolicy is the narrow view of the mint-distribution component (§4.4)
// the ledger needs in order to validate and apply public-PoW Mint blocks,
// without importing that package (it imports this one).
type MintPolicy interface {
	CurrentEpoch() uint64
	DifficultyBits() int
	EpochRewardCil(epoch uint64) uint64
	HasMinted(address string, epoch uint64) bool
	RecordMinted(address string, epoch uint64)
}

// RewardPoolSink is the narrow view of the reward pool (§4.3) the ledger
// needs to debit when applying a REWARD mint block.
type RewardPoolSink interface {
	DeductRewardPool(amountCil uint64) error
}

// WasmEngine is the opaque, deterministic contract-execution hook (§1
// "OUT of scope", SPEC_FULL.md "Supplemented features"). The core does
// not implement contract semantics; it only applies the debit/fee/hash
// bookkeeping around a call into this interface.
type WasmEngine interface {
	Execute(contract string, function string, args []string, state map[string]string) (map[string]string, error)
}

// AppliedBlock is published on Ledger.Feed after every successful
// ApplyBlock/ApplyDirect, so slashing, checkpoint, and sync can react
// without coupling to Ledger internals.
type AppliedBlock struct {
	Block        *ledgertypes.Block
	Hash         string
	HeightBefore uint64 // account.BlockCount before this block, i.e. this block's logical height
	Direct       bool   // true if applied via ApplyDirect (bypassed chain-sequence check)
}

type state struct {
	accounts  map[string]*ledgertypes.AccountState
	blocks    map[string]*ledgertypes.Block
	claimed   mapset.Set[string] // claimed Send hashes
	contracts map[string]map[string]string

	accumulatedFees       uint64
	remainingPublicSupply uint64
	slashedTotal          uint64
	lastAppliedHash       string
}

// Ledger is the authoritative block-lattice state.
type Ledger struct {
	cfg  *config.Config
	g    *concurrency.Guard[state]
	feed event.Feed

	mintPolicy MintPolicy
	rewardSink RewardPoolSink
	wasm       WasmEngine
}

// New creates an empty ledger with the network's full public supply
// available for distribution.
func New(cfg *config.Config, mintPolicy MintPolicy, rewardSink RewardPoolSink, wasm WasmEngine) *Ledger {
	return &Ledger{
		cfg:        cfg,
		mintPolicy: mintPolicy,
		rewardSink: rewardSink,
		wasm:       wasm,
		g: concurrency.NewGuard(state{
			accounts:              make(map[string]*ledgertypes.AccountState),
			blocks:                make(map[string]*ledgertypes.Block),
			claimed:                mapset.NewSet[string](),
			contracts:             make(map[string]map[string]string),
			remainingPublicSupply: config.PublicSupplyCap,
		}),
	}
}

// SubscribeApplied lets other components observe every successfully
// applied block.
func (l *Ledger) SubscribeApplied(ch chan<- AppliedBlock) event.Subscription {
	return l.feed.Subscribe(ch)
}

func accountOrNew(s *state, address string) *ledgertypes.AccountState {
	a, ok := s.accounts[address]
	if !ok {
		a = &ledgertypes.AccountState{Head: ledgertypes.ZeroHead}
		s.accounts[address] = a
	}
	return a
}

// Account returns a copy of an account's current state.
func (l *Ledger) Account(address string) (ledgertypes.AccountState, bool) {
	var out ledgertypes.AccountState
	found := false
	l.g.Read(func(s state) {
		if a, ok := s.accounts[address]; ok {
			out = *a
			found = true
		}
	})
	return out, found
}

// Block returns a copy of a stored block by hash hex.
func (l *Ledger) Block(hash string) (ledgertypes.Block, bool) {
	var out ledgertypes.Block
	found := false
	l.g.Read(func(s state) {
		if b, ok := s.blocks[hash]; ok {
			out = *b
			found = true
		}
	})
	return out, found
}

// LastAppliedHash returns the hash of the most recently applied block
// across the whole ledger, used as the block_hash anchor a checkpoint
// proposal signs over (§4.6). The ledger is a block-lattice, not a
// single chain, so this is a liveness pointer rather than a canonical
// "latest block" — any peer computing a checkpoint at the same height
// derives the same state_root regardless of which hash anchors it.
func (l *Ledger) LastAppliedHash() string {
	var h string
	l.g.Read(func(s state) { h = s.lastAppliedHash })
	return h
}

// AccumulatedFees returns the fee counter awaiting epoch distribution.
func (l *Ledger) AccumulatedFees() uint64 {
	var v uint64
	l.g.Read(func(s state) { v = s.accumulatedFees })
	return v
}

// RemainingPublicSupply returns the undistributed public supply.
func (l *Ledger) RemainingPublicSupply() uint64 {
	var v uint64
	l.g.Read(func(s state) { v = s.remainingPublicSupply })
	return v
}

// SetValidatorFlag flips the is_validator bit on an account, used by
// validatorreg's centralized RegisterValidator and by voluntary unstake.
func (l *Ledger) SetValidatorFlag(address string, isValidator bool) {
	l.g.With(func(s *state) {
		a := accountOrNew(s, address)
		a.IsValidator = isValidator
	})
}

// ApplyBlock validates B against the full chain-sequence rule and applies
// it atomically (§4.1 apply_block). This is the path used for
// locally-originated and gossip-replayed blocks that this node's own
// ledger is authoritative for.
func (l *Ledger) ApplyBlock(b *ledgertypes.Block) (string, error) {
	return l.apply(b, true)
}

// ApplyDirect applies B without requiring Previous == current head,
// because a remote peer may hold a divergent head for the sender (§4.2
// step 5: BLOCK_CONFIRMED application). A mismatch is reported via
// ErrChainSequence so the caller can log it as a fork, but the block is
// still applied (last-writer selects canonical head; no rollback, §7/§9).
func (l *Ledger) ApplyDirect(b *ledgertypes.Block) (string, error) {
	return l.apply(b, false)
}

func (l *Ledger) apply(b *ledgertypes.Block, enforceSequence bool) (string, error) {
	hash, err := b.HashHex()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadHash, err)
	}

	sender, err := b.Sender()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}

	signingHash, err := b.SigningHash(l.cfg.ChainID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadHash, err)
	}

	var forkErr error
	applyErr := l.g.WithErr(func(s *state) error {
		if _, exists := s.blocks[hash]; exists {
			return ErrBlockAlreadyApplied
		}
		if !verifyAntiSpamWork(b, signingHash, config.MinPowDifficultyBits) {
			return ErrBadWork
		}
		if ownerAuthored(b) && !derivesToAddress(b.PublicKey, sender) {
			return ErrBadPublicKey
		}
		if !chainsig.VerifySignature(b.PublicKey, signingHash, b.Signature) {
			return ErrBadSignature
		}

		account := accountOrNew(s, b.AccountStr)
		heightBefore := account.BlockCount

		if enforceSequence {
			if b.Previous != account.Head {
				return ErrChainSequence
			}
		} else if b.Previous != account.Head {
			forkErr = fmt.Errorf("%w: account=%s local_head=%s block_previous=%s", ErrChainSequence, b.AccountStr, account.Head, b.Previous)
		}

		switch b.Type {
		case ledgertypes.Send:
			if err := applySend(s, b, account); err != nil {
				return err
			}
		case ledgertypes.Receive:
			if err := applyReceive(s, b, account); err != nil {
				return err
			}
		case ledgertypes.Mint:
			if err := l.applyMint(s, b, account); err != nil {
				return err
			}
		case ledgertypes.Slash:
			if err := applySlash(s, b, account); err != nil {
				return err
			}
		case ledgertypes.Change:
			// No balance effect; reserved for future key-rotation blocks.
		case ledgertypes.ContractDeploy:
			if err := l.applyContractDeploy(s, b, account); err != nil {
				return err
			}
		case ledgertypes.ContractCall:
			if err := l.applyContractCall(s, b, account); err != nil {
				return err
			}
		default:
			return ErrUnknownBlockType
		}

		account.Head = hash
		account.BlockCount++
		s.blocks[hash] = b
		s.lastAppliedHash = hash

		if account.IsValidator && account.Balance < config.MinValidatorRegisterCil {
			account.IsValidator = false // P11: atomic auto-unregister
		}

		l.feed.Send(AppliedBlock{Block: b, Hash: hash, HeightBefore: heightBefore, Direct: !enforceSequence})
		return nil
	})

	if applyErr != nil {
		return "", applyErr
	}
	if forkErr != nil {
		log.Warn("possible fork: direct-applied block diverges from local head", "err", forkErr)
		return hash, forkErr
	}
	return hash, nil
}

func derivesToAddress(pubKey []byte, a addr.Address) bool {
	return addr.FromPublicKey(pubKey).Equal(a)
}

// VerifyOwnerAuthoredBlock runs the stateless checks §4.2 step 2 requires a
// receiving validator to perform before casting a CONFIRM_RES vote:
// signing-hash well-formedness, anti-spam work, sender-key derivation, and
// signature validity. It touches no ledger state, so it is safe to call
// against a propagated block this node has not (and may never) apply.
func VerifyOwnerAuthoredBlock(b *ledgertypes.Block, chainID config.ChainID) error {
	sender, err := b.Sender()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}
	signingHash, err := b.SigningHash(chainID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadHash, err)
	}
	if !verifyAntiSpamWork(b, signingHash, config.MinPowDifficultyBits) {
		return ErrBadWork
	}
	if !derivesToAddress(b.PublicKey, sender) {
		return ErrBadPublicKey
	}
	if !chainsig.VerifySignature(b.PublicKey, signingHash, b.Signature) {
		return ErrBadSignature
	}
	return nil
}

// ownerAuthored reports whether b requires the embedded PublicKey to derive
// to b.AccountStr. Receive, reward/fee Mint, and Slash blocks are authored on
// the account holder's behalf by a node or validator key (the auto-Receive
// builder, the reward-pool leader, the slashing operator), so only signature
// authenticity is checked for those; the account-owning key never signs
// them. Send, public-PoW Mint, faucet Mint, and contract blocks are still
// signed by the account's own key.
func ownerAuthored(b *ledgertypes.Block) bool {
	switch b.Type {
	case ledgertypes.Receive, ledgertypes.Slash:
		return false
	case ledgertypes.Mint:
		parsed, err := ledgertypes.ParseMintLink(b.Link)
		if err != nil {
			return true // malformed link; fall through to ErrBadPublicKey rather than silently skip
		}
		return parsed.Kind != ledgertypes.LinkReward && parsed.Kind != ledgertypes.LinkFeeReward
	default:
		return true
	}
}

func applySend(s *state, b *ledgertypes.Block, account *ledgertypes.AccountState) error {
	if b.Amount == 0 {
		return ErrZeroAmount
	}
	if b.Link == b.AccountStr {
		return ErrSelfSend
	}
	total := b.Amount + b.Fee
	if account.Balance < total {
		return ErrInsufficientBalance
	}
	account.Balance -= total
	s.accumulatedFees += b.Fee
	return nil
}

func applyReceive(s *state, b *ledgertypes.Block, account *ledgertypes.AccountState) error {
	send, ok := s.blocks[b.Link]
	if !ok {
		return ErrUnknownSend
	}
	if send.Type != ledgertypes.Send && send.Type != ledgertypes.ContractCall {
		return ErrSendMismatch
	}
	if send.Link != b.AccountStr || send.Amount != b.Amount {
		return ErrSendMismatch
	}
	if s.claimed.Contains(b.Link) {
		return ErrSendAlreadyClaimed
	}
	s.claimed.Add(b.Link)
	account.Balance += b.Amount
	return nil
}

func (l *Ledger) applyMint(s *state, b *ledgertypes.Block, account *ledgertypes.AccountState) error {
	parsed, err := ledgertypes.ParseMintLink(b.Link)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	switch parsed.Kind {
	case ledgertypes.LinkMine:
		current := l.mintPolicy.CurrentEpoch()
		if !withinEpochWindow(parsed.Epoch, current, 2) {
			return ErrMintEpochOutOfRange
		}
		if l.mintPolicy.HasMinted(b.AccountStr, parsed.Epoch) {
			return ErrAlreadyMintedEpoch
		}
		if !verifyMiningProof(b.AccountStr, parsed.Epoch, parsed.Nonce, l.mintPolicy.DifficultyBits()) {
			return ErrBadMiningProof
		}
		cap := l.mintPolicy.EpochRewardCil(parsed.Epoch)
		if b.Amount > cap {
			return ErrRewardExceedsEpochCap
		}
		if s.remainingPublicSupply < b.Amount {
			return ErrPublicSupplyExhausted
		}
		s.remainingPublicSupply -= b.Amount
		l.mintPolicy.RecordMinted(b.AccountStr, parsed.Epoch)
		account.Balance += b.Amount
		return nil
	case ledgertypes.LinkReward:
		if err := l.rewardSink.DeductRewardPool(b.Amount); err != nil {
			return err
		}
		account.Balance += b.Amount
		return nil
	case ledgertypes.LinkFeeReward:
		if s.accumulatedFees < b.Amount {
			return ErrInsufficientBalance
		}
		s.accumulatedFees -= b.Amount
		account.Balance += b.Amount
		return nil
	case ledgertypes.LinkFaucet:
		if l.cfg.IsMainnet() {
			return ErrFaucetOnMainnet
		}
		if s.remainingPublicSupply < b.Amount {
			return ErrPublicSupplyExhausted
		}
		s.remainingPublicSupply -= b.Amount
		account.Balance += b.Amount
		return nil
	default:
		return ErrMalformedLink
	}
}

func withinEpochWindow(claimed, current uint64, window uint64) bool {
	if claimed > current {
		return claimed-current <= window
	}
	return current-claimed <= window
}

func applySlash(s *state, b *ledgertypes.Block, account *ledgertypes.AccountState) error {
	if _, ok := s.accounts[b.AccountStr]; !ok {
		return ErrUnknownSlashTarget
	}
	amount := b.Amount
	if amount > account.Balance {
		amount = account.Balance
	}
	account.Balance -= amount
	s.slashedTotal += amount
	return nil
}

func (l *Ledger) applyContractDeploy(s *state, b *ledgertypes.Block, account *ledgertypes.AccountState) error {
	total := b.Amount + b.Fee
	if account.Balance < total {
		return ErrInsufficientBalance
	}
	account.Balance -= total
	s.accumulatedFees += b.Fee
	s.contracts[b.AccountStr] = map[string]string{"dex:init": "0"}
	if l.wasm != nil {
		newState, err := l.wasm.Execute(b.AccountStr, "deploy", []string{b.Link}, s.contracts[b.AccountStr])
		if err != nil {
			return err
		}
		s.contracts[b.AccountStr] = newState
	}
	return nil
}

func (l *Ledger) applyContractCall(s *state, b *ledgertypes.Block, account *ledgertypes.AccountState) error {
	total := b.Amount + b.Fee
	if account.Balance < total {
		return ErrInsufficientBalance
	}
	contract, function, args := parseContractCallLink(b.Link)
	cs, ok := s.contracts[contract]
	if !ok {
		return ErrNoContract
	}
	account.Balance -= total
	s.accumulatedFees += b.Fee
	if l.wasm != nil {
		newState, err := l.wasm.Execute(contract, function, args, cs)
		if err != nil {
			return err
		}
		s.contracts[contract] = newState
	}
	return nil
}

// parseContractCallLink parses "contract:function:arg1,arg2,..." (§3 link
// semantics for ContractCall).
func parseContractCallLink(link string) (contract, function string, args []string) {
	parts := splitN(link, ':', 3)
	if len(parts) > 0 {
		contract = parts[0]
	}
	if len(parts) > 1 {
		function = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		args = splitN(parts[2], ',', -1)
	}
	return
}

func splitN(s string, sep byte, n int) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep && (n < 0 || len(out) < n-1) {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// now is overridable in tests.
var now = func() int64 { return time.Now().UnixMilli() }
