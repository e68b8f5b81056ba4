package ledger

import "errors"

// Error taxonomy per §7. Callers branch on these sentinels to decide
// whether a rejection is loggable-as-fork, idempotent-no-op, or a loud
// invariant breach; none of them ever panics the node.
var (
	// Structural: malformed block.
	ErrBadHash       = errors.New("ledger: block hash mismatch")
	ErrBadSignature  = errors.New("ledger: invalid signature")
	ErrBadPublicKey  = errors.New("ledger: public key does not derive to account")
	ErrBadWork       = errors.New("ledger: anti-spam work target not met")
	ErrBadMiningProof = errors.New("ledger: mining proof invalid for claimed difficulty")
	ErrUnknownBlockType = errors.New("ledger: unknown block type")
	ErrMalformedLink = errors.New("ledger: malformed link field")
	ErrSelfSend      = errors.New("ledger: send target equals sender")
	ErrZeroAmount    = errors.New("ledger: amount must be positive")

	// Chain-sequence.
	ErrChainSequence = errors.New("ledger: previous does not match current head")

	// Economic.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance for amount+fee")

	// Replay.
	ErrSendAlreadyClaimed = errors.New("ledger: send already claimed by a receive")
	ErrBlockAlreadyApplied = errors.New("ledger: block hash already applied")
	ErrAlreadyMintedEpoch = errors.New("ledger: address already minted this epoch")

	// Protocol-expired.
	ErrMintEpochOutOfRange = errors.New("ledger: mint epoch outside ±2 of current epoch")

	// Referential.
	ErrUnknownSend    = errors.New("ledger: receive names no known send")
	ErrSendMismatch   = errors.New("ledger: send does not target this account or amount mismatch")
	ErrUnknownSlashTarget = errors.New("ledger: slash names no known account")

	// Supply / economic caps.
	ErrPublicSupplyExhausted = errors.New("ledger: remaining public supply exhausted")
	ErrRewardExceedsEpochCap = errors.New("ledger: reward exceeds epoch_reward cap")
	ErrFaucetOnMainnet       = errors.New("ledger: faucet mints are testnet-only")

	// Contracts.
	ErrNoContract = errors.New("ledger: no contract at address")

	// Invariant violation (§7 loud CRITICAL; never returned to a normal
	// caller as a rejection — only surfaced from AuditSupply).
	ErrSupplyInvariant = errors.New("ledger: supply conservation invariant violated")
)
