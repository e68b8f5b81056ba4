package ledgertypes

import (
	"fmt"
	"strconv"
	"strings"
)

// Link prefixes (§3, §4.1, §4.3, §4.4, §4.5). A Mint or Slash block's Link
// field is a colon-delimited tag naming the economic event it represents;
// parsing it is how apply_block decides which accounting path to take.
const (
	LinkMine       = "MINE"
	LinkReward     = "REWARD"
	LinkFeeReward  = "FEE_REWARD"
	LinkFaucet     = "FAUCET"
	LinkPenaltyDS  = "PENALTY:DOUBLE_SIGN"
	LinkPenaltyDT  = "PENALTY:DOWNTIME"
	LinkPenaltyFraud = "PENALTY:FRAUD"
)

// MintLink describes a parsed Mint-block Link field.
type MintLink struct {
	Kind  string // LinkMine, LinkReward, LinkFeeReward, LinkFaucet
	Epoch uint64
	Nonce uint64 // only meaningful for LinkMine
}

// ParseMintLink parses "MINE:<epoch>:<nonce>", "REWARD:EPOCH:<n>",
// "FEE_REWARD:EPOCH:<n>", or "FAUCET:...".
func ParseMintLink(link string) (MintLink, error) {
	parts := strings.Split(link, ":")
	if len(parts) == 0 {
		return MintLink{}, fmt.Errorf("ledgertypes: empty mint link")
	}
	switch parts[0] {
	case LinkMine:
		if len(parts) != 3 {
			return MintLink{}, fmt.Errorf("ledgertypes: malformed MINE link %q", link)
		}
		epoch, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return MintLink{}, fmt.Errorf("ledgertypes: bad epoch in %q: %w", link, err)
		}
		nonce, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return MintLink{}, fmt.Errorf("ledgertypes: bad nonce in %q: %w", link, err)
		}
		return MintLink{Kind: LinkMine, Epoch: epoch, Nonce: nonce}, nil
	case LinkReward, LinkFeeReward:
		if len(parts) != 3 || parts[1] != "EPOCH" {
			return MintLink{}, fmt.Errorf("ledgertypes: malformed %s link %q", parts[0], link)
		}
		epoch, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return MintLink{}, fmt.Errorf("ledgertypes: bad epoch in %q: %w", link, err)
		}
		return MintLink{Kind: parts[0], Epoch: epoch}, nil
	case LinkFaucet:
		return MintLink{Kind: LinkFaucet}, nil
	default:
		return MintLink{}, fmt.Errorf("ledgertypes: unknown mint link kind %q", parts[0])
	}
}

// MineLink formats a PoW mint link.
func MineLink(epoch, nonce uint64) string {
	return fmt.Sprintf("%s:%d:%d", LinkMine, epoch, nonce)
}

// RewardLink formats a validator-reward mint link.
func RewardLink(epoch uint64) string { return fmt.Sprintf("%s:EPOCH:%d", LinkReward, epoch) }

// FeeRewardLink formats a fee-reward mint link.
func FeeRewardLink(epoch uint64) string { return fmt.Sprintf("%s:EPOCH:%d", LinkFeeReward, epoch) }

// DoubleSignLink formats a double-sign slash link, naming the conflicting hash.
func DoubleSignLink(conflictHash string) string { return fmt.Sprintf("%s:%s", LinkPenaltyDS, conflictHash) }

// DowntimeLink formats a downtime slash link, naming the observed height.
func DowntimeLink(height uint64) string { return fmt.Sprintf("%s:%d", LinkPenaltyDT, height) }

// FraudLink formats a fraud-evidence slash link, naming the forged tx id.
func FraudLink(fakeTxID string) string { return fmt.Sprintf("%s:%s", LinkPenaltyFraud, fakeTxID) }
