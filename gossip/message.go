// Package gossip implements the colon-delimited wire messages described
// in §6 EXTERNAL INTERFACES and the opaque transport boundary the node
// wires them through. No repo in the example corpus implements a
// comparable bespoke text wire protocol (the pack's go-ethereum forks all
// speak devp2p's binary RLPx framing instead), so this format is built
// directly from the spec's message table using the standard library's
// string/base64/hex facilities — the one place in this module where no
// third-party serialization library has a natural home (see DESIGN.md).
package gossip

// Kind identifies one of the wire message types in §6.
type Kind string

const (
	KindID                     Kind = "ID"
	KindConfirmReq             Kind = "CONFIRM_REQ"
	KindConfirmRes             Kind = "CONFIRM_RES"
	KindBlockConfirmed         Kind = "BLOCK_CONFIRMED"
	KindMineBlock              Kind = "MINE_BLOCK"
	KindValidatorReg           Kind = "VALIDATOR_REG"
	KindValidatorUnreg         Kind = "VALIDATOR_UNREG"
	KindValidatorHeartbeat     Kind = "VALIDATOR_HEARTBEAT"
	KindValidatorHeartbeatProx Kind = "VALIDATOR_HEARTBEAT_PROXY"
	KindSyncRequest            Kind = "SYNC_REQUEST"
	KindSyncGzip               Kind = "SYNC_GZIP"
	KindSyncViaRest            Kind = "SYNC_VIA_REST"
	KindCheckpointPropose      Kind = "CHECKPOINT_PROPOSE"
	KindCheckpointSign         Kind = "CHECKPOINT_SIGN"
	KindPeerList               Kind = "PEER_LIST"
	KindSlashReq               Kind = "SLASH_REQ"
)

// Envelope is a decoded wire message: its kind plus the colon-delimited
// fields that followed the kind tag, still raw (each message type's own
// Decode* function further parses/validates these).
type Envelope struct {
	Kind   Kind
	Fields []string
	Raw    string
}
