package gossip

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Split decodes the outer "KIND:field:field:..." envelope. Fields that
// themselves contain base64/JSON payloads are not further split here —
// decoders re-join the trailing fields with strings.Join when the payload
// may itself contain colons.
func Split(raw string) (Envelope, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 1 {
		return Envelope{}, fmt.Errorf("empty gossip message")
	}
	return Envelope{Kind: Kind(parts[0]), Fields: parts[1:], Raw: raw}, nil
}

// join builds "KIND:a:b:c".
func join(kind Kind, fields ...string) string {
	return string(kind) + ":" + strings.Join(fields, ":")
}

// EncodeID builds ID:<addr>:<remaining_supply>:<ts_ms>, the peer
// self-announce message.
func EncodeID(address string, remainingSupply uint64, tsMillis int64) string {
	return join(KindID, address, strconv.FormatUint(remainingSupply, 10), strconv.FormatInt(tsMillis, 10))
}

// IDMsg is the decoded payload of an ID message.
type IDMsg struct {
	Address         string
	RemainingSupply uint64
	TimestampMs     int64
}

func DecodeID(e Envelope) (IDMsg, error) {
	if len(e.Fields) != 3 {
		return IDMsg{}, fmt.Errorf("ID: want 3 fields, got %d", len(e.Fields))
	}
	remaining, err := strconv.ParseUint(e.Fields[1], 10, 64)
	if err != nil {
		return IDMsg{}, err
	}
	ts, err := strconv.ParseInt(e.Fields[2], 10, 64)
	if err != nil {
		return IDMsg{}, err
	}
	return IDMsg{Address: e.Fields[0], RemainingSupply: remaining, TimestampMs: ts}, nil
}

// EncodeConfirmReq builds CONFIRM_REQ:<hash>:<sender>:<amount>:<ts_ms>:<block_b64>.
func EncodeConfirmReq(hash, sender string, amount uint64, tsMillis int64, blockEncoded []byte) string {
	return join(KindConfirmReq, hash, sender, strconv.FormatUint(amount, 10), strconv.FormatInt(tsMillis, 10), base64.StdEncoding.EncodeToString(blockEncoded))
}

// ConfirmReq is the decoded payload of a CONFIRM_REQ message.
type ConfirmReq struct {
	Hash, Sender  string
	Amount        uint64
	TimestampMs   int64
	BlockEncoded  []byte
}

func DecodeConfirmReq(e Envelope) (ConfirmReq, error) {
	if len(e.Fields) != 5 {
		return ConfirmReq{}, fmt.Errorf("CONFIRM_REQ: want 5 fields, got %d", len(e.Fields))
	}
	amount, err := strconv.ParseUint(e.Fields[2], 10, 64)
	if err != nil {
		return ConfirmReq{}, err
	}
	ts, err := strconv.ParseInt(e.Fields[3], 10, 64)
	if err != nil {
		return ConfirmReq{}, err
	}
	blockEncoded, err := base64.StdEncoding.DecodeString(e.Fields[4])
	if err != nil {
		return ConfirmReq{}, err
	}
	return ConfirmReq{Hash: e.Fields[0], Sender: e.Fields[1], Amount: amount, TimestampMs: ts, BlockEncoded: blockEncoded}, nil
}

// EncodeConfirmRes builds
// CONFIRM_RES:<hash>:<sender>:YES:<voter>:<ts_ms>:<sig_hex>:<pk_hex>.
func EncodeConfirmRes(hash, sender, voter string, tsMillis int64, sig, pubKey []byte) string {
	return join(KindConfirmRes, hash, sender, "YES", voter, strconv.FormatInt(tsMillis, 10), hex.EncodeToString(sig), hex.EncodeToString(pubKey))
}

// ConfirmRes is the decoded payload of a CONFIRM_RES message.
type ConfirmRes struct {
	Hash, Sender, Voter string
	TimestampMs         int64
	Signature           []byte
	PublicKey           []byte
}

func DecodeConfirmRes(e Envelope) (ConfirmRes, error) {
	if len(e.Fields) != 7 {
		return ConfirmRes{}, fmt.Errorf("CONFIRM_RES: want 7 fields, got %d", len(e.Fields))
	}
	if e.Fields[2] != "YES" {
		return ConfirmRes{}, fmt.Errorf("CONFIRM_RES: unknown vote value %q", e.Fields[2])
	}
	ts, err := strconv.ParseInt(e.Fields[4], 10, 64)
	if err != nil {
		return ConfirmRes{}, err
	}
	sig, err := hex.DecodeString(e.Fields[5])
	if err != nil {
		return ConfirmRes{}, err
	}
	pk, err := hex.DecodeString(e.Fields[6])
	if err != nil {
		return ConfirmRes{}, err
	}
	return ConfirmRes{Hash: e.Fields[0], Sender: e.Fields[1], Voter: e.Fields[3], TimestampMs: ts, Signature: sig, PublicKey: pk}, nil
}

// EncodeBlockConfirmed builds BLOCK_CONFIRMED:<send_b64>:<recv_b64>.
func EncodeBlockConfirmed(sendEncoded, recvEncoded []byte) string {
	return join(KindBlockConfirmed, base64.StdEncoding.EncodeToString(sendEncoded), base64.StdEncoding.EncodeToString(recvEncoded))
}

func DecodeBlockConfirmed(e Envelope) (sendEncoded, recvEncoded []byte, err error) {
	if len(e.Fields) != 2 {
		return nil, nil, fmt.Errorf("BLOCK_CONFIRMED: want 2 fields, got %d", len(e.Fields))
	}
	sendEncoded, err = base64.StdEncoding.DecodeString(e.Fields[0])
	if err != nil {
		return nil, nil, err
	}
	recvEncoded, err = base64.StdEncoding.DecodeString(e.Fields[1])
	if err != nil {
		return nil, nil, err
	}
	return sendEncoded, recvEncoded, nil
}

// EncodeMineBlock builds MINE_BLOCK:<block_json>.
func EncodeMineBlock(blockJSON []byte) string {
	return join(KindMineBlock, string(blockJSON))
}

func DecodeMineBlock(e Envelope) ([]byte, error) {
	if len(e.Fields) < 1 {
		return nil, fmt.Errorf("MINE_BLOCK: missing payload")
	}
	return []byte(strings.Join(e.Fields, ":")), nil
}

// EncodeValidatorReg builds VALIDATOR_REG:<json>.
func EncodeValidatorReg(regJSON []byte) string { return join(KindValidatorReg, string(regJSON)) }

func DecodeValidatorReg(e Envelope) ([]byte, error) {
	if len(e.Fields) < 1 {
		return nil, fmt.Errorf("VALIDATOR_REG: missing payload")
	}
	return []byte(strings.Join(e.Fields, ":")), nil
}

// EncodeValidatorUnreg builds VALIDATOR_UNREG:<json>.
func EncodeValidatorUnreg(unregJSON []byte) string { return join(KindValidatorUnreg, string(unregJSON)) }

func DecodeValidatorUnreg(e Envelope) ([]byte, error) {
	if len(e.Fields) < 1 {
		return nil, fmt.Errorf("VALIDATOR_UNREG: missing payload")
	}
	return []byte(strings.Join(e.Fields, ":")), nil
}

// EncodeValidatorHeartbeat builds VALIDATOR_HEARTBEAT:<addr>:<ts>:<pk_hex>:<sig_hex>.
func EncodeValidatorHeartbeat(address string, tsMillis int64, pubKey, sig []byte) string {
	return join(KindValidatorHeartbeat, address, strconv.FormatInt(tsMillis, 10), hex.EncodeToString(pubKey), hex.EncodeToString(sig))
}

// Heartbeat is the decoded payload shared by VALIDATOR_HEARTBEAT.
type Heartbeat struct {
	Address     string
	TimestampMs int64
	PublicKey   []byte
	Signature   []byte
}

func DecodeValidatorHeartbeat(e Envelope) (Heartbeat, error) {
	if len(e.Fields) != 4 {
		return Heartbeat{}, fmt.Errorf("VALIDATOR_HEARTBEAT: want 4 fields, got %d", len(e.Fields))
	}
	ts, err := strconv.ParseInt(e.Fields[1], 10, 64)
	if err != nil {
		return Heartbeat{}, err
	}
	pk, err := hex.DecodeString(e.Fields[2])
	if err != nil {
		return Heartbeat{}, err
	}
	sig, err := hex.DecodeString(e.Fields[3])
	if err != nil {
		return Heartbeat{}, err
	}
	return Heartbeat{Address: e.Fields[0], TimestampMs: ts, PublicKey: pk, Signature: sig}, nil
}

// EncodeValidatorHeartbeatProxy builds
// VALIDATOR_HEARTBEAT_PROXY:<wallet>:<node>:<ts>:<pk_hex>:<sig_hex>.
func EncodeValidatorHeartbeatProxy(wallet, node string, tsMillis int64, pubKey, sig []byte) string {
	return join(KindValidatorHeartbeatProx, wallet, node, strconv.FormatInt(tsMillis, 10), hex.EncodeToString(pubKey), hex.EncodeToString(sig))
}

// HeartbeatProxy is the decoded payload of VALIDATOR_HEARTBEAT_PROXY.
type HeartbeatProxy struct {
	Wallet, Node string
	TimestampMs  int64
	PublicKey    []byte
	Signature    []byte
}

func DecodeValidatorHeartbeatProxy(e Envelope) (HeartbeatProxy, error) {
	if len(e.Fields) != 5 {
		return HeartbeatProxy{}, fmt.Errorf("VALIDATOR_HEARTBEAT_PROXY: want 5 fields, got %d", len(e.Fields))
	}
	ts, err := strconv.ParseInt(e.Fields[2], 10, 64)
	if err != nil {
		return HeartbeatProxy{}, err
	}
	pk, err := hex.DecodeString(e.Fields[3])
	if err != nil {
		return HeartbeatProxy{}, err
	}
	sig, err := hex.DecodeString(e.Fields[4])
	if err != nil {
		return HeartbeatProxy{}, err
	}
	return HeartbeatProxy{Wallet: e.Fields[0], Node: e.Fields[1], TimestampMs: ts, PublicKey: pk, Signature: sig}, nil
}

// EncodeSyncRequest builds SYNC_REQUEST:<addr>:<their_block_count>.
func EncodeSyncRequest(address string, blockCount uint64) string {
	return join(KindSyncRequest, address, strconv.FormatUint(blockCount, 10))
}

func DecodeSyncRequest(e Envelope) (address string, blockCount uint64, err error) {
	if len(e.Fields) != 2 {
		return "", 0, fmt.Errorf("SYNC_REQUEST: want 2 fields, got %d", len(e.Fields))
	}
	blockCount, err = strconv.ParseUint(e.Fields[1], 10, 64)
	return e.Fields[0], blockCount, err
}

// EncodeSyncGzip builds SYNC_GZIP:<base64_gzip>.
func EncodeSyncGzip(gzipPayload []byte) string {
	return join(KindSyncGzip, base64.StdEncoding.EncodeToString(gzipPayload))
}

func DecodeSyncGzip(e Envelope) ([]byte, error) {
	if len(e.Fields) != 1 {
		return nil, fmt.Errorf("SYNC_GZIP: want 1 field, got %d", len(e.Fields))
	}
	return base64.StdEncoding.DecodeString(e.Fields[0])
}

// EncodeSyncViaRest builds SYNC_VIA_REST:<host|their_count>.
func EncodeSyncViaRest(host string, theirBlockCount uint64) string {
	return join(KindSyncViaRest, host+"|"+strconv.FormatUint(theirBlockCount, 10))
}

func DecodeSyncViaRest(e Envelope) (host string, theirBlockCount uint64, err error) {
	if len(e.Fields) != 1 {
		return "", 0, fmt.Errorf("SYNC_VIA_REST: want 1 field, got %d", len(e.Fields))
	}
	pieces := strings.SplitN(e.Fields[0], "|", 2)
	if len(pieces) != 2 {
		return "", 0, fmt.Errorf("SYNC_VIA_REST: malformed payload %q", e.Fields[0])
	}
	theirBlockCount, err = strconv.ParseUint(pieces[1], 10, 64)
	return pieces[0], theirBlockCount, err
}

// EncodeCheckpointPropose builds
// CHECKPOINT_PROPOSE:<h>:<block_hash>:<state_root>:<proposer>:<sig_hex>.
func EncodeCheckpointPropose(height uint64, blockHash string, stateRoot []byte, proposer string, sig []byte) string {
	return join(KindCheckpointPropose, strconv.FormatUint(height, 10), blockHash, hex.EncodeToString(stateRoot), proposer, hex.EncodeToString(sig))
}

// CheckpointMsg is the decoded payload shared by CHECKPOINT_PROPOSE and
// CHECKPOINT_SIGN (identical field layout bar the semantic role of the
// signer/proposer field).
type CheckpointMsg struct {
	Height    uint64
	BlockHash string
	StateRoot []byte
	Signer    string
	Signature []byte
}

func decodeCheckpointMsg(kindLabel string, e Envelope) (CheckpointMsg, error) {
	if len(e.Fields) != 5 {
		return CheckpointMsg{}, fmt.Errorf("%s: want 5 fields, got %d", kindLabel, len(e.Fields))
	}
	height, err := strconv.ParseUint(e.Fields[0], 10, 64)
	if err != nil {
		return CheckpointMsg{}, err
	}
	stateRoot, err := hex.DecodeString(e.Fields[2])
	if err != nil {
		return CheckpointMsg{}, err
	}
	sig, err := hex.DecodeString(e.Fields[4])
	if err != nil {
		return CheckpointMsg{}, err
	}
	return CheckpointMsg{Height: height, BlockHash: e.Fields[1], StateRoot: stateRoot, Signer: e.Fields[3], Signature: sig}, nil
}

func DecodeCheckpointPropose(e Envelope) (CheckpointMsg, error) {
	return decodeCheckpointMsg("CHECKPOINT_PROPOSE", e)
}

// EncodeCheckpointSign builds
// CHECKPOINT_SIGN:<h>:<block_hash>:<state_root>:<signer>:<sig_hex>.
func EncodeCheckpointSign(height uint64, blockHash string, stateRoot []byte, signer string, sig []byte) string {
	return join(KindCheckpointSign, strconv.FormatUint(height, 10), blockHash, hex.EncodeToString(stateRoot), signer, hex.EncodeToString(sig))
}

func DecodeCheckpointSign(e Envelope) (CheckpointMsg, error) {
	return decodeCheckpointMsg("CHECKPOINT_SIGN", e)
}

// EncodePeerList builds PEER_LIST:<json>.
func EncodePeerList(peersJSON []byte) string { return join(KindPeerList, string(peersJSON)) }

func DecodePeerList(e Envelope) ([]byte, error) {
	if len(e.Fields) < 1 {
		return nil, fmt.Errorf("PEER_LIST: missing payload")
	}
	return []byte(strings.Join(e.Fields, ":")), nil
}

// EncodeSlashReq builds SLASH_REQ:<cheater>:<fake_txid>:<proposer>:<ts>:<sig_hex>:<pk_hex>.
func EncodeSlashReq(cheater, fakeTXID, proposer string, tsMillis int64, sig, pubKey []byte) string {
	return join(KindSlashReq, cheater, fakeTXID, proposer, strconv.FormatInt(tsMillis, 10), hex.EncodeToString(sig), hex.EncodeToString(pubKey))
}

// SlashReqMsg is the decoded payload of SLASH_REQ. The legacy 3-field
// unsigned form (cheater, fake_txid, proposer only) is accepted by
// DecodeSlashReq for testnet callers; Signed is false in that case.
type SlashReqMsg struct {
	Cheater, FakeTXID, Proposer string
	TimestampMs                 int64
	Signature, PublicKey        []byte
	Signed                      bool
}

func DecodeSlashReq(e Envelope) (SlashReqMsg, error) {
	switch len(e.Fields) {
	case 3:
		return SlashReqMsg{Cheater: e.Fields[0], FakeTXID: e.Fields[1], Proposer: e.Fields[2], Signed: false}, nil
	case 6:
		ts, err := strconv.ParseInt(e.Fields[3], 10, 64)
		if err != nil {
			return SlashReqMsg{}, err
		}
		sig, err := hex.DecodeString(e.Fields[4])
		if err != nil {
			return SlashReqMsg{}, err
		}
		pk, err := hex.DecodeString(e.Fields[5])
		if err != nil {
			return SlashReqMsg{}, err
		}
		return SlashReqMsg{Cheater: e.Fields[0], FakeTXID: e.Fields[1], Proposer: e.Fields[2], TimestampMs: ts, Signature: sig, PublicKey: pk, Signed: true}, nil
	default:
		return SlashReqMsg{}, fmt.Errorf("SLASH_REQ: want 3 or 6 fields, got %d", len(e.Fields))
	}
}
