package gossip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func split(t *testing.T, raw string) Envelope {
	t.Helper()
	e, err := Split(raw)
	require.NoError(t, err)
	return e
}

func TestSplitParsesKindAndFields(t *testing.T) {
	e, err := Split("ID:abc:100:12345")
	require.NoError(t, err)
	require.Equal(t, KindID, e.Kind)
	require.Equal(t, []string{"abc", "100", "12345"}, e.Fields)
	require.Equal(t, "ID:abc:100:12345", e.Raw)
}

func TestIDRoundTrips(t *testing.T) {
	raw := EncodeID("los1abc", 42, 1000)
	msg, err := DecodeID(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, IDMsg{Address: "los1abc", RemainingSupply: 42, TimestampMs: 1000}, msg)
}

func TestDecodeIDRejectsWrongFieldCount(t *testing.T) {
	_, err := DecodeID(split(t, "ID:abc"))
	require.Error(t, err)
}

func TestConfirmReqRoundTrips(t *testing.T) {
	raw := EncodeConfirmReq("hash1", "sender1", 500, 999, []byte("block-bytes"))
	msg, err := DecodeConfirmReq(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, "hash1", msg.Hash)
	require.Equal(t, "sender1", msg.Sender)
	require.Equal(t, uint64(500), msg.Amount)
	require.Equal(t, int64(999), msg.TimestampMs)
	require.Equal(t, []byte("block-bytes"), msg.BlockEncoded)
}

func TestConfirmResRoundTrips(t *testing.T) {
	sig := []byte{0x01, 0x02, 0x03}
	pk := []byte{0xAA, 0xBB}
	raw := EncodeConfirmRes("hash1", "sender1", "voter1", 1234, sig, pk)
	msg, err := DecodeConfirmRes(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, "hash1", msg.Hash)
	require.Equal(t, "voter1", msg.Voter)
	require.Equal(t, sig, msg.Signature)
	require.Equal(t, pk, msg.PublicKey)
}

func TestDecodeConfirmResRejectsUnknownVoteValue(t *testing.T) {
	e := split(t, "CONFIRM_RES:hash1:sender1:NO:voter1:1234:aa:bb")
	_, err := DecodeConfirmRes(e)
	require.Error(t, err)
}

func TestBlockConfirmedRoundTrips(t *testing.T) {
	raw := EncodeBlockConfirmed([]byte("send"), []byte("recv"))
	sendEncoded, recvEncoded, err := DecodeBlockConfirmed(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, []byte("send"), sendEncoded)
	require.Equal(t, []byte("recv"), recvEncoded)
}

func TestMineBlockRoundTripsJSONPayload(t *testing.T) {
	payload := []byte(`{"hash":"abc:def"}`)
	raw := EncodeMineBlock(payload)
	decoded, err := DecodeMineBlock(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestValidatorRegRoundTrips(t *testing.T) {
	payload := []byte(`{"address":"los1abc"}`)
	raw := EncodeValidatorReg(payload)
	decoded, err := DecodeValidatorReg(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestValidatorUnregRoundTrips(t *testing.T) {
	payload := []byte(`{"address":"los1abc"}`)
	raw := EncodeValidatorUnreg(payload)
	decoded, err := DecodeValidatorUnreg(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestValidatorHeartbeatRoundTrips(t *testing.T) {
	pk := []byte{0x01, 0x02}
	sig := []byte{0x03, 0x04}
	raw := EncodeValidatorHeartbeat("los1abc", 5000, pk, sig)
	msg, err := DecodeValidatorHeartbeat(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, Heartbeat{Address: "los1abc", TimestampMs: 5000, PublicKey: pk, Signature: sig}, msg)
}

func TestValidatorHeartbeatProxyRoundTrips(t *testing.T) {
	pk := []byte{0x01}
	sig := []byte{0x02}
	raw := EncodeValidatorHeartbeatProxy("wallet1", "node1", 7000, pk, sig)
	msg, err := DecodeValidatorHeartbeatProxy(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, HeartbeatProxy{Wallet: "wallet1", Node: "node1", TimestampMs: 7000, PublicKey: pk, Signature: sig}, msg)
}

func TestSyncRequestRoundTrips(t *testing.T) {
	raw := EncodeSyncRequest("los1abc", 123)
	address, count, err := DecodeSyncRequest(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, "los1abc", address)
	require.Equal(t, uint64(123), count)
}

func TestSyncGzipRoundTrips(t *testing.T) {
	raw := EncodeSyncGzip([]byte{0x1f, 0x8b, 0x00})
	payload, err := DecodeSyncGzip(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, []byte{0x1f, 0x8b, 0x00}, payload)
}

func TestSyncViaRestRoundTrips(t *testing.T) {
	raw := EncodeSyncViaRest("10.0.0.1:8080", 77)
	host, count, err := DecodeSyncViaRest(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:8080", host)
	require.Equal(t, uint64(77), count)
}

func TestDecodeSyncViaRestRejectsMalformedPayload(t *testing.T) {
	_, _, err := DecodeSyncViaRest(split(t, "SYNC_VIA_REST:no-pipe-here"))
	require.Error(t, err)
}

func TestCheckpointProposeRoundTrips(t *testing.T) {
	stateRoot := []byte{0xDE, 0xAD}
	sig := []byte{0xBE, 0xEF}
	raw := EncodeCheckpointPropose(1000, "blockhash1", stateRoot, "proposer1", sig)
	msg, err := DecodeCheckpointPropose(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, CheckpointMsg{Height: 1000, BlockHash: "blockhash1", StateRoot: stateRoot, Signer: "proposer1", Signature: sig}, msg)
}

func TestCheckpointSignRoundTrips(t *testing.T) {
	stateRoot := []byte{0x01}
	sig := []byte{0x02}
	raw := EncodeCheckpointSign(2000, "blockhash2", stateRoot, "signer1", sig)
	msg, err := DecodeCheckpointSign(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, CheckpointMsg{Height: 2000, BlockHash: "blockhash2", StateRoot: stateRoot, Signer: "signer1", Signature: sig}, msg)
}

func TestPeerListRoundTrips(t *testing.T) {
	payload := []byte(`[{"address":"los1abc","host":"1.2.3.4:7070"}]`)
	raw := EncodePeerList(payload)
	decoded, err := DecodePeerList(split(t, raw))
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestSlashReqRoundTripsSignedForm(t *testing.T) {
	sig := []byte{0x01}
	pk := []byte{0x02}
	raw := EncodeSlashReq("cheater1", "fake-txid", "proposer1", 3000, sig, pk)
	msg, err := DecodeSlashReq(split(t, raw))
	require.NoError(t, err)
	require.True(t, msg.Signed)
	require.Equal(t, "cheater1", msg.Cheater)
	require.Equal(t, "fake-txid", msg.FakeTXID)
	require.Equal(t, "proposer1", msg.Proposer)
	require.Equal(t, int64(3000), msg.TimestampMs)
	require.Equal(t, sig, msg.Signature)
	require.Equal(t, pk, msg.PublicKey)
}

func TestSlashReqDecodesLegacyUnsignedForm(t *testing.T) {
	e := split(t, "SLASH_REQ:cheater1:fake-txid:proposer1")
	msg, err := DecodeSlashReq(e)
	require.NoError(t, err)
	require.False(t, msg.Signed)
	require.Equal(t, "cheater1", msg.Cheater)
}

func TestDecodeSlashReqRejectsWrongFieldCount(t *testing.T) {
	_, err := DecodeSlashReq(split(t, "SLASH_REQ:a:b:c:d:e"))
	require.Error(t, err)
}
