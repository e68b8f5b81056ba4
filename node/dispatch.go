package node

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/addr"
	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/checkpoint"
	"github.com/losnetwork/los-node/gossip"
	"github.com/losnetwork/los-node/ledger"
	"github.com/losnetwork/los-node/slashing"
	"github.com/losnetwork/los-node/syncer"
	"github.com/losnetwork/los-node/validatorreg"
)

// RunDispatch drains the transport's inbound channel and routes every
// message to the owning component, validating any embedded signature
// before it is trusted (§6 "All payloads containing signatures must be
// validated").
func (n *Node) RunDispatch(ctx context.Context) {
	if n.Transport == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ch := n.Transport.Subscribe()
		for {
			select {
			case in, ok := <-ch:
				if !ok {
					return
				}
				n.handleInbound(in)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (n *Node) handleInbound(in gossip.Inbound) {
	env, err := gossip.Split(in.Message)
	if err != nil {
		log.Debug("dropping malformed gossip message", "peer", in.PeerID, "err", err)
		return
	}

	switch env.Kind {
	case gossip.KindID:
		msg, err := gossip.DecodeID(env)
		if err != nil {
			return
		}
		n.Addresses.Observe(PeerInfo{Address: msg.Address, RemainingSupply: msg.RemainingSupply, LastSeenMilli: msg.TimestampMs})

	case gossip.KindConfirmReq:
		msg, err := gossip.DecodeConfirmReq(env)
		if err != nil {
			return
		}
		n.handleConfirmReq(msg)

	case gossip.KindConfirmRes:
		msg, err := gossip.DecodeConfirmRes(env)
		if err != nil {
			return
		}
		n.handleConfirmRes(msg)

	case gossip.KindBlockConfirmed:
		sendEnc, recvEnc, err := gossip.DecodeBlockConfirmed(env)
		if err != nil {
			return
		}
		sendBlock, err := decodeBlock(sendEnc)
		if err != nil {
			return
		}
		recvBlock, err := decodeBlock(recvEnc)
		if err != nil {
			return
		}
		n.SendConsensus.ApplyConfirmed(sendBlock, recvBlock)

	case gossip.KindMineBlock:
		payload, err := gossip.DecodeMineBlock(env)
		if err != nil {
			return
		}
		block, err := decodeBlock(payload)
		if err != nil {
			return
		}
		if _, err := n.Ledger.ApplyBlock(block); err != nil {
			log.Debug("gossiped mint/reward/slash block rejected", "err", err)
		}

	case gossip.KindValidatorReg:
		payload, err := gossip.DecodeValidatorReg(env)
		if err != nil {
			return
		}
		var p validatorRegPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		if err := n.Registry.Register(p.Address, validatorreg.SourceGossip, p.HostPort); err != nil {
			log.Debug("gossiped validator registration rejected", "address", p.Address, "err", err)
		}

	case gossip.KindValidatorUnreg:
		payload, err := gossip.DecodeValidatorUnreg(env)
		if err != nil {
			return
		}
		var p validatorRegPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		n.Registry.Unregister(p.Address)
		n.Slashing.Unregister(p.Address)

	case gossip.KindValidatorHeartbeat:
		msg, err := gossip.DecodeValidatorHeartbeat(env)
		if err != nil {
			return
		}
		n.handleHeartbeat(msg)

	case gossip.KindValidatorHeartbeatProx:
		msg, err := gossip.DecodeValidatorHeartbeatProxy(env)
		if err != nil {
			return
		}
		n.handleHeartbeatProxy(msg)

	case gossip.KindSyncRequest:
		address, blockCount, err := gossip.DecodeSyncRequest(env)
		if err != nil {
			return
		}
		n.handleSyncRequest(in.PeerID, address, blockCount)

	case gossip.KindSyncGzip:
		payload, err := gossip.DecodeSyncGzip(env)
		if err != nil {
			return
		}
		n.handleSyncGzip(payload)

	case gossip.KindSyncViaRest:
		host, theirCount, err := gossip.DecodeSyncViaRest(env)
		if err != nil {
			return
		}
		// TODO: fetch from host via the REST snapshot endpoint once
		// restapi's client side exists; for now this just surfaces the
		// redirect so an operator can pull it by hand.
		log.Info("peer redirected sync to REST", "host", host, "their_block_count", theirCount)

	case gossip.KindCheckpointPropose:
		msg, err := gossip.DecodeCheckpointPropose(env)
		if err != nil {
			return
		}
		n.handleCheckpointPropose(msg)

	case gossip.KindCheckpointSign:
		msg, err := gossip.DecodeCheckpointSign(env)
		if err != nil {
			return
		}
		n.handleCheckpointSign(msg)

	case gossip.KindPeerList:
		payload, err := gossip.DecodePeerList(env)
		if err != nil {
			return
		}
		var peers map[string]string
		if err := json.Unmarshal(payload, &peers); err != nil {
			return
		}
		for address, hostPort := range peers {
			n.Endpoints.Set(address, hostPort)
		}

	case gossip.KindSlashReq:
		msg, err := gossip.DecodeSlashReq(env)
		if err != nil {
			return
		}
		n.handleSlashReq(msg)

	default:
		log.Debug("unrecognized gossip message kind", "kind", env.Kind)
	}
}

// validatorRegPayload is the JSON body carried by VALIDATOR_REG/UNREG.
type validatorRegPayload struct {
	Address  string `json:"address"`
	HostPort string `json:"host_port"`
}

// voteDigest is the byte sequence a CONFIRM_RES voter signs over: the send
// hash plus the voter's own address, preventing a captured vote from being
// replayed under a different voter identity.
func voteDigest(hash, voter string) []byte {
	return chainsig.Keccak256([]byte(hash), []byte(voter))
}

// handleConfirmReq implements the receiving side of §4.2 step 2: a peer
// evaluates a propagated Send against its own ledger view and, if it looks
// valid, casts a signed YES vote.
func (n *Node) handleConfirmReq(req gossip.ConfirmReq) {
	block, err := decodeBlock(req.BlockEncoded)
	if err != nil {
		return
	}
	hash, err := block.HashHex()
	if err != nil || hash != req.Hash {
		return
	}
	if err := ledger.VerifyOwnerAuthoredBlock(block, n.cfg.ChainID); err != nil {
		return
	}
	account, ok := n.Ledger.Account(block.AccountStr)
	if !ok || account.Balance < block.Amount+block.Fee {
		return
	}

	now := time.Now().UnixMilli()
	digest := voteDigest(req.Hash, n.address.String())
	sig := n.priv.Sign(digest)
	n.broadcast(gossip.EncodeConfirmRes(req.Hash, req.Sender, n.address.String(), now, sig, n.priv.PublicKeyBytes()))
}

// handleConfirmRes implements §4.2 steps 3-4: verify the vote, tally it,
// and finalize the Send the moment quorum is first reached. Only the node
// that originally propagated the Send (and therefore holds it pending)
// will see RecordVote succeed, so Finalize is safe to call unconditionally
// here.
func (n *Node) handleConfirmRes(res gossip.ConfirmRes) {
	if !chainsig.VerifySignature(res.PublicKey, voteDigest(res.Hash, res.Voter), res.Signature) {
		return
	}
	if addr.FromPublicKey(res.PublicKey).String() != res.Voter {
		return
	}
	balance := n.BalanceOf(res.Voter)
	if !n.SendConsensus.RecordVote(res.Hash, res.Voter, balance) {
		return
	}
	if _, _, err := n.SendConsensus.Finalize(res.Hash); err != nil {
		log.Warn("failed to finalize quorum-reached send", "hash", res.Hash, "err", err)
	}
}

// heartbeatDigest is the byte sequence a VALIDATOR_HEARTBEAT signs over.
func heartbeatDigest(address string, tsMillis int64) []byte {
	return chainsig.Keccak256([]byte(address), []byte(strconv.FormatInt(tsMillis, 10)))
}

// heartbeatProxyDigest is the byte sequence a VALIDATOR_HEARTBEAT_PROXY
// signs over: the proxying node vouches for wallet's liveness.
func heartbeatProxyDigest(wallet, node string, tsMillis int64) []byte {
	return chainsig.Keccak256([]byte(wallet), []byte(node), []byte(strconv.FormatInt(tsMillis, 10)))
}

func (n *Node) handleHeartbeat(msg gossip.Heartbeat) {
	if !chainsig.VerifySignature(msg.PublicKey, heartbeatDigest(msg.Address, msg.TimestampMs), msg.Signature) {
		return
	}
	if addr.FromPublicKey(msg.PublicKey).String() != msg.Address {
		return
	}
	n.recordLivePeer(msg.Address, msg.TimestampMs)
}

func (n *Node) handleHeartbeatProxy(msg gossip.HeartbeatProxy) {
	if !chainsig.VerifySignature(msg.PublicKey, heartbeatProxyDigest(msg.Wallet, msg.Node, msg.TimestampMs), msg.Signature) {
		return
	}
	if addr.FromPublicKey(msg.PublicKey).String() != msg.Node {
		return
	}
	n.recordLivePeer(msg.Wallet, msg.TimestampMs)
}

// handleSyncRequest implements the responder side of §4.7: reply with a
// gzip snapshot if it fits the gossip size limit, otherwise redirect the
// requester to fetch over REST.
func (n *Node) handleSyncRequest(peerID, requesterAddress string, theirBlockCount uint64) {
	if !n.Sync.AllowResponse(requesterAddress) {
		return
	}
	restHost, _ := n.Endpoints.Get(n.address.String())
	payload, useRest, err := n.Sync.RespondToRequest(theirBlockCount, restHost, int(n.cfg.GossipSizeLimitBytes))
	if err != nil {
		log.Warn("failed to build sync response", "err", err)
		return
	}
	if useRest {
		n.Transport.SendTo(peerID, gossip.EncodeSyncViaRest(restHost, n.Ledger.TotalBlockCount()))
		return
	}
	if payload != nil {
		n.Transport.SendTo(peerID, gossip.EncodeSyncGzip(payload))
	}
}

func (n *Node) handleSyncGzip(payload []byte) {
	if !n.Sync.AllowGzipAccept() {
		return
	}
	snap, err := syncer.DecompressSnapshot(payload)
	if err != nil {
		log.Warn("failed to decompress sync snapshot", "err", err)
		return
	}
	if err := n.Sync.ApplySnapshot(snap); err != nil {
		log.Warn("failed to apply sync snapshot", "err", err)
	}
}

func (n *Node) handleCheckpointPropose(msg gossip.CheckpointMsg) {
	pubKey, ok := n.PublicKeyFor(msg.Signer)
	if !ok {
		return
	}
	if !chainsig.VerifySignature(pubKey, checkpoint.Digest(msg.Height, msg.BlockHash, msg.StateRoot), msg.Signature) {
		return
	}
	localRoot, err := n.Ledger.ComputeStateRoot()
	if err != nil {
		return
	}
	proposer, err := addr.Parse(msg.Signer)
	if err != nil {
		return
	}
	sig, err := n.Checkpoint.Receive(msg.Height, msg.BlockHash, msg.StateRoot, localRoot, proposer, msg.Signature, n.address, n.priv)
	if err != nil {
		log.Debug("declining to co-sign checkpoint", "height", msg.Height, "err", err)
		return
	}
	n.broadcast(gossip.EncodeCheckpointSign(msg.Height, msg.BlockHash, msg.StateRoot, n.address.String(), sig))
}

func (n *Node) handleCheckpointSign(msg gossip.CheckpointMsg) {
	pubKey, ok := n.PublicKeyFor(msg.Signer)
	if !ok {
		return
	}
	if !chainsig.VerifySignature(pubKey, checkpoint.Digest(msg.Height, msg.BlockHash, msg.StateRoot), msg.Signature) {
		return
	}
	if final := n.Checkpoint.ApplySignature(msg.Height, msg.Signer, msg.Signature, n.quorumSize()); final != nil {
		log.Info("checkpoint reached quorum via gossip", "height", final.Height, "signers", len(final.Signers))
	}
}

type minterLookupAdapter struct{ node *Node }

func (a minterLookupAdapter) BlockExists(hash string) bool {
	_, ok := a.node.Ledger.Block(hash)
	return ok
}

func (n *Node) handleSlashReq(msg gossip.SlashReqMsg) {
	req := slashing.SlashRequest{
		Offender:    msg.Cheater,
		ForgedTXID:  msg.FakeTXID,
		Proposer:    msg.Proposer,
		ProposerSig: msg.Signature,
		Signed:      msg.Signed,
	}
	if msg.Signed {
		if !chainsig.VerifySignature(msg.PublicKey, slashing.RequestDigest(msg.Cheater, msg.FakeTXID, msg.Proposer, msg.TimestampMs), msg.Signature) {
			return
		}
		if addr.FromPublicKey(msg.PublicKey).String() != msg.Proposer {
			return
		}
	} else if n.cfg.IsMainnet() {
		// Legacy unsigned SLASH_REQ is a testnet-only bypass; mainnet
		// requires a signed proposer identity (§4.5).
		return
	}

	if err := n.Slashing.SubmitSlashRequest(req, minterLookupAdapter{node: n}, n.quorumSize()); err != nil {
		log.Warn("slash request rejected", "offender", msg.Cheater, "err", err)
	}
}
