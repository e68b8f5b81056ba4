package node

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/config"
	"github.com/losnetwork/los-node/gossip"
	"github.com/losnetwork/los-node/mint"
)

// RunTickers starts every periodic timer named in §5: heartbeat, epoch
// rollover, save debounce, supply auditor, checkpoint proposer,
// REST-sync probe, and the miner worker pool. Each runs in its own
// goroutine so none can block another (§5 "inherently multi-threaded").
func (n *Node) RunTickers(ctx context.Context) {
	n.wg.Add(1)
	go func() { defer n.wg.Done(); n.heartbeatLoop(ctx) }()

	n.wg.Add(1)
	go func() { defer n.wg.Done(); n.epochLoop(ctx) }()

	n.wg.Add(1)
	go func() { defer n.wg.Done(); n.supplyAuditLoop(ctx) }()

	n.wg.Add(1)
	go func() { defer n.wg.Done(); n.checkpointLoop(ctx) }()

	n.wg.Add(1)
	go func() { defer n.wg.Done(); n.syncProbeLoop(ctx) }()

	n.wg.Add(1)
	go func() { defer n.wg.Done(); n.staleSyncLoop(ctx) }()

	n.wg.Add(1)
	go func() { defer n.wg.Done(); n.sendConsensusGCLoop(ctx) }()

	n.wg.Add(1)
	go func() { defer n.wg.Done(); n.peerListLoop(ctx) }()

	n.wg.Add(1)
	go func() { defer n.wg.Done(); n.saveLoop(ctx) }()

	n.announceSelf()

	if n.cfg.MinerThreads > 0 {
		miner := mint.NewMiner(n.cfg, n.Mint, n.Ledger, n.priv, n.address, n, n.cfg.MinerThreads)
		n.wg.Add(1)
		go func() { defer n.wg.Done(); miner.Run(ctx) }()
	}
}

func (n *Node) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now().UnixMilli()
			n.RewardPool.RecordTick(n.address.String(), n.livePeerSnapshot(), now, n.cfg.HeartbeatInterval)
			n.RewardPool.ClearTick()

			digest := heartbeatDigest(n.address.String(), now)
			sig := n.priv.Sign(digest)
			n.broadcast(gossip.EncodeValidatorHeartbeat(n.address.String(), now, n.priv.PublicKeyBytes(), sig))
		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) epochLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now().UnixMilli()
			n.Mint.AdvanceIfDue(now)
			if !n.RewardPool.EpochBoundaryReached(now) {
				continue
			}
			completed := n.RewardPool.AdvanceEpoch()
			if n.RewardPool.IsLeader(n.address.String()) {
				n.RewardPool.RunEpochRewardPipeline(completed, n.priv, n.address.String(), n.Ledger, n, n.cfg.ChainID, config.RewardMinUptimePct)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) supplyAuditLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.SupplyAuditInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := n.Ledger.AuditSupply(n.RewardPool.RemainingCil(), n.RewardPool.TotalDistributedCil()); err != nil {
				log.Error("CRITICAL: supply invariant violated", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) checkpointLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.SaveDebounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			blockCount := n.Ledger.TotalBlockCount()
			height, should := n.Checkpoint.ShouldPropose(blockCount)
			if !should {
				n.Checkpoint.GCStale()
				continue
			}
			root, err := n.Ledger.ComputeStateRoot()
			if err != nil {
				log.Error("failed to compute state root for checkpoint", "err", err)
				continue
			}
			blockHash := n.Ledger.LastAppliedHash()
			p := n.Checkpoint.Propose(height, blockHash, root, n.address, n.priv)
			sig := p.Signatures[n.address.String()]
			n.broadcast(gossip.EncodeCheckpointPropose(height, blockHash, root, n.address.String(), sig))
		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) syncProbeLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.SyncProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.broadcast(gossip.EncodeSyncRequest(n.address.String(), n.Ledger.TotalBlockCount()))
		case <-ctx.Done():
			return
		}
	}
}

// staleSyncLoop implements §4.7's "stale-state self-heal": every
// StaleSyncCheckEvery, if local block count hasn't advanced in
// StaleSyncThreshold, an extra SYNC_REQUEST goes out immediately instead
// of waiting for the next regular probe.
func (n *Node) staleSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.StaleSyncCheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n.Sync.IsStale(time.Now(), n.cfg.StaleSyncThreshold) {
				log.Warn("local ledger stale, forcing sync request", "threshold", n.cfg.StaleSyncThreshold)
				n.broadcast(gossip.EncodeSyncRequest(n.address.String(), n.Ledger.TotalBlockCount()))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) sendConsensusGCLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.SendConsensus.GCExpired(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// announceSelf gossips this node's own VALIDATOR_REG once at startup, the
// way a freshly-registered validator or a restarting one re-announces
// its REST host to the network (§9 "opportunistic re-registration").
func (n *Node) announceSelf() {
	hostPort, _ := n.Endpoints.Get(n.address.String())
	payload, err := json.Marshal(validatorRegPayload{Address: n.address.String(), HostPort: hostPort})
	if err != nil {
		log.Error("failed to encode self VALIDATOR_REG", "err", err)
		return
	}
	n.broadcast(gossip.EncodeValidatorReg(payload))
}

// peerListLoop gossips this node's known validator endpoints periodically
// so newly joined peers can populate their EndpointBook without waiting
// on a SYNC_VIA_REST round trip (§6 PEER_LIST).
func (n *Node) peerListLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			peers := n.Endpoints.All()
			if len(peers) == 0 {
				continue
			}
			payload, err := json.Marshal(peers)
			if err != nil {
				log.Error("failed to encode PEER_LIST", "err", err)
				continue
			}
			n.broadcast(gossip.EncodePeerList(payload))
		case <-ctx.Done():
			return
		}
	}
}

