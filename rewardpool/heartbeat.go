package rewardpool

import "time"

// LivePeer is one authenticated gossip observation of a remote
// validator's liveness (§4.3): populated only by a signature-verified
// VALIDATOR_HEARTBEAT or VALIDATOR_HEARTBEAT_PROXY, never by raw channel
// activity.
type LivePeer struct {
	Address       string
	LastSeenMilli int64
}

// RecordTick runs one heartbeat-tick (§4.3 "Heartbeat recording"):
// self-heartbeat, every proxied address, and every live-peer address seen
// within 2x the heartbeat interval. The idempotency set (heartbeatedThisTick)
// guarantees each validator's count increases by at most 1 per tick
// regardless of how many sources report it (P10).
func (p *Pool) RecordTick(selfAddress string, livePeers map[string]LivePeer, nowMilli int64, heartbeatInterval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	window := int64(2 * heartbeatInterval / time.Millisecond)

	p.recordOneLocked(selfAddress)
	for proxied := range p.proxied {
		p.recordOneLocked(proxied)
	}
	for address, peer := range livePeers {
		if nowMilli-peer.LastSeenMilli <= window {
			p.recordOneLocked(address)
		}
	}
}

func (p *Pool) recordOneLocked(address string) {
	if p.heartbeatedThisTick[address] {
		return
	}
	rec, ok := p.validators[address]
	if !ok {
		return
	}
	rec.HeartbeatsCurrent++
	rec.HeartbeatsCumulative++
	p.heartbeatedThisTick[address] = true
}

// ClearTick is called once every node-level heartbeat tick completes, so
// the next tick's idempotency set starts fresh.
func (p *Pool) ClearTick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heartbeatedThisTick = make(map[string]bool)
}
