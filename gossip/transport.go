package gossip

import "github.com/google/uuid"

// Transport is the opaque pub/sub boundary the node wires real networking
// behind. This module's scope is message encode/decode and the node-level
// routing logic that consumes a Transport — not a concrete libp2p/devp2p
// implementation, which the spec places outside the core (§1 Non-goals).
type Transport interface {
	Broadcast(message string)
	SendTo(peerID string, message string)
	Subscribe() <-chan Inbound
}

// Inbound is one message received off the transport, tagged with the
// peer it arrived from.
type Inbound struct {
	PeerID  string
	Message string
}

// NewCorrelationID mints a session/message correlation id for gossip
// request/response pairing (e.g. matching a SYNC_REQUEST to the
// SYNC_GZIP/SYNC_VIA_REST that answers it across an async transport).
func NewCorrelationID() string {
	return uuid.NewString()
}
