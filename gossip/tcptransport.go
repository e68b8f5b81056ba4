package gossip

import (
	"bufio"
	"net"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// TCPTransport is a minimal concrete Transport: each gossip message is one
// newline-terminated line written to every open peer connection. This is
// the "best-effort ordered byte-message bus" §1 calls out as opaque to
// the core — the core only ever depends on the Transport interface, never
// on this type directly.
type TCPTransport struct {
	listenAddr string

	mu    sync.Mutex
	peers map[string]net.Conn // remote address -> connection

	inbox chan Inbound
}

// NewTCPTransport starts listening on listenAddr and dials every address
// in staticPeers, reconnecting is left to the caller (operational
// concern, not this module's).
func NewTCPTransport(listenAddr string, staticPeers []string) (*TCPTransport, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	t := &TCPTransport{
		listenAddr: listenAddr,
		peers:      make(map[string]net.Conn),
		inbox:      make(chan Inbound, 1024),
	}
	go t.acceptLoop(ln)
	for _, addr := range staticPeers {
		go t.dial(addr)
	}
	return t, nil
}

func (t *TCPTransport) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Error("gossip transport accept failed", "err", err)
			return
		}
		t.addPeer(conn)
	}
}

func (t *TCPTransport) dial(addr string) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Warn("gossip transport dial failed", "addr", addr, "err", err)
		return
	}
	t.addPeer(conn)
}

func (t *TCPTransport) addPeer(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	t.mu.Lock()
	t.peers[remote] = conn
	t.mu.Unlock()
	go t.readLoop(remote, conn)
}

func (t *TCPTransport) readLoop(remote string, conn net.Conn) {
	defer func() {
		t.mu.Lock()
		delete(t.peers, remote)
		t.mu.Unlock()
		conn.Close()
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	for scanner.Scan() {
		t.inbox <- Inbound{PeerID: remote, Message: scanner.Text()}
	}
}

// Broadcast implements Transport.
func (t *TCPTransport) Broadcast(message string) {
	t.mu.Lock()
	conns := make([]net.Conn, 0, len(t.peers))
	for _, c := range t.peers {
		conns = append(conns, c)
	}
	t.mu.Unlock()
	for _, c := range conns {
		writeLine(c, message)
	}
}

// SendTo implements Transport.
func (t *TCPTransport) SendTo(peerID string, message string) {
	t.mu.Lock()
	conn, ok := t.peers[peerID]
	t.mu.Unlock()
	if !ok {
		return
	}
	writeLine(conn, message)
}

// Subscribe implements Transport.
func (t *TCPTransport) Subscribe() <-chan Inbound {
	return t.inbox
}

func writeLine(conn net.Conn, message string) {
	if _, err := conn.Write([]byte(message + "\n")); err != nil {
		log.Debug("gossip transport write failed", "err", err)
	}
}
