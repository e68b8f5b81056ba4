// Package restapi exposes the thin HTTP surface named but left internally
// unspecified by §1's Non-goals: account/status queries, the REST-based
// sync fallback named by SYNC_VIA_REST (§4.7), and a registration path
// so validators can opportunistically re-register over HTTP instead of
// only via gossip (§9). Every handler is a direct call into node.Node;
// no business logic lives here.
package restapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"

	"github.com/losnetwork/los-node/ledgertypes"
	"github.com/losnetwork/los-node/validatorreg"
)

// LedgerView is the slice of node.Node the REST handlers query.
type LedgerView interface {
	Account(address string) (ledgertypes.AccountState, bool)
	TotalBlockCount() uint64
	LastAppliedHash() string
}

// SyncView is the slice of syncer.Coordinator the REST sync fallback uses.
type SyncView interface {
	CompressSnapshot() ([]byte, error)
}

// Registrar is the slice of validatorreg.Registry the registration
// handler uses.
type Registrar interface {
	Register(address string, source validatorreg.Source, hostPort string) error
	Unregister(address string)
}

// Server wires the above views into a net/http handler.
type Server struct {
	ledger   LedgerView
	sync     SyncView
	registry Registrar
	startedAt time.Time
}

// New constructs a Server. Handlers are registered lazily by Handler().
func New(ledger LedgerView, sync SyncView, registry Registrar) *Server {
	return &Server{ledger: ledger, sync: sync, registry: registry, startedAt: time.Now()}
}

// Handler returns the fully wired http.Handler, CORS-wrapped the way
// go-ethereum's own RPC HTTP server wraps its mux (both pull in
// github.com/rs/cors for exactly this).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/account/", s.handleAccount)
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/unregister", s.handleUnregister)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	})
	return c.Handler(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime_sec": int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"block_count": s.ledger.TotalBlockCount(),
		"last_hash":   s.ledger.LastAppliedHash(),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimPrefix(r.URL.Path, "/account/")
	if address == "" {
		http.Error(w, "missing address", http.StatusBadRequest)
		return
	}
	account, ok := s.ledger.Account(address)
	if !ok {
		http.Error(w, "unknown account", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// handleSync is the REST fallback named by SYNC_VIA_REST: a direct GET
// returning the same gzip snapshot encoding with no gossip size cap
// (§4.7 "Used when gossip would exceed its limit").
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	payload, err := s.sync.CompressSnapshot()
	if err != nil {
		log.Error("REST sync snapshot compression failed", "err", err)
		http.Error(w, "failed to build snapshot", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

type registrationRequest struct {
	Address  string `json:"address"`
	HostPort string `json:"host_address"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if err := s.registry.Register(req.Address, validatorreg.SourceRest, req.HostPort); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registered": req.Address})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "missing address", http.StatusBadRequest)
		return
	}
	s.registry.Unregister(address)
	writeJSON(w, http.StatusOK, map[string]any{"unregistered": address})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode REST response", "err", err)
	}
}
