// Package validatorreg centralizes validator (un)registration so the
// three call sites the spec identifies — REST API, mining auto-register,
// and gossip VALIDATOR_REG — all funnel through one idempotent operation
// instead of duplicating the bookkeeping (§9 "Opportunistic
// re-registration").
package validatorreg

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/config"
)

// Source identifies which call site triggered a (re)registration, purely
// for logging/diagnostics.
type Source string

const (
	SourceRest    Source = "rest"
	SourceMining  Source = "mining"
	SourceGossip  Source = "gossip"
	SourceGenesis Source = "genesis"
)

// LedgerView is the slice of ledger.Ledger registration needs.
type LedgerView interface {
	Account(address string) (accountBalance uint64, exists bool)
	SetValidatorFlag(address string, isValidator bool)
}

// ledgerAdapter lets callers hand in their concrete ledger.Ledger (whose
// Account method returns ledgertypes.AccountState, not a bare balance)
// without this package importing ledgertypes for a single field.
type ledgerAdapter struct {
	accountBalance func(address string) (uint64, bool)
	setFlag        func(address string, isValidator bool)
}

func (a ledgerAdapter) Account(address string) (uint64, bool) { return a.accountBalance(address) }
func (a ledgerAdapter) SetValidatorFlag(address string, isValidator bool) {
	a.setFlag(address, isValidator)
}

// NewLedgerAdapter wires arbitrary balance-lookup/flag-set closures (the
// node supplies ledger.Ledger's real methods) into a LedgerView.
func NewLedgerAdapter(accountBalance func(string) (uint64, bool), setFlag func(string, bool)) LedgerView {
	return ledgerAdapter{accountBalance: accountBalance, setFlag: setFlag}
}

// EndpointBook tracks each validator's announced REST host/port, used by
// the sync coordinator's SYNC_VIA_REST redirect and peer exchange.
type EndpointBook struct {
	mu        sync.Mutex
	endpoints map[string]string // address -> host:port
}

func NewEndpointBook() *EndpointBook {
	return &EndpointBook{endpoints: make(map[string]string)}
}

func (b *EndpointBook) Set(address, hostPort string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints[address] = hostPort
}

func (b *EndpointBook) Get(address string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hostPort, ok := b.endpoints[address]
	return hostPort, ok
}

// All returns a stable snapshot for PEER_LIST gossip construction.
func (b *EndpointBook) All() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.endpoints))
	for k, v := range b.endpoints {
		out[k] = v
	}
	return out
}

// Registry is the single idempotent validator-registration operation
// every call site uses.
type Registry struct {
	mu         sync.Mutex
	registered map[string]bool
	ledger     LedgerView
	endpoints  *EndpointBook
}

func New(ledger LedgerView, endpoints *EndpointBook) *Registry {
	return &Registry{registered: make(map[string]bool), ledger: ledger, endpoints: endpoints}
}

// Register implements register_validator(address, registration_source):
// idempotent — re-registering an already-registered address from any
// source is a no-op after refreshing its endpoint, never double-counts.
func (r *Registry) Register(address string, source Source, hostPort string) error {
	balance, ok := r.ledger.Account(address)
	if !ok {
		return fmt.Errorf("cannot register unknown account %s", address)
	}
	if balance < config.MinValidatorRegisterCil {
		return fmt.Errorf("account %s balance %d below MIN_VALIDATOR_REGISTER_CIL", address, balance)
	}

	r.mu.Lock()
	alreadyRegistered := r.registered[address]
	r.registered[address] = true
	r.mu.Unlock()

	r.ledger.SetValidatorFlag(address, true)
	if hostPort != "" {
		r.endpoints.Set(address, hostPort)
	}

	if alreadyRegistered {
		log.Debug("validator re-registration is a no-op", "address", address, "source", source)
	} else {
		log.Info("validator registered", "address", address, "source", source)
	}
	return nil
}

// Unregister marks address no longer registered (voluntary unstake path,
// §4.5) without touching its ledger balance.
func (r *Registry) Unregister(address string) {
	r.mu.Lock()
	delete(r.registered, address)
	r.mu.Unlock()
	r.ledger.SetValidatorFlag(address, false)
}

// IsRegistered reports current registration status.
func (r *Registry) IsRegistered(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered[address]
}

// Addresses returns every currently registered validator address,
// unordered.
func (r *Registry) Addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	addrs := make([]string, 0, len(r.registered))
	for a := range r.registered {
		addrs = append(addrs, a)
	}
	return addrs
}
