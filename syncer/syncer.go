// Package syncer implements the sync coordinator described in §4.7:
// gossip-size-bounded snapshot exchange with gzip compression, a REST
// fallback for oversized state, bulk vs incremental application modes,
// and the rate limits and staleness self-heal timer that bound it.
package syncer

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ethereum/go-ethereum/log"

	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/config"
	"github.com/losnetwork/los-node/ledger"
	"github.com/losnetwork/los-node/ledgertypes"
)

const (
	incrementalGapThreshold = 5
	minValidFraction        = 0.90
	minValidAbsolute        = 3
)

// Coordinator drives sync. It wraps *ledger.Ledger directly (rather than a
// narrow interface) because it needs the full surface: Export, MergeBulk,
// ApplyBlock, ComputeStateRoot, RemoveOrphanedBlocks, TotalBlockCount.
type Coordinator struct {
	cfg    *config.Config
	ledger *ledger.Ledger

	gzipLimiter *rate.Limiter
	respLimiter map[string]*rate.Limiter // per-requester SYNC response limiter
	verifyCache *fastcache.Cache         // bounded cache of block hashes already crypto-verified this run

	lastAdvanceAt   time.Time
	lastBlockCount  uint64
}

// New constructs a sync coordinator. verifyCacheBytes sizes the bounded
// fastcache used to avoid re-verifying blocks already checked in a prior
// snapshot pass.
func New(cfg *config.Config, l *ledger.Ledger, verifyCacheBytes int) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		ledger:      l,
		gzipLimiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
		respLimiter: make(map[string]*rate.Limiter),
		verifyCache: fastcache.New(verifyCacheBytes),
		lastAdvanceAt: time.Now(),
	}
}

// limiterFor returns (creating if needed) the per-requester SYNC response
// limiter: one response per requester per 15s (§4.7 "Rate limits").
func (c *Coordinator) limiterFor(requester string) *rate.Limiter {
	l, ok := c.respLimiter[requester]
	if !ok {
		l = rate.NewLimiter(rate.Every(15*time.Second), 1)
		c.respLimiter[requester] = l
	}
	return l
}

// AllowResponse reports whether a SYNC response to requester is currently
// permitted under the per-requester rate limit.
func (c *Coordinator) AllowResponse(requester string) bool {
	return c.limiterFor(requester).Allow()
}

// AllowGzipAccept reports whether accepting a SYNC_GZIP is currently
// permitted under the global one-per-10s limit.
func (c *Coordinator) AllowGzipAccept() bool {
	return c.gzipLimiter.Allow()
}

// CompressSnapshot gzip-encodes the current ledger export for gossip or
// REST transfer (§4.7 "compresses its full ledger encoding").
func (c *Coordinator) CompressSnapshot() ([]byte, error) {
	snap := c.ledger.Export()
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressSnapshot reverses CompressSnapshot.
func DecompressSnapshot(payload []byte) (ledger.Snapshot, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return ledger.Snapshot{}, err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return ledger.Snapshot{}, err
	}
	var snap ledger.Snapshot
	if err := json.Unmarshal(buf.Bytes(), &snap); err != nil {
		return ledger.Snapshot{}, err
	}
	return snap, nil
}

// RespondToRequest implements the responder side of §4.7's gossip path:
// if this node has strictly more blocks, it compresses its full ledger
// and picks SYNC_GZIP or SYNC_VIA_REST depending on the gossip size
// limit.
func (c *Coordinator) RespondToRequest(theirBlockCount uint64, restHost string, gossipSizeLimit int) (gzipPayload []byte, useRest bool, err error) {
	if c.ledger.TotalBlockCount() <= theirBlockCount {
		return nil, false, nil
	}
	payload, err := c.CompressSnapshot()
	if err != nil {
		return nil, false, err
	}
	if len(payload) <= gossipSizeLimit {
		return payload, false, nil
	}
	return nil, true, nil
}

// markAdvanced records that local block count progressed, resetting the
// staleness clock (§4.7 "stale-state self-heal").
func (c *Coordinator) markAdvanced() {
	count := c.ledger.TotalBlockCount()
	if count != c.lastBlockCount {
		c.lastBlockCount = count
		c.lastAdvanceAt = time.Now()
	}
}

// IsStale reports whether local block count has not advanced for at
// least staleDuration (default 4 minutes per §4.7).
func (c *Coordinator) IsStale(now time.Time, staleDuration time.Duration) bool {
	c.markAdvanced()
	return now.Sub(c.lastAdvanceAt) >= staleDuration
}

// verifyBlocksConcurrently implements §4.7 step 2's per-block check: each
// incoming block's signing hash and sender must decode and its signature
// must verify against its embedded public key. The anti-spam work nonce is
// not rechecked here. Verification fans out across goroutines via
// errgroup since each check is independent and CPU-bound, matching the
// spec's explicit "CPU-bound work... explicitly offloaded" requirement (§5).
func verifyBlocksConcurrently(blocks map[string]ledgertypes.Block, chainID config.ChainID, cache *fastcache.Cache) (invalid int) {
	hashes := make([]string, 0, len(blocks))
	for h := range blocks {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes) // deterministic iteration order for reproducible logs

	var invalidCount int32
	var g errgroup.Group
	const workers = 8
	chunks := chunk(hashes, workers)
	for _, ch := range chunks {
		ch := ch
		g.Go(func() error {
			var local int
			for _, h := range ch {
				b := blocks[h]
				if cache.Has([]byte(h)) {
					continue
				}
				if !verifyOne(&b, chainID) {
					local++
					continue
				}
				cache.Set([]byte(h), []byte{1})
			}
			addInt32(&invalidCount, int32(local))
			return nil
		})
	}
	_ = g.Wait()
	return int(invalidCount)
}

func addInt32(addr *int32, delta int32) { *addr += delta }

func chunk(items []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	var out [][]string
	size := (len(items) + n - 1) / n
	if size == 0 {
		return out
	}
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

func verifyOne(b *ledgertypes.Block, chainID config.ChainID) bool {
	signingHash, err := b.SigningHash(chainID)
	if err != nil {
		return false
	}
	sender, err := b.Sender()
	if err != nil {
		return false
	}
	_ = sender
	if len(b.Signature) == 0 || len(b.PublicKey) == 0 {
		return false
	}
	return chainsig.VerifySignature(b.PublicKey, signingHash, b.Signature)
}

// ApplySnapshot implements §4.7's full "Applying a snapshot" sequence.
func (c *Coordinator) ApplySnapshot(snap ledger.Snapshot) error {
	if len(snap.StateRoot) > 0 {
		if equal, err := c.ledger.StateRootEquals(snap.StateRoot); err == nil && equal {
			return nil
		}
	}

	invalid := verifyBlocksConcurrently(snap.Blocks, c.cfg.ChainID, c.verifyCache)
	total := len(snap.Blocks)
	if total > 0 {
		fraction := float64(invalid) / float64(total)
		if fraction > (1-minValidFraction) && invalid >= minValidAbsolute {
			log.Warn("rejecting snapshot: invalid block fraction too high", "invalid", invalid, "total", total)
			return nil
		}
	}

	gap := gapSize(snap, c.ledger)
	if gap > incrementalGapThreshold {
		accounts, blocks := c.ledger.MergeBulk(snap)
		log.Info("sync applied in bulk mode", "gap", gap, "accounts_adopted", accounts, "blocks_adopted", blocks)
	} else {
		c.applyIncremental(snap)
	}

	removed := c.ledger.RemoveOrphanedBlocks()
	log.Info("sync complete", "orphans_removed", removed)
	c.markAdvanced()
	return nil
}

// applyIncremental implements §4.7 step 4: two ordered passes over
// blocks by timestamp, silently skipping chain-sequence rejects on the
// first pass since the second pass resolves any that were only rejected
// due to a same-snapshot ordering artifact.
func (c *Coordinator) applyIncremental(snap ledger.Snapshot) {
	ordered := make([]ledgertypes.Block, 0, len(snap.Blocks))
	for _, b := range snap.Blocks {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp < ordered[j].Timestamp })

	for pass := 0; pass < 2; pass++ {
		for i := range ordered {
			b := ordered[i]
			if _, err := c.ledger.ApplyBlock(&b); err != nil {
				continue // chain-sequence rejects are expected on pass 1
			}
		}
	}
}

// gapSize estimates how far behind the local ledger is relative to the
// incoming snapshot, used to choose bulk vs incremental mode (§4.7 step 3).
func gapSize(snap ledger.Snapshot, l *ledger.Ledger) uint64 {
	var incomingTotal uint64
	for _, a := range snap.Accounts {
		incomingTotal += a.BlockCount
	}
	localTotal := l.TotalBlockCount()
	if incomingTotal <= localTotal {
		return 0
	}
	return incomingTotal - localTotal
}
