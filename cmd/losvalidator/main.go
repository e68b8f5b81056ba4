// Command losvalidator runs a single LOS validator node: it wires
// config loading, the node's own identity key, the TCP gossip transport,
// the REST surface, and graceful shutdown on SIGINT/SIGTERM (§5).
package main

import (
	"context"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/losnetwork/los-node/addr"
	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/config"
	"github.com/losnetwork/los-node/gossip"
	"github.com/losnetwork/los-node/node"
	"github.com/losnetwork/los-node/restapi"
	"github.com/losnetwork/los-node/store"
)

// fileConfig is the on-disk YAML shape --config accepts; CLI flags
// override whatever it sets.
type fileConfig struct {
	Network           string   `yaml:"network"`
	DataDir           string   `yaml:"data_dir"`
	ListenAddr        string   `yaml:"listen_addr"`
	RestAddr          string   `yaml:"rest_addr"`
	Peers             []string `yaml:"peers"`
	GenesisValidators []string `yaml:"genesis_validators"`
	MinerThreads      int      `yaml:"miner_threads"`
}

func main() {
	glogger := log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, true))
	glogger.Verbosity(log.LvlInfo)
	log.SetDefault(log.NewLogger(glogger))

	app := &cli.App{
		Name:  "losvalidator",
		Usage: "run a LOS validator node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file"},
			&cli.StringFlag{Name: "network", Value: "mainnet", Usage: "mainnet or testnet"},
			&cli.StringFlag{Name: "datadir", Value: "./losdata", Usage: "directory holding the node's identity key"},
			&cli.StringFlag{Name: "listen", Value: ":7070", Usage: "gossip transport listen address"},
			&cli.StringFlag{Name: "rest-addr", Value: ":8080", Usage: "REST surface listen address"},
			&cli.StringSliceFlag{Name: "peer", Usage: "static gossip peer address (repeatable)"},
			&cli.StringSliceFlag{Name: "genesis-validator", Usage: "genesis validator address (repeatable)"},
			&cli.IntFlag{Name: "miner-threads", Value: 0, Usage: "PoW mining worker count, 0 disables mining"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("losvalidator exited with error", "err", err)
	}
}

func run(c *cli.Context) error {
	fc := loadFileConfig(c.String("config"))

	network := config.Mainnet
	if strings.EqualFold(firstNonEmpty(fc.Network, c.String("network")), "testnet") {
		network = config.Testnet
	}
	cfg := config.Default(network)
	cfg.DataDir = firstNonEmpty(fc.DataDir, c.String("datadir"))

	priv, err := loadOrCreateKey(cfg.DataDir)
	if err != nil {
		return err
	}
	cfg.NodeAddress = addressOf(priv)

	listenAddr := firstNonEmpty(fc.ListenAddr, c.String("listen"))
	peers := mergeStrings(fc.Peers, c.StringSlice("peer"))
	transport, err := gossip.NewTCPTransport(listenAddr, peers)
	if err != nil {
		return err
	}

	genesisValidators := mergeStrings(fc.GenesisValidators, c.StringSlice("genesis-validator"))
	minerThreads := c.Int("miner-threads")
	if fc.MinerThreads != 0 {
		minerThreads = fc.MinerThreads
	}
	cfg.MinerThreads = minerThreads

	n := node.New(cfg, priv, genesisValidators, transport, store.NewMemory())

	restAddr := firstNonEmpty(fc.RestAddr, c.String("rest-addr"))
	restSrv := restapi.New(n.Ledger, n.Sync, n.Registry)
	httpSrv := &http.Server{Addr: restAddr, Handler: restSrv.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("REST server stopped", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig)
		httpSrv.Close()
		cancel()
	}()

	log.Info("losvalidator starting", "network", cfg.Network, "address", cfg.NodeAddress, "listen", listenAddr, "rest", restAddr)
	n.Run(ctx)
	return nil
}

func loadFileConfig(path string) fileConfig {
	var fc fileConfig
	if path == "" {
		return fc
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("failed to read config file", "path", path, "err", err)
		return fc
	}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		log.Warn("failed to parse config file", "path", path, "err", err)
	}
	return fc
}

const keyFileName = "node.key"

// loadOrCreateKey reads the node's persisted identity key from
// <datadir>/node.key, generating and saving a fresh one on first run.
func loadOrCreateKey(dataDir string) (*chainsig.PrivateKey, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, keyFileName)
	raw, err := os.ReadFile(path)
	if err == nil {
		decoded, decErr := hex.DecodeString(strings.TrimSpace(string(raw)))
		if decErr == nil {
			if priv, loadErr := chainsig.LoadKey(decoded); loadErr == nil {
				return priv, nil
			}
		}
		log.Warn("existing key file unreadable, generating a new one", "path", path)
	}

	priv, err := chainsig.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(priv.Bytes())), 0o600); err != nil {
		return nil, err
	}
	return priv, nil
}

func addressOf(priv *chainsig.PrivateKey) string {
	return addr.FromPublicKey(priv.PublicKeyBytes()).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func mergeStrings(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
