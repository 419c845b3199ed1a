package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/config"
	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/state"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/crypto"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/indexer"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/integrations/webhooks"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/custody"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/escrow"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/fungible"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/tokens"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/rpc"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/storage"
)

const idempotencyRetention = 24 * time.Hour

// node wires the escrow components behind the RPC server.
type node struct {
	cfg      *config.Config
	log      *slog.Logger
	db       storage.Database
	state    *state.Manager
	registry *tokens.Registry
	ledger   *fungible.Ledger
	engine   *escrow.Engine
	events   *indexer.Store
	hub      *indexer.Hub
	webhooks *webhooks.Dispatcher
	server   *rpc.Server
}

func statePath(cfg *config.Config) string {
	if strings.EqualFold(cfg.Storage.Backend, storage.BackendBolt) {
		return filepath.Join(cfg.DataDir, "state.bolt")
	}
	return filepath.Join(cfg.DataDir, "state")
}

// newNode opens storage, seeds genesis on a fresh database and assembles the
// engine, indexer and RPC server.
func newNode(cfg *config.Config, genesis *config.ResolvedGenesis, log *slog.Logger) (*node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.Open(cfg.Storage.Backend, statePath(cfg))
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	n := &node{cfg: cfg, log: log, db: db}
	if err := n.assemble(genesis); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) assemble(genesis *config.ResolvedGenesis) error {
	n.state = state.NewManager(n.db)
	n.ledger = fungible.NewLedger(n.state)
	n.registry = tokens.NewRegistry(n.state)
	vault := custody.NewLedger(n.state, n.ledger)

	if genesis != nil {
		if err := seedGenesis(n.state, n.registry, n.ledger, genesis, n.log); err != nil {
			return err
		}
	}

	arbiter, err := resolveArbiter(n.cfg.Escrow.Arbiter, genesis)
	if err != nil {
		return err
	}

	dsn := n.cfg.Indexer.DSN
	if n.cfg.Indexer.Driver == "" || n.cfg.Indexer.Driver == "sqlite" {
		dsn = n.cfg.ResolvePath(dsn)
	}
	gdb, err := indexer.Open(n.cfg.Indexer.Driver, dsn)
	if err != nil {
		return fmt.Errorf("open indexer: %w", err)
	}
	n.events, err = indexer.NewStore(gdb)
	if err != nil {
		return err
	}
	n.hub = indexer.NewHub()

	n.engine = escrow.NewEngine()
	n.engine.SetState(n.state)
	n.engine.SetRegistry(n.registry)
	n.engine.SetCustody(vault)
	n.engine.SetConfig(n.cfg.EscrowConfig())
	n.engine.SetEmitter(indexer.NewEmitter(n.events, n.hub, n.log))
	if arbiter != (common.Address{}) {
		n.engine.SetArbiter(arbiter)
	}

	if endpoint := strings.TrimSpace(n.cfg.Webhooks.Endpoint); endpoint != "" {
		n.webhooks, err = webhooks.NewDispatcher(endpoint, []byte(n.cfg.Webhooks.Secret),
			webhooks.WithEventPrefixes(n.cfg.Webhooks.EventPrefixes...),
			webhooks.WithLogger(n.log.With("component", "webhooks")),
		)
		if err != nil {
			return fmt.Errorf("configure webhooks: %w", err)
		}
	}

	n.server, err = rpc.NewServer(rpc.Backend{
		State:    n.state,
		Escrow:   n.engine,
		Registry: n.registry,
		Tokens:   n.ledger,
		Events:   n.events,
		Hub:      n.hub,
	}, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			HMACSecret: n.cfg.RPC.JWTSecret,
			Issuer:     n.cfg.RPC.JWTIssuer,
			Audience:   n.cfg.RPC.JWTAudience,
		},
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: float64(n.cfg.RPC.RequestsPerMinute),
			Burst:             n.cfg.RPC.Burst,
		},
		AllowedOrigins: n.cfg.RPC.AllowedOrigins,
		ReadTimeout:    time.Duration(n.cfg.RPC.ReadTimeoutSecs) * time.Second,
		WriteTimeout:   time.Duration(n.cfg.RPC.WriteTimeoutSecs) * time.Second,
	}, n.log)
	return err
}

func resolveArbiter(configured string, genesis *config.ResolvedGenesis) (common.Address, error) {
	if strings.TrimSpace(configured) != "" {
		addr, err := crypto.ParseAddress(configured)
		if err != nil {
			return common.Address{}, fmt.Errorf("escrow arbiter: %w", err)
		}
		return addr, nil
	}
	if genesis != nil {
		return genesis.Arbiter, nil
	}
	return common.Address{}, nil
}

// seedGenesis applies the genesis document to a fresh state database. A
// database whose registry already has an owner is left untouched.
func seedGenesis(mgr *state.Manager, registry *tokens.Registry, ledger *fungible.Ledger, genesis *config.ResolvedGenesis, log *slog.Logger) error {
	return mgr.Atomic(func() error {
		owner, err := registry.Owner()
		switch {
		case err == nil:
			if owner != genesis.Owner {
				log.Warn("Stored registry owner differs from genesis; keeping stored state",
					slog.String("stored", owner.Hex()), slog.String("genesis", genesis.Owner.Hex()))
			}
			return nil
		case !errors.Is(err, coreerrors.ErrInvalidState):
			return err
		}
		if err := registry.Initialise(genesis.Owner); err != nil {
			return fmt.Errorf("genesis owner: %w", err)
		}
		for _, token := range genesis.AllowedTokens {
			if err := registry.UpdateTokensList(genesis.Owner, token, true); err != nil {
				return fmt.Errorf("genesis token %s: %w", token.Hex(), err)
			}
		}
		for _, bal := range genesis.Balances {
			if bal.Account == custody.VaultAddress() {
				return fmt.Errorf("genesis balance for custody vault %s: %w", bal.Account.Hex(), coreerrors.ErrInvalidParameter)
			}
			if err := ledger.Mint(bal.Token, bal.Account, bal.Amount); err != nil {
				return fmt.Errorf("genesis balance %s/%s: %w", bal.Account.Hex(), bal.Token.Hex(), err)
			}
		}
		log.Info("Genesis applied",
			slog.String("owner", genesis.Owner.Hex()),
			slog.Int("allowed_tokens", len(genesis.AllowedTokens)),
			slog.Int("balances", len(genesis.Balances)))
		return nil
	})
}

// maintain runs the periodic solvency audit and prunes expired idempotency
// records until ctx ends.
func (n *node) maintain(ctx context.Context, interval time.Duration) {
	var audit <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		audit = ticker.C
	}
	prune := time.NewTicker(time.Hour)
	defer prune.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-audit:
			n.auditSolvency()
		case <-prune.C:
			removed, err := n.events.PruneIdempotency(time.Now().Add(-idempotencyRetention))
			if err != nil {
				n.log.Warn("Failed to prune idempotency records", slog.Any("error", err))
			} else if removed > 0 {
				n.log.Debug("Pruned idempotency records", slog.Int64("removed", removed))
			}
		}
	}
}

func (n *node) auditSolvency() {
	report, err := n.engine.CheckSolvency()
	if err != nil {
		n.log.Error("Escrow solvency audit failed", slog.Any("error", err))
		return
	}
	n.log.Debug("Escrow solvency audit passed", slog.Int("tokens", len(report.Tokens)))
}

// Close releases every resource the node opened.
func (n *node) Close() {
	if n.webhooks != nil {
		n.webhooks.Close()
	}
	if n.events != nil {
		if sqlDB, err := n.events.DB().DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if n.db != nil {
		n.db.Close()
	}
}
