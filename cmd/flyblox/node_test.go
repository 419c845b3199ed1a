package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/config"
	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/custody"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/storage"
)

var (
	genesisOwner   = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	genesisArbiter = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	genesisToken   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	genesisBuyer   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Storage.Backend = storage.BackendBolt
	cfg.Escrow.SolvencyCheckInterval = ""
	return cfg
}

func testGenesis(amount uint64) *config.ResolvedGenesis {
	return &config.ResolvedGenesis{
		Owner:         genesisOwner,
		Arbiter:       genesisArbiter,
		AllowedTokens: []common.Address{genesisToken},
		Balances: []config.ResolvedBalance{
			{Account: genesisBuyer, Token: genesisToken, Amount: uint256.NewInt(amount)},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buyerBalance(t *testing.T, n *node) *uint256.Int {
	t.Helper()
	var bal *uint256.Int
	require.NoError(t, n.state.View(func() error {
		var err error
		bal, err = n.ledger.BalanceOf(genesisToken, genesisBuyer)
		return err
	}))
	return bal
}

func TestNewNodeAppliesGenesisOnce(t *testing.T) {
	cfg := testConfig(t)

	n, err := newNode(cfg, testGenesis(1_000), discardLogger())
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), buyerBalance(t, n).Uint64())
	n.Close()

	// Reopening the same data directory must not mint again or take a new owner.
	other := testGenesis(5)
	other.Owner = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	n, err = newNode(cfg, other, discardLogger())
	require.NoError(t, err)
	defer n.Close()
	require.Equal(t, uint64(1_000), buyerBalance(t, n).Uint64())

	var owner common.Address
	require.NoError(t, n.state.View(func() error {
		var err error
		owner, err = n.registry.Owner()
		return err
	}))
	require.Equal(t, genesisOwner, owner)

	var allowed bool
	require.NoError(t, n.state.View(func() error {
		var err error
		allowed, err = n.registry.IsTokenAllowed(genesisToken)
		return err
	}))
	require.True(t, allowed)
}

func TestNodeServesInfo(t *testing.T) {
	cfg := testConfig(t)
	n, err := newNode(cfg, testGenesis(10), discardLogger())
	require.NoError(t, err)
	defer n.Close()

	srv := httptest.NewServer(n.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"escrow_info","params":[]}`)
	resp, err = http.Post(srv.URL+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded struct {
		Result struct {
			Owner   string `json:"owner"`
			Arbiter string `json:"arbiter"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.Nil(t, decoded.Error)
	require.Equal(t, genesisOwner.Hex(), decoded.Result.Owner)
	require.Equal(t, genesisArbiter.Hex(), decoded.Result.Arbiter)
}

func TestGenesisRejectsVaultBalance(t *testing.T) {
	genesis := testGenesis(10)
	genesis.Balances = append(genesis.Balances, config.ResolvedBalance{
		Account: custody.VaultAddress(), Token: genesisToken, Amount: uint256.NewInt(5),
	})
	_, err := newNode(testConfig(t), genesis, discardLogger())
	require.ErrorIs(t, err, coreerrors.ErrInvalidParameter)
}

func TestConfiguredArbiterWins(t *testing.T) {
	configured := "0x00000000000000000000000000000000000000c1"
	addr, err := resolveArbiter(configured, testGenesis(1))
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(configured), addr)

	addr, err = resolveArbiter("", testGenesis(1))
	require.NoError(t, err)
	require.Equal(t, genesisArbiter, addr)

	addr, err = resolveArbiter("", nil)
	require.NoError(t, err)
	require.Equal(t, common.Address{}, addr)

	_, err = resolveArbiter("not-an-address", nil)
	require.Error(t, err)
}

func TestResolveGenesisPathPrecedence(t *testing.T) {
	env := func(values map[string]string) func(string) (string, bool) {
		return func(key string) (string, bool) {
			v, ok := values[key]
			return v, ok
		}
	}
	withEnv := env(map[string]string{genesisPathEnv: "/env/genesis.yaml"})

	if got := resolveGenesisPath("/flag/genesis.yaml", "/cfg/genesis.yaml", withEnv); got != "/flag/genesis.yaml" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := resolveGenesisPath("", "/cfg/genesis.yaml", withEnv); got != "/env/genesis.yaml" {
		t.Fatalf("env should beat config, got %q", got)
	}
	if got := resolveGenesisPath("", "/cfg/genesis.yaml", env(nil)); got != "/cfg/genesis.yaml" {
		t.Fatalf("config fallback expected, got %q", got)
	}
	if got := resolveGenesisPath(" ", "", nil); got != "" {
		t.Fatalf("expected no genesis, got %q", got)
	}
}

func TestLoadGenesisFile(t *testing.T) {
	genesis, err := loadGenesis("")
	require.NoError(t, err)
	require.Nil(t, genesis)

	path := filepath.Join(t.TempDir(), "genesis.yaml")
	doc := "owner: \"0x00000000000000000000000000000000000000f1\"\n" +
		"allowedTokens:\n  - \"0x00000000000000000000000000000000000000aa\"\n" +
		"balances:\n  - account: \"0x00000000000000000000000000000000000000b1\"\n" +
		"    token: \"0x00000000000000000000000000000000000000aa\"\n" +
		"    amount: \"250\"\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	genesis, err = loadGenesis(path)
	require.NoError(t, err)
	require.Equal(t, genesisOwner, genesis.Owner)
	require.Equal(t, []common.Address{genesisToken}, genesis.AllowedTokens)
	require.Len(t, genesis.Balances, 1)
	require.Equal(t, uint64(250), genesis.Balances[0].Amount.Uint64())
}
