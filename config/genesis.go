package config

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/crypto"
)

// Genesis seeds a fresh node: the registry owner, the initial allow-list and
// optional faucet balances for development networks.
type Genesis struct {
	Owner         string            `yaml:"owner"`
	Arbiter       string            `yaml:"arbiter,omitempty"`
	AllowedTokens []string          `yaml:"allowedTokens"`
	Balances      []GenesisBalance  `yaml:"balances,omitempty"`
	Labels        map[string]string `yaml:"labels,omitempty"`
}

// GenesisBalance mints Amount (base units, decimal) of Token to Account.
type GenesisBalance struct {
	Account string `yaml:"account"`
	Token   string `yaml:"token"`
	Amount  string `yaml:"amount"`
}

// ResolvedGenesis holds the parsed addresses and amounts.
type ResolvedGenesis struct {
	Owner         common.Address
	Arbiter       common.Address
	AllowedTokens []common.Address
	Balances      []ResolvedBalance
}

type ResolvedBalance struct {
	Account common.Address
	Token   common.Address
	Amount  *uint256.Int
}

// LoadGenesis reads and validates a YAML genesis file.
func LoadGenesis(path string) (*ResolvedGenesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return g.Resolve()
}

// Resolve parses every address and amount in the genesis document.
func (g Genesis) Resolve() (*ResolvedGenesis, error) {
	owner, err := crypto.ParseAddress(g.Owner)
	if err != nil {
		return nil, fmt.Errorf("genesis owner: %w", err)
	}
	if owner == (common.Address{}) {
		return nil, fmt.Errorf("genesis owner must not be the zero address")
	}
	out := &ResolvedGenesis{Owner: owner}
	if g.Arbiter != "" {
		if out.Arbiter, err = crypto.ParseAddress(g.Arbiter); err != nil {
			return nil, fmt.Errorf("genesis arbiter: %w", err)
		}
	}
	seen := make(map[common.Address]struct{})
	for i, raw := range g.AllowedTokens {
		token, err := crypto.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("genesis allowedTokens[%d]: %w", i, err)
		}
		if token == (common.Address{}) {
			return nil, fmt.Errorf("genesis allowedTokens[%d]: zero address", i)
		}
		if _, dup := seen[token]; dup {
			return nil, fmt.Errorf("genesis allowedTokens[%d]: duplicate %s", i, token.Hex())
		}
		seen[token] = struct{}{}
		out.AllowedTokens = append(out.AllowedTokens, token)
	}
	for i, bal := range g.Balances {
		account, err := crypto.ParseAddress(bal.Account)
		if err != nil {
			return nil, fmt.Errorf("genesis balances[%d].account: %w", i, err)
		}
		token, err := crypto.ParseAddress(bal.Token)
		if err != nil {
			return nil, fmt.Errorf("genesis balances[%d].token: %w", i, err)
		}
		amount, err := uint256.FromDecimal(bal.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis balances[%d].amount: %w", i, err)
		}
		if amount.IsZero() {
			return nil, fmt.Errorf("genesis balances[%d].amount must be positive", i)
		}
		out.Balances = append(out.Balances, ResolvedBalance{Account: account, Token: token, Amount: amount})
	}
	return out, nil
}
