package rpc

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/custody"
)

type balanceParams struct {
	Token string `json:"token"`
	Owner string `json:"owner"`
}

type allowanceParams struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Spender string `json:"spender,omitempty"`
}

type approveParams struct {
	Token   string `json:"token"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

type mintParams struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// AmountResult carries a token quantity in base units.
type AmountResult struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

// spenderOrVault defaults an omitted spender to the escrow vault, the only
// spender escrow deposits use.
func spenderOrVault(value string) (common.Address, error) {
	if strings.TrimSpace(value) == "" {
		return custody.VaultAddress(), nil
	}
	return parseAddressParam("spender", value)
}

func (s *Server) handleBalanceOf(c *call) (interface{}, error) {
	var params balanceParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	token, err := parseAddressParam("token", params.Token)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddressParam("owner", params.Owner)
	if err != nil {
		return nil, err
	}
	var balance *uint256.Int
	err = s.backend.State.View(func() error {
		var err error
		balance, err = s.backend.Tokens.BalanceOf(token, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return AmountResult{Token: token.Hex(), Account: owner.Hex(), Amount: balance.Dec()}, nil
}

func (s *Server) handleAllowance(c *call) (interface{}, error) {
	var params allowanceParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	token, err := parseAddressParam("token", params.Token)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddressParam("owner", params.Owner)
	if err != nil {
		return nil, err
	}
	spender, err := spenderOrVault(params.Spender)
	if err != nil {
		return nil, err
	}
	var allowance *uint256.Int
	err = s.backend.State.View(func() error {
		var err error
		allowance, err = s.backend.Tokens.Allowance(token, owner, spender)
		return err
	})
	if err != nil {
		return nil, err
	}
	return AmountResult{Token: token.Hex(), Account: owner.Hex(), Spender: spender.Hex(), Amount: allowance.Dec()}, nil
}

func (s *Server) handleApprove(c *call) (interface{}, error) {
	var params approveParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	token, err := parseAddressParam("token", params.Token)
	if err != nil {
		return nil, err
	}
	spender, err := spenderOrVault(params.Spender)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmountParam("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	err = s.backend.State.Atomic(func() error {
		return s.backend.Tokens.Approve(token, c.caller, spender, amount)
	})
	if err != nil {
		return nil, err
	}
	return AmountResult{Token: token.Hex(), Account: c.caller.Hex(), Spender: spender.Hex(), Amount: amount.Dec()}, nil
}

// handleMint issues units of a token. Only the registry owner may mint; the
// node uses it as a development faucet.
func (s *Server) handleMint(c *call) (interface{}, error) {
	var params mintParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	token, err := parseAddressParam("token", params.Token)
	if err != nil {
		return nil, err
	}
	to, err := parseAddressParam("to", params.To)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmountParam("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	var balance *uint256.Int
	err = s.backend.State.Atomic(func() error {
		isOwner, err := s.backend.Registry.IsOwner(c.caller)
		if err != nil {
			return err
		}
		if !isOwner {
			return fmt.Errorf("rpc: mint requires the registry owner, caller %s: %w", c.caller.Hex(), coreerrors.ErrUnauthorized)
		}
		if to == custody.VaultAddress() {
			return fmt.Errorf("rpc: cannot mint into the custody vault: %w", coreerrors.ErrInvalidParameter)
		}
		if err := s.backend.Tokens.Mint(token, to, amount); err != nil {
			return err
		}
		balance, err = s.backend.Tokens.BalanceOf(token, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	return AmountResult{Token: token.Hex(), Account: to.Hex(), Amount: balance.Dec()}, nil
}
