package escrow

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
)

// TokenSolvency compares what open orders are owed with what custody holds
// for one token.
type TokenSolvency struct {
	Token common.Address
	// Owed is the sum of amounts over orders that are not terminal.
	Owed *uint256.Int
	// Booked is the custody ledger's aggregate for the token.
	Booked *uint256.Int
	// Vault is the vault's balance on the token ledger.
	Vault *uint256.Int
}

// Balanced reports whether all three figures agree.
func (t TokenSolvency) Balanced() bool {
	return t.Owed.Eq(t.Booked) && t.Booked.Eq(t.Vault)
}

// SolvencyReport is the result of a solvency audit.
type SolvencyReport struct {
	Tokens        []TokenSolvency
	OrdersByState map[OrderState]int
}

// CheckSolvency recomputes the amount owed per token from the order store
// and compares it with custody. With no tokens given every token seen in
// custody or in an order is audited. Any mismatch, including an order whose
// own custody record disagrees with its state, is reported as ErrInternal.
func (e *Engine) CheckSolvency(tokens ...common.Address) (*SolvencyReport, error) {
	report := &SolvencyReport{OrdersByState: make(map[OrderState]int)}
	err := e.view(func() error {
		count, err := e.state.OrderCount()
		if err != nil {
			return err
		}
		owed := make(map[common.Address]*uint256.Int)
		for id := uint64(1); id <= count; id++ {
			order, ok, err := e.state.OrderGet(id)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			report.OrdersByState[order.State]++
			held, err := e.custody.OrderBalance(order.ID)
			if err != nil {
				return err
			}
			sum, seen := owed[order.Token]
			if !seen {
				sum = new(uint256.Int)
				owed[order.Token] = sum
			}
			if !order.State.Custodial() {
				if !held.IsZero() {
					return fmt.Errorf("escrow: terminal order %d still holds %s: %w", order.ID, held.Dec(), coreerrors.ErrInternal)
				}
				continue
			}
			if !held.Eq(order.Amount) {
				return fmt.Errorf("escrow: order %d holds %s, owes %s: %w", order.ID, held.Dec(), order.Amount.Dec(), coreerrors.ErrInternal)
			}
			if _, overflow := sum.AddOverflow(sum, order.Amount); overflow {
				return fmt.Errorf("escrow: owed total for %s overflows: %w", order.Token.Hex(), coreerrors.ErrInternal)
			}
		}

		audit := tokens
		if len(audit) == 0 {
			custodyTokens, err := e.custody.Tokens()
			if err != nil {
				return err
			}
			set := make(map[common.Address]struct{})
			for _, t := range custodyTokens {
				set[t] = struct{}{}
			}
			for t := range owed {
				set[t] = struct{}{}
			}
			for t := range set {
				audit = append(audit, t)
			}
			sort.Slice(audit, func(i, j int) bool { return audit[i].Hex() < audit[j].Hex() })
		}

		var mismatch error
		for _, token := range audit {
			booked, err := e.custody.TokenBalance(token)
			if err != nil {
				return err
			}
			vault, err := e.custody.VaultBalance(token)
			if err != nil {
				return err
			}
			expected := owed[token]
			if expected == nil {
				expected = new(uint256.Int)
			}
			entry := TokenSolvency{Token: token, Owed: expected, Booked: booked, Vault: vault}
			report.Tokens = append(report.Tokens, entry)
			amount, _ := new(big.Float).SetInt(booked.ToBig()).Float64()
			e.telemetry.SetCustodyBalance(token.Hex(), amount)
			if !entry.Balanced() && mismatch == nil {
				mismatch = fmt.Errorf("escrow: token %s owed %s, booked %s, vault %s: %w", token.Hex(), expected.Dec(), booked.Dec(), vault.Dec(), coreerrors.ErrInternal)
			}
		}
		return mismatch
	})
	for state, n := range report.OrdersByState {
		e.telemetry.SetOrdersInState(state.String(), n)
	}
	if err != nil {
		e.telemetry.IncSolvencyFailure()
		return report, err
	}
	return report, nil
}
