package custody

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
)

var vaultAddress = common.BytesToAddress(ethcrypto.Keccak256([]byte("flyblox/escrow-vault"))[12:])

// VaultAddress returns the deterministic account that holds escrowed funds.
func VaultAddress() common.Address { return vaultAddress }

type custodyState interface {
	CustodyOrderBalance(orderID uint64) (common.Address, *uint256.Int, error)
	SetCustodyOrderBalance(orderID uint64, token common.Address, amount *uint256.Int) error
	CustodyTotal(token common.Address) (*uint256.Int, error)
	SetCustodyTotal(token common.Address, amount *uint256.Int) error
	CustodyTokens() ([]common.Address, error)
}

// Transferer is the fallible token movement primitive the ledger drives.
type Transferer interface {
	TransferFrom(token, spender, from, to common.Address, amount *uint256.Int) error
	Transfer(token, from, to common.Address, amount *uint256.Int) error
	BalanceOf(token, owner common.Address) (*uint256.Int, error)
}

// Ledger tracks what the vault holds on behalf of each order and moves
// tokens in and out of the vault. It must be driven from inside the state
// manager's atomic unit so a payout and the matching order transition commit
// together.
type Ledger struct {
	state  custodyState
	tokens Transferer
}

// NewLedger wires the custody ledger to its state and token primitive.
func NewLedger(state custodyState, tokens Transferer) *Ledger {
	return &Ledger{state: state, tokens: tokens}
}

// VaultAddress returns the custody account.
func (l *Ledger) VaultAddress() common.Address { return vaultAddress }

func (l *Ledger) ready() error {
	if l == nil || l.state == nil || l.tokens == nil {
		return fmt.Errorf("custody: ledger not configured")
	}
	return nil
}

// Deposit pulls amount of token from payer into the vault and credits the
// order. The payer must have approved the vault as spender.
func (l *Ledger) Deposit(orderID uint64, token, payer common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("custody: deposit amount must be positive: %w", coreerrors.ErrInvalidParameter)
	}
	_, held, err := l.state.CustodyOrderBalance(orderID)
	if err != nil {
		return err
	}
	if !held.IsZero() {
		return fmt.Errorf("custody: order %d already funded: %w", orderID, coreerrors.ErrInternal)
	}
	total, err := l.state.CustodyTotal(token)
	if err != nil {
		return err
	}
	newTotal, overflow := new(uint256.Int).AddOverflow(total, amount)
	if overflow {
		return fmt.Errorf("custody: vault total of %s overflows: %w", token.Hex(), coreerrors.ErrInternal)
	}
	if err := l.tokens.TransferFrom(token, vaultAddress, payer, vaultAddress, amount); err != nil {
		if errors.Is(err, coreerrors.ErrTransferFailed) {
			return fmt.Errorf("custody: deposit for order %d: %w", orderID, err)
		}
		return fmt.Errorf("custody: deposit for order %d: %v: %w", orderID, err, coreerrors.ErrTransferFailed)
	}
	if err := l.state.SetCustodyOrderBalance(orderID, token, amount); err != nil {
		return err
	}
	return l.state.SetCustodyTotal(token, newTotal)
}

// Release pays amount of token held for the order out to recipient. Any
// shortfall means the books are inconsistent and is reported as
// ErrInternal.
func (l *Ledger) Release(orderID uint64, token, recipient common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("custody: release amount must be positive: %w", coreerrors.ErrInvalidParameter)
	}
	if recipient == vaultAddress {
		return fmt.Errorf("custody: order %d cannot be released to the vault: %w", orderID, coreerrors.ErrInvalidParameter)
	}
	heldToken, held, err := l.state.CustodyOrderBalance(orderID)
	if err != nil {
		return err
	}
	if heldToken != token {
		return fmt.Errorf("custody: order %d holds %s, not %s: %w", orderID, heldToken.Hex(), token.Hex(), coreerrors.ErrInternal)
	}
	remaining, underflow := new(uint256.Int).SubOverflow(held, amount)
	if underflow {
		return fmt.Errorf("custody: order %d holds %s, cannot release %s: %w", orderID, held.Dec(), amount.Dec(), coreerrors.ErrInternal)
	}
	total, err := l.state.CustodyTotal(token)
	if err != nil {
		return err
	}
	newTotal, underflow := new(uint256.Int).SubOverflow(total, amount)
	if underflow {
		return fmt.Errorf("custody: vault total %s below %s: %w", total.Dec(), amount.Dec(), coreerrors.ErrInternal)
	}
	if err := l.tokens.Transfer(token, vaultAddress, recipient, amount); err != nil {
		return fmt.Errorf("custody: payout for order %d: %w: %w", orderID, err, coreerrors.ErrInternal)
	}
	if err := l.state.SetCustodyOrderBalance(orderID, token, remaining); err != nil {
		return err
	}
	return l.state.SetCustodyTotal(token, newTotal)
}

// OrderBalance returns the amount currently held for the order.
func (l *Ledger) OrderBalance(orderID uint64) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	_, held, err := l.state.CustodyOrderBalance(orderID)
	return held, err
}

// TokenBalance returns the vault's booked custody of token.
func (l *Ledger) TokenBalance(token common.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.state.CustodyTotal(token)
}

// VaultBalance returns what the token ledger says the vault owns. It must
// always equal TokenBalance.
func (l *Ledger) VaultBalance(token common.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.tokens.BalanceOf(token, vaultAddress)
}

// Tokens lists every token that has passed through custody.
func (l *Ledger) Tokens() ([]common.Address, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.state.CustodyTokens()
}
