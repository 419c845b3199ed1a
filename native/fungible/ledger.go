package fungible

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
)

type ledgerState interface {
	TokenBalance(token, owner common.Address) (*uint256.Int, error)
	SetTokenBalance(token, owner common.Address, amount *uint256.Int) error
	TokenAllowance(token, owner, spender common.Address) (*uint256.Int, error)
	SetTokenAllowance(token, owner, spender common.Address, amount *uint256.Int) error
	TokenSupply(token common.Address) (*uint256.Int, error)
	SetTokenSupply(token common.Address, amount *uint256.Int) error
}

// Ledger keeps ERC-20 style balances and allowances for every token the node
// knows about. Methods assume the caller already holds the state manager's
// atomic unit.
type Ledger struct {
	state ledgerState
}

// NewLedger binds the ledger to its backing state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return fmt.Errorf("fungible: state not configured")
	}
	return nil
}

// BalanceOf returns the balance owner holds of token.
func (l *Ledger) BalanceOf(token, owner common.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.state.TokenBalance(token, owner)
}

// Allowance returns how much spender may still pull from owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.state.TokenAllowance(token, owner, spender)
}

// TotalSupply returns the minted supply of token.
func (l *Ledger) TotalSupply(token common.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.state.TokenSupply(token)
}

// Mint credits freshly issued units to to.
func (l *Ledger) Mint(token, to common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("fungible: mint amount must be positive: %w", coreerrors.ErrInvalidParameter)
	}
	if to == (common.Address{}) {
		return fmt.Errorf("fungible: mint to zero address: %w", coreerrors.ErrInvalidParameter)
	}
	supply, err := l.state.TokenSupply(token)
	if err != nil {
		return err
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return fmt.Errorf("fungible: supply of %s overflows: %w", token.Hex(), coreerrors.ErrInternal)
	}
	if err := l.credit(token, to, amount); err != nil {
		return err
	}
	return l.state.SetTokenSupply(token, newSupply)
}

// Approve sets the amount spender may pull from owner, replacing any prior
// allowance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return fmt.Errorf("fungible: approve zero spender: %w", coreerrors.ErrInvalidParameter)
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	return l.state.SetTokenAllowance(token, owner, spender, amount)
}

// Transfer moves amount from one account to another. An insufficient
// balance fails with ErrTransferFailed and changes nothing.
func (l *Ledger) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	if to == (common.Address{}) {
		return fmt.Errorf("fungible: transfer to zero address: %w", coreerrors.ErrTransferFailed)
	}
	if err := l.debit(token, from, amount); err != nil {
		return err
	}
	return l.credit(token, to, amount)
}

// TransferFrom moves amount from owner to to on behalf of spender, consuming
// the allowance owner granted spender.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	allowance, err := l.state.TokenAllowance(token, from, spender)
	if err != nil {
		return err
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("fungible: allowance %s below %s: %w", allowance.Dec(), amount.Dec(), coreerrors.ErrTransferFailed)
	}
	balance, err := l.state.TokenBalance(token, from)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("fungible: balance %s below %s: %w", balance.Dec(), amount.Dec(), coreerrors.ErrTransferFailed)
	}
	remaining := new(uint256.Int).Sub(allowance, amount)
	if err := l.state.SetTokenAllowance(token, from, spender, remaining); err != nil {
		return err
	}
	return l.Transfer(token, from, to, amount)
}

func (l *Ledger) debit(token, owner common.Address, amount *uint256.Int) error {
	balance, err := l.state.TokenBalance(token, owner)
	if err != nil {
		return err
	}
	next, underflow := new(uint256.Int).SubOverflow(balance, amount)
	if underflow {
		return fmt.Errorf("fungible: insufficient balance %s for %s: %w", balance.Dec(), amount.Dec(), coreerrors.ErrTransferFailed)
	}
	return l.state.SetTokenBalance(token, owner, next)
}

func (l *Ledger) credit(token, owner common.Address, amount *uint256.Int) error {
	balance, err := l.state.TokenBalance(token, owner)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return fmt.Errorf("fungible: balance of %s overflows: %w", owner.Hex(), coreerrors.ErrInternal)
	}
	return l.state.SetTokenBalance(token, owner, next)
}
