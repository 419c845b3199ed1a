package fungible_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/state"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/fungible"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/storage"
)

var (
	token   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000002")
	spender = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

func newLedger(t *testing.T) (*fungible.Ledger, *state.Manager) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	return fungible.NewLedger(mgr), mgr
}

func balance(t *testing.T, l *fungible.Ledger, owner common.Address) uint64 {
	t.Helper()
	bal, err := l.BalanceOf(token, owner)
	require.NoError(t, err)
	return bal.Uint64()
}

func TestMintAndTransfer(t *testing.T) {
	l, _ := newLedger(t)
	require.NoError(t, l.Mint(token, alice, uint256.NewInt(100)))
	require.NoError(t, l.Transfer(token, alice, bob, uint256.NewInt(40)))
	require.Equal(t, uint64(60), balance(t, l, alice))
	require.Equal(t, uint64(40), balance(t, l, bob))

	supply, err := l.TotalSupply(token)
	require.NoError(t, err)
	require.Equal(t, uint64(100), supply.Uint64())

	err = l.Transfer(token, alice, bob, uint256.NewInt(61))
	require.True(t, errors.Is(err, coreerrors.ErrTransferFailed), "got %v", err)
	require.Equal(t, uint64(60), balance(t, l, alice))
}

func TestSelfTransferKeepsBalance(t *testing.T) {
	l, _ := newLedger(t)
	require.NoError(t, l.Mint(token, alice, uint256.NewInt(10)))
	require.NoError(t, l.Transfer(token, alice, alice, uint256.NewInt(10)))
	require.Equal(t, uint64(10), balance(t, l, alice))
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	l, _ := newLedger(t)
	require.NoError(t, l.Mint(token, alice, uint256.NewInt(100)))

	err := l.TransferFrom(token, spender, alice, bob, uint256.NewInt(1))
	require.True(t, errors.Is(err, coreerrors.ErrTransferFailed), "transfer without allowance: %v", err)

	require.NoError(t, l.Approve(token, alice, spender, uint256.NewInt(30)))
	require.NoError(t, l.TransferFrom(token, spender, alice, bob, uint256.NewInt(20)))

	allowance, err := l.Allowance(token, alice, spender)
	require.NoError(t, err)
	require.Equal(t, uint64(10), allowance.Uint64())
	require.Equal(t, uint64(80), balance(t, l, alice))
	require.Equal(t, uint64(20), balance(t, l, bob))

	err = l.TransferFrom(token, spender, alice, bob, uint256.NewInt(11))
	require.True(t, errors.Is(err, coreerrors.ErrTransferFailed))
}

func TestTransferFromInsufficientBalance(t *testing.T) {
	l, _ := newLedger(t)
	require.NoError(t, l.Mint(token, alice, uint256.NewInt(5)))
	require.NoError(t, l.Approve(token, alice, spender, uint256.NewInt(50)))

	err := l.TransferFrom(token, spender, alice, bob, uint256.NewInt(6))
	require.True(t, errors.Is(err, coreerrors.ErrTransferFailed))
	allowance, err := l.Allowance(token, alice, spender)
	require.NoError(t, err)
	require.Equal(t, uint64(50), allowance.Uint64(), "failed pull must not consume allowance")
}

func TestMintOverflowIsInternal(t *testing.T) {
	l, _ := newLedger(t)
	ceiling := new(uint256.Int).SetAllOne()
	require.NoError(t, l.Mint(token, alice, ceiling))
	err := l.Mint(token, bob, uint256.NewInt(1))
	require.True(t, errors.Is(err, coreerrors.ErrInternal), "got %v", err)
}

func TestMintRejectsZero(t *testing.T) {
	l, _ := newLedger(t)
	err := l.Mint(token, alice, new(uint256.Int))
	require.True(t, errors.Is(err, coreerrors.ErrInvalidParameter))
}

func TestLedgerRollsBackInsideAtomic(t *testing.T) {
	l, mgr := newLedger(t)
	require.NoError(t, mgr.Atomic(func() error {
		return l.Mint(token, alice, uint256.NewInt(10))
	}))
	err := mgr.Atomic(func() error {
		if err := l.Transfer(token, alice, bob, uint256.NewInt(4)); err != nil {
			return err
		}
		return l.Transfer(token, alice, bob, uint256.NewInt(7))
	})
	require.Error(t, err)
	require.Equal(t, uint64(10), balance(t, l, alice))
	require.Equal(t, uint64(0), balance(t, l, bob))
}
