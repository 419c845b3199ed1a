package custody_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/state"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/custody"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/fungible"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/storage"
)

var (
	token  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	buyer  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	seller = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

type fixture struct {
	mgr     *state.Manager
	tokens  *fungible.Ledger
	custody *custody.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	tokens := fungible.NewLedger(mgr)
	require.NoError(t, tokens.Mint(token, buyer, uint256.NewInt(1_000)))
	return &fixture{mgr: mgr, tokens: tokens, custody: custody.NewLedger(mgr, tokens)}
}

func TestVaultAddressIsDeterministic(t *testing.T) {
	require.Equal(t, custody.VaultAddress(), custody.VaultAddress())
	require.NotEqual(t, common.Address{}, custody.VaultAddress())
}

func TestDepositRequiresAllowance(t *testing.T) {
	f := newFixture(t)
	err := f.custody.Deposit(1, token, buyer, uint256.NewInt(10))
	require.True(t, errors.Is(err, coreerrors.ErrTransferFailed), "got %v", err)

	held, err := f.custody.OrderBalance(1)
	require.NoError(t, err)
	require.True(t, held.IsZero())
}

func TestDepositAndRelease(t *testing.T) {
	f := newFixture(t)
	vault := custody.VaultAddress()
	require.NoError(t, f.tokens.Approve(token, buyer, vault, uint256.NewInt(300)))

	require.NoError(t, f.custody.Deposit(1, token, buyer, uint256.NewInt(100)))
	require.NoError(t, f.custody.Deposit(2, token, buyer, uint256.NewInt(200)))

	total, err := f.custody.TokenBalance(token)
	require.NoError(t, err)
	require.Equal(t, uint64(300), total.Uint64())
	onLedger, err := f.custody.VaultBalance(token)
	require.NoError(t, err)
	require.Equal(t, total, onLedger)

	require.NoError(t, f.custody.Release(1, token, seller, uint256.NewInt(100)))
	sellerBal, err := f.tokens.BalanceOf(token, seller)
	require.NoError(t, err)
	require.Equal(t, uint64(100), sellerBal.Uint64())

	held, err := f.custody.OrderBalance(1)
	require.NoError(t, err)
	require.True(t, held.IsZero())

	total, err = f.custody.TokenBalance(token)
	require.NoError(t, err)
	require.Equal(t, uint64(200), total.Uint64())

	tokens, err := f.custody.Tokens()
	require.NoError(t, err)
	require.Equal(t, []common.Address{token}, tokens)
}

func TestReleaseShortfallIsInternal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Approve(token, buyer, custody.VaultAddress(), uint256.NewInt(50)))
	require.NoError(t, f.custody.Deposit(1, token, buyer, uint256.NewInt(50)))

	err := f.custody.Release(1, token, seller, uint256.NewInt(51))
	require.True(t, errors.Is(err, coreerrors.ErrInternal), "got %v", err)
	require.Equal(t, coreerrors.KindInternal, coreerrors.KindOf(err))

	require.NoError(t, f.custody.Release(1, token, seller, uint256.NewInt(50)))
	err = f.custody.Release(1, token, seller, uint256.NewInt(50))
	require.True(t, errors.Is(err, coreerrors.ErrInternal), "second payout must fail: %v", err)
}

func TestReleaseTransferFailureKeepsBothKinds(t *testing.T) {
	f := newFixture(t)
	vault := custody.VaultAddress()
	require.NoError(t, f.tokens.Approve(token, buyer, vault, uint256.NewInt(40)))
	require.NoError(t, f.custody.Deposit(1, token, buyer, uint256.NewInt(40)))
	// Drain the vault behind the books so the outbound transfer fails.
	require.NoError(t, f.tokens.Transfer(token, vault, buyer, uint256.NewInt(40)))

	err := f.custody.Release(1, token, seller, uint256.NewInt(40))
	require.True(t, errors.Is(err, coreerrors.ErrTransferFailed), "got %v", err)
	require.True(t, errors.Is(err, coreerrors.ErrInternal), "got %v", err)
	require.Equal(t, coreerrors.KindTransferFailed, coreerrors.KindOf(err))

	held, err := f.custody.OrderBalance(1)
	require.NoError(t, err)
	require.Equal(t, uint64(40), held.Uint64())
}

func TestReleaseToVaultRejected(t *testing.T) {
	f := newFixture(t)
	vault := custody.VaultAddress()
	require.NoError(t, f.tokens.Approve(token, buyer, vault, uint256.NewInt(10)))
	require.NoError(t, f.custody.Deposit(1, token, buyer, uint256.NewInt(10)))

	err := f.custody.Release(1, token, vault, uint256.NewInt(10))
	require.True(t, errors.Is(err, coreerrors.ErrInvalidParameter), "got %v", err)
	total, err := f.custody.TokenBalance(token)
	require.NoError(t, err)
	require.Equal(t, uint64(10), total.Uint64())
}

func TestReleaseWrongTokenIsInternal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Approve(token, buyer, custody.VaultAddress(), uint256.NewInt(50)))
	require.NoError(t, f.custody.Deposit(1, token, buyer, uint256.NewInt(50)))
	other := common.HexToAddress("0xbb")
	err := f.custody.Release(1, other, seller, uint256.NewInt(50))
	require.True(t, errors.Is(err, coreerrors.ErrInternal))
}

func TestDoubleDepositRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Approve(token, buyer, custody.VaultAddress(), uint256.NewInt(100)))
	require.NoError(t, f.custody.Deposit(1, token, buyer, uint256.NewInt(50)))
	err := f.custody.Deposit(1, token, buyer, uint256.NewInt(50))
	require.True(t, errors.Is(err, coreerrors.ErrInternal))
}
