package escrow_test

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/events"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/state"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/custody"
	escrowpkg "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/escrow"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/fungible"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/tokens"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/storage"
)

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	buyer  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	seller = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	token  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

const start = int64(1_000_000)

type harness struct {
	mgr     *state.Manager
	ledger  *fungible.Ledger
	custody *custody.Ledger
	engine  *escrowpkg.Engine
	buffer  *events.Buffer
	now     int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	ledger := fungible.NewLedger(mgr)
	registry := tokens.NewRegistry(mgr)
	vault := custody.NewLedger(mgr, ledger)

	h := &harness{mgr: mgr, ledger: ledger, custody: vault, buffer: &events.Buffer{}, now: start}
	require.NoError(t, mgr.Atomic(func() error {
		if err := registry.Initialise(owner); err != nil {
			return err
		}
		return registry.UpdateTokensList(owner, token, true)
	}))

	engine := escrowpkg.NewEngine()
	engine.SetState(mgr)
	engine.SetRegistry(registry)
	engine.SetCustody(vault)
	engine.SetEmitter(h.buffer)
	engine.SetNowFunc(func() int64 { return h.now })
	h.engine = engine
	return h
}

func (h *harness) fund(t *testing.T, who common.Address, amount, approve uint64) {
	t.Helper()
	require.NoError(t, h.mgr.Atomic(func() error {
		if err := h.ledger.Mint(token, who, uint256.NewInt(amount)); err != nil {
			return err
		}
		return h.ledger.Approve(token, who, custody.VaultAddress(), uint256.NewInt(approve))
	}))
}

func (h *harness) balance(t *testing.T, who common.Address) uint64 {
	t.Helper()
	var out uint64
	require.NoError(t, h.mgr.View(func() error {
		bal, err := h.ledger.BalanceOf(token, who)
		if err != nil {
			return err
		}
		out = bal.Uint64()
		return nil
	}))
	return out
}

func (h *harness) requireSolvent(t *testing.T) *escrowpkg.SolvencyReport {
	t.Helper()
	report, err := h.engine.CheckSolvency()
	require.NoError(t, err)
	for _, entry := range report.Tokens {
		require.True(t, entry.Balanced(), "token %s owed %s booked %s vault %s", entry.Token.Hex(), entry.Owed.Dec(), entry.Booked.Dec(), entry.Vault.Dec())
	}
	return report
}

func TestHappyPathScenario(t *testing.T) {
	h := newHarness(t)
	h.fund(t, buyer, 100, 100)

	id, err := h.engine.CreateAndDeposit(buyer, seller, start+1000, 3600, token, uint256.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	require.Equal(t, uint64(0), h.balance(t, buyer))
	require.Equal(t, uint64(100), h.balance(t, custody.VaultAddress()))
	h.requireSolvent(t)

	require.NoError(t, h.engine.MarkComplete(id, buyer))
	require.NoError(t, h.engine.MarkCompleteAndReleaseFundsToSeller(id, buyer))
	require.Equal(t, uint64(100), h.balance(t, seller))
	require.Equal(t, uint64(0), h.balance(t, custody.VaultAddress()))

	order, err := h.engine.OrderDetails(id)
	require.NoError(t, err)
	require.Equal(t, escrowpkg.OrderReleased, order.State)
	require.Equal(t, seller, order.Beneficiary)
	report := h.requireSolvent(t)
	require.Equal(t, 1, report.OrdersByState[escrowpkg.OrderReleased])
}

func TestTimeoutScenarioWithExtension(t *testing.T) {
	h := newHarness(t)
	h.fund(t, buyer, 50, 50)

	id, err := h.engine.CreateAndDeposit(buyer, seller, start+100, 100, token, uint256.NewInt(50))
	require.NoError(t, err)
	require.NoError(t, h.engine.SellerAcceptIncHoldingTime(id, seller))
	require.NoError(t, h.engine.BuyerIncHoldingTime(id, buyer, 100))

	h.now = start + 299
	err = h.engine.ClaimFundsFromContract(id, seller)
	require.True(t, errors.Is(err, coreerrors.ErrTimeoutNotReached), "got %v", err)

	h.now = start + 300
	require.NoError(t, h.engine.ClaimFundsFromContract(id, seller))
	require.Equal(t, uint64(50), h.balance(t, seller))
	h.requireSolvent(t)
}

func TestRefundScenario(t *testing.T) {
	h := newHarness(t)
	h.fund(t, buyer, 30, 30)

	id, err := h.engine.CreateAndDeposit(buyer, seller, start+100, 0, token, uint256.NewInt(30))
	require.NoError(t, err)
	require.NoError(t, h.engine.AcceptRefund(id, seller))
	require.NoError(t, h.engine.Refund(id, buyer))
	require.Equal(t, uint64(30), h.balance(t, buyer))
	require.Equal(t, uint64(0), h.balance(t, seller))
	h.requireSolvent(t)
}

func TestInsufficientAllowanceRollsBackCreate(t *testing.T) {
	h := newHarness(t)
	h.fund(t, buyer, 100, 10)

	_, err := h.engine.CreateAndDeposit(buyer, seller, start+100, 0, token, uint256.NewInt(20))
	require.True(t, errors.Is(err, coreerrors.ErrTransferFailed), "got %v", err)
	require.Equal(t, uint64(100), h.balance(t, buyer))
	require.Zero(t, h.buffer.Len())

	count, err := h.engine.OrderCount()
	require.NoError(t, err)
	require.Zero(t, count)
	h.requireSolvent(t)
}

func TestRemovedTokenBlocksNewOrdersOnly(t *testing.T) {
	h := newHarness(t)
	h.fund(t, buyer, 40, 40)

	id, err := h.engine.CreateAndDeposit(buyer, seller, start+100, 0, token, uint256.NewInt(20))
	require.NoError(t, err)
	require.NoError(t, h.engine.UpdateTokensList(owner, token, false))

	_, err = h.engine.CreateAndDeposit(buyer, seller, start+100, 0, token, uint256.NewInt(20))
	require.True(t, errors.Is(err, coreerrors.ErrInvalidParameter), "got %v", err)

	// existing orders settle normally
	require.NoError(t, h.engine.MarkCompleteAndReleaseFundsToSeller(id, buyer))
	require.Equal(t, uint64(20), h.balance(t, seller))
}

func TestEventsFollowCommit(t *testing.T) {
	h := newHarness(t)
	h.fund(t, buyer, 10, 10)

	id, err := h.engine.CreateAndDeposit(buyer, seller, start+100, 0, token, uint256.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, 1, h.buffer.Len())

	err = h.engine.Refund(id, buyer)
	require.True(t, errors.Is(err, coreerrors.ErrConsentMissing), "got %v", err)
	require.Equal(t, 1, h.buffer.Len())

	require.NoError(t, h.engine.DisputeOrder(id, seller))
	require.NoError(t, h.engine.ResolveDispute(id, owner, escrowpkg.ResolutionRelease))
	require.Equal(t, 4, h.buffer.Len())
}

func TestRandomOperationsPreserveSolvency(t *testing.T) {
	h := newHarness(t)
	h.fund(t, buyer, 1_000_000, 1_000_000)
	rng := rand.New(rand.NewSource(7))

	var ids []uint64
	for step := 0; step < 300; step++ {
		h.now += int64(rng.Intn(50))
		if len(ids) == 0 || rng.Intn(4) == 0 {
			amount := uint64(rng.Intn(500) + 1)
			id, err := h.engine.CreateAndDeposit(buyer, seller, h.now+int64(rng.Intn(200)+1), int64(rng.Intn(200)), token, uint256.NewInt(amount))
			require.NoError(t, err)
			ids = append(ids, id)
			continue
		}
		id := ids[rng.Intn(len(ids))]
		var err error
		switch rng.Intn(10) {
		case 0:
			err = h.engine.MarkComplete(id, buyer)
		case 1:
			err = h.engine.MarkCompleteAndReleaseFundsToSeller(id, buyer)
		case 2:
			err = h.engine.ReleaseFundsToBuyer(id, seller)
		case 3:
			err = h.engine.ClaimFundsFromContract(id, seller)
		case 4:
			err = h.engine.AcceptRefund(id, seller)
		case 5:
			err = h.engine.Refund(id, buyer)
		case 6:
			err = h.engine.SellerAcceptIncHoldingTime(id, seller)
		case 7:
			err = h.engine.BuyerIncHoldingTime(id, buyer, int64(rng.Intn(100)+1))
		case 8:
			err = h.engine.DisputeOrder(id, buyer)
		case 9:
			err = h.engine.ResolveDispute(id, owner, escrowpkg.ResolutionRefund)
		}
		if err != nil {
			kind := coreerrors.KindOf(err)
			require.NotEqual(t, coreerrors.KindInternal, kind, "step %d: %v", step, err)
			require.NotEqual(t, coreerrors.KindTransferFailed, kind, "step %d: %v", step, err)
		}
		h.requireSolvent(t)
	}

	// conservation: everything minted is either with a party or in the vault
	total := h.balance(t, buyer) + h.balance(t, seller) + h.balance(t, custody.VaultAddress())
	require.Equal(t, uint64(1_000_000), total)
}

func TestStatePersistsAcrossEngines(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	ledger := fungible.NewLedger(mgr)
	registry := tokens.NewRegistry(mgr)
	require.NoError(t, mgr.Atomic(func() error {
		if err := registry.Initialise(owner); err != nil {
			return err
		}
		if err := registry.UpdateTokensList(owner, token, true); err != nil {
			return err
		}
		if err := ledger.Mint(token, buyer, uint256.NewInt(5)); err != nil {
			return err
		}
		return ledger.Approve(token, buyer, custody.VaultAddress(), uint256.NewInt(5))
	}))

	build := func(m *state.Manager) *escrowpkg.Engine {
		l := fungible.NewLedger(m)
		e := escrowpkg.NewEngine()
		e.SetState(m)
		e.SetRegistry(tokens.NewRegistry(m))
		e.SetCustody(custody.NewLedger(m, l))
		e.SetNowFunc(func() int64 { return start })
		return e
	}
	id, err := build(mgr).CreateAndDeposit(buyer, seller, start+10, 0, token, uint256.NewInt(5))
	require.NoError(t, err)

	reopened := build(state.NewManager(db))
	order, err := reopened.OrderDetails(id)
	require.NoError(t, err)
	require.Equal(t, escrowpkg.OrderCreated, order.State)
	require.Equal(t, uint64(5), order.Amount.Uint64())
	_, err = reopened.CheckSolvency(token)
	require.NoError(t, err)
}

func TestVaultCannotBeOrderParty(t *testing.T) {
	h := newHarness(t)
	h.fund(t, buyer, 10, 10)

	_, err := h.engine.CreateAndDeposit(buyer, custody.VaultAddress(), start+100, 0, token, uint256.NewInt(10))
	require.True(t, errors.Is(err, coreerrors.ErrInvalidParameter), "got %v", err)
	require.Equal(t, uint64(10), h.balance(t, buyer))
	require.Equal(t, uint64(0), h.balance(t, custody.VaultAddress()))

	count, err := h.engine.OrderCount()
	require.NoError(t, err)
	require.Zero(t, count)
	h.requireSolvent(t)
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	h := newHarness(t)
	h.fund(t, buyer, 10, 10)
	id, err := h.engine.CreateAndDeposit(buyer, seller, start+100, 60, token, uint256.NewInt(10))
	require.NoError(t, err)
	h.now = start + 1000

	const workers = 50
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		gate      = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-gate
			var err error
			if i%2 == 0 {
				err = h.engine.ClaimFundsFromContract(id, seller)
			} else {
				err = h.engine.MarkCompleteAndReleaseFundsToSeller(id, buyer)
			}
			if err == nil {
				succeeded.Add(1)
				return
			}
			if !errors.Is(err, coreerrors.ErrInvalidState) {
				t.Errorf("unexpected failure: %v", err)
			}
		}(i)
	}
	close(gate)
	wg.Wait()

	require.Equal(t, int32(1), succeeded.Load())
	require.Equal(t, uint64(10), h.balance(t, seller))
	require.Equal(t, uint64(0), h.balance(t, custody.VaultAddress()))
	order, err := h.engine.OrderDetails(id)
	require.NoError(t, err)
	require.True(t, order.State.Terminal(), "state %s", order.State)
	h.requireSolvent(t)
}

// orderedRecorder records event types. On the first created event it starts
// a completion of that order and stalls, so a completion that is not
// serialised behind the emission would be recorded first.
type orderedRecorder struct {
	mu      sync.Mutex
	types   []string
	engine  *escrowpkg.Engine
	started bool
	done    chan error
}

func (r *orderedRecorder) Emit(evt events.Event) {
	if evt.EventType() == escrowpkg.EventTypeOrderCreated && !r.started {
		r.started = true
		go func() { r.done <- r.engine.MarkComplete(1, buyer) }()
		time.Sleep(20 * time.Millisecond)
	}
	r.mu.Lock()
	r.types = append(r.types, evt.EventType())
	r.mu.Unlock()
}

func TestEventsLeaveInCommitOrder(t *testing.T) {
	h := newHarness(t)
	h.fund(t, buyer, 10, 10)
	rec := &orderedRecorder{engine: h.engine, done: make(chan error, 1)}
	h.engine.SetEmitter(rec)

	id, err := h.engine.CreateAndDeposit(buyer, seller, start+100, 0, token, uint256.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	require.NoError(t, <-rec.done)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []string{escrowpkg.EventTypeOrderCreated, escrowpkg.EventTypeOrderCompleted}, rec.types)
}
