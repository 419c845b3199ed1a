package escrow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/events"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/types"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/observability/metrics"
)

var errNilState = errors.New("escrow engine: state not configured")

// DefaultMaxHoldingPeriod bounds holding periods and extensions.
const DefaultMaxHoldingPeriod = int64(365 * 24 * 60 * 60)

type engineState interface {
	OrderPut(*Order) error
	OrderGet(id uint64) (*Order, bool, error)
	NextOrderID() (uint64, error)
	OrderCount() (uint64, error)
	Atomic(fn func() error) error
	View(fn func() error) error
}

type tokenRegistry interface {
	IsTokenAllowed(token common.Address) (bool, error)
	UpdateTokensList(caller, token common.Address, allowed bool) error
	Owner() (common.Address, error)
}

type custodian interface {
	Deposit(orderID uint64, token, payer common.Address, amount *uint256.Int) error
	Release(orderID uint64, token, recipient common.Address, amount *uint256.Int) error
	OrderBalance(orderID uint64) (*uint256.Int, error)
	TokenBalance(token common.Address) (*uint256.Int, error)
	VaultBalance(token common.Address) (*uint256.Int, error)
	Tokens() ([]common.Address, error)
	VaultAddress() common.Address
}

// Config holds the tunable escrow policy.
type Config struct {
	// RequireExtensionConsent enables the two-step holding extension: the
	// seller must accept before the buyer extends. When false the buyer may
	// extend unilaterally.
	RequireExtensionConsent bool
	// MaxHoldingPeriod caps holding periods in seconds. Zero disables the cap.
	MaxHoldingPeriod int64
}

// DefaultConfig returns the canonical two-step policy.
func DefaultConfig() Config {
	return Config{
		RequireExtensionConsent: true,
		MaxHoldingPeriod:        DefaultMaxHoldingPeriod,
	}
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine applies the order lifecycle on top of the order store, the token
// allow-list and the custody ledger. Every public mutation runs as one atomic
// state unit; events are published only once that unit has committed.
type Engine struct {
	state     engineState
	registry  tokenRegistry
	custody   custodian
	emitter   events.Emitter
	arbiter   common.Address
	cfg       Config
	nowFn     func() int64
	telemetry *metrics.EscrowMetrics

	// execMu spans commit and emission so events leave in commit order.
	execMu sync.Mutex
}

// NewEngine creates an escrow engine with a no-op emitter and the default
// policy. Callers can override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		cfg:       DefaultConfig(),
		nowFn:     func() int64 { return time.Now().Unix() },
		telemetry: metrics.Escrow(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the token allow-list.
func (e *Engine) SetRegistry(registry tokenRegistry) { e.registry = registry }

// SetCustody configures the custody ledger that moves escrowed funds.
func (e *Engine) SetCustody(custody custodian) { e.custody = custody }

// SetArbiter configures the account allowed to resolve disputes. The zero
// address falls back to the registry owner.
func (e *Engine) SetArbiter(addr common.Address) { e.arbiter = addr }

// SetConfig replaces the escrow policy.
func (e *Engine) SetConfig(cfg Config) { e.cfg = cfg }

// Config returns the active escrow policy.
func (e *Engine) Config() Config { return e.cfg }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errors.New("escrow engine: token registry not configured")
	}
	if e.custody == nil {
		return errors.New("escrow engine: custody ledger not configured")
	}
	return nil
}

// txn carries the per-call clock reading and the events produced by one
// operation until its state unit commits.
type txn struct {
	now    int64
	events []*types.Event
}

func (t *txn) emit(evt *types.Event) {
	if evt != nil {
		t.events = append(t.events, evt)
	}
}

// execute runs fn as one atomic unit and publishes its events on success.
// Mutations are serialised through emission, so emitters must not call back
// into the engine synchronously.
func (e *Engine) execute(op string, fn func(tx *txn) error) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.execMu.Lock()
	defer e.execMu.Unlock()
	start := time.Now()
	tx := &txn{now: e.now()}
	err := e.state.Atomic(func() error {
		return fn(tx)
	})
	e.telemetry.ObserveOperation(op, coreerrors.KindOf(err), time.Since(start))
	if err != nil {
		return err
	}
	for _, evt := range tx.events {
		e.emitter.Emit(escrowEvent{evt: evt})
	}
	return nil
}

func (e *Engine) view(fn func() error) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.state.View(fn)
}

func (e *Engine) loadOrder(id uint64) (*Order, error) {
	order, ok, err := e.state.OrderGet(id)
	if err != nil {
		return nil, fmt.Errorf("escrow: load order %d: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("escrow: order %d: %w", id, coreerrors.ErrNotFound)
	}
	return order, nil
}

func (e *Engine) storeOrder(tx *txn, order *Order) error {
	order.UpdatedAt = tx.now
	return e.state.OrderPut(order)
}

func requireState(op string, order *Order, allowed ...OrderState) error {
	for _, s := range allowed {
		if order.State == s {
			return nil
		}
	}
	return fmt.Errorf("escrow: %s not permitted for order %d in state %s: %w", op, order.ID, order.State, coreerrors.ErrInvalidState)
}

// payout releases the full order amount to recipient and moves the order to
// the terminal state in the same unit, so a second payout can never pass the
// state check.
func (e *Engine) payout(tx *txn, order *Order, recipient common.Address, final OrderState) error {
	if !final.Terminal() {
		return fmt.Errorf("escrow: payout must end in a terminal state, got %s: %w", final, coreerrors.ErrInternal)
	}
	if err := e.custody.Release(order.ID, order.Token, recipient, order.Amount); err != nil {
		return err
	}
	order.State = final
	order.Beneficiary = recipient
	order.HoldingExtensionRequested = false
	return e.storeOrder(tx, order)
}
