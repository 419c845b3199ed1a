package escrow

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
)

// OrderState represents the lifecycle states of a marketplace order.
type OrderState uint8

const (
	OrderCreated OrderState = iota
	OrderCompleted
	OrderReleased
	OrderClaimed
	OrderRefundAccepted
	OrderRefunded
	OrderDisputed
)

var orderStateNames = map[OrderState]string{
	OrderCreated:        "Created",
	OrderCompleted:      "Completed",
	OrderReleased:       "Released",
	OrderClaimed:        "Claimed",
	OrderRefundAccepted: "RefundAccepted",
	OrderRefunded:       "Refunded",
	OrderDisputed:       "Disputed",
}

func (s OrderState) String() string {
	if name, ok := orderStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OrderState(%d)", uint8(s))
}

// Valid reports whether the state value is within the supported range.
func (s OrderState) Valid() bool {
	_, ok := orderStateNames[s]
	return ok
}

// Terminal reports whether no further transition is permitted.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderReleased, OrderClaimed, OrderRefunded:
		return true
	default:
		return false
	}
}

// Custodial reports whether the order amount is still held by the vault.
// Completed is an acknowledgement marker; its funds stay escrowed until an
// explicit release.
func (s OrderState) Custodial() bool {
	return s.Valid() && !s.Terminal()
}

// ParseOrderState maps a state name back to its value.
func ParseOrderState(name string) (OrderState, error) {
	for state, n := range orderStateNames {
		if n == name {
			return state, nil
		}
	}
	return 0, fmt.Errorf("escrow: unknown order state %q: %w", name, coreerrors.ErrInvalidParameter)
}

// Order captures the immutable terms and the runtime status of a single
// marketplace order. Timestamps and durations are whole unix seconds.
type Order struct {
	ID                        uint64
	Buyer                     common.Address
	Seller                    common.Address
	Token                     common.Address
	Amount                    *uint256.Int
	DeliveryDeadline          int64
	HoldingPeriod             int64
	State                     OrderState
	HoldingExtensionRequested bool
	// Beneficiary is the account that received the payout once the order
	// reached a terminal state.
	Beneficiary common.Address
	CreatedAt   int64
	UpdatedAt   int64
}

// Clone returns a deep copy of the order so callers can safely mutate the
// copy without affecting the stored instance.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Amount != nil {
		clone.Amount = new(uint256.Int).Set(o.Amount)
	} else {
		clone.Amount = new(uint256.Int)
	}
	return &clone
}

// ClaimableAt returns deliveryDeadline + holdingPeriod. The second value is
// false when the sum does not fit in an int64.
func (o *Order) ClaimableAt() (int64, bool) {
	return addSeconds(o.DeliveryDeadline, o.HoldingPeriod)
}

func addSeconds(a, b int64) (int64, bool) {
	if b < 0 || a < 0 {
		return 0, false
	}
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// SanitizeOrder validates the supplied order record, returning a cloned
// instance with a non-nil amount. The original value is not mutated.
func SanitizeOrder(o *Order) (*Order, error) {
	if o == nil {
		return nil, fmt.Errorf("nil order")
	}
	clone := o.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("order id must be non-zero")
	}
	if !clone.State.Valid() {
		return nil, fmt.Errorf("invalid order state: %d", clone.State)
	}
	if clone.DeliveryDeadline < 0 || clone.HoldingPeriod < 0 {
		return nil, fmt.Errorf("order %d: negative timing fields", clone.ID)
	}
	if clone.CreatedAt < 0 || clone.UpdatedAt < 0 {
		return nil, fmt.Errorf("order %d: negative timestamps", clone.ID)
	}
	return clone, nil
}
