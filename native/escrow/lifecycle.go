package escrow

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
)

// Resolution is the arbiter's instruction for a disputed order.
type Resolution string

const (
	// ResolutionRelease pays the seller.
	ResolutionRelease Resolution = "release"
	// ResolutionRefund pays the buyer.
	ResolutionRefund Resolution = "refund"
)

// ParseResolution normalises an outcome string.
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(strings.ToLower(strings.TrimSpace(s))) {
	case ResolutionRelease:
		return ResolutionRelease, nil
	case ResolutionRefund:
		return ResolutionRefund, nil
	default:
		return "", fmt.Errorf("escrow: invalid resolution outcome %q: %w", s, coreerrors.ErrInvalidParameter)
	}
}

func (e *Engine) checkHoldingPeriod(period int64) error {
	if period < 0 {
		return fmt.Errorf("escrow: holding period must not be negative: %w", coreerrors.ErrInvalidParameter)
	}
	if e.cfg.MaxHoldingPeriod > 0 && period > e.cfg.MaxHoldingPeriod {
		return fmt.Errorf("escrow: holding period %ds exceeds maximum %ds: %w", period, e.cfg.MaxHoldingPeriod, coreerrors.ErrInvalidParameter)
	}
	return nil
}

// CreateAndDeposit opens a new order with caller as buyer and pulls amount
// of token into custody. The buyer must have approved the vault for at
// least amount beforehand. Identifiers start at 1.
func (e *Engine) CreateAndDeposit(caller, seller common.Address, deliveryDeadline, holdingPeriod int64, token common.Address, amount *uint256.Int) (uint64, error) {
	var id uint64
	err := e.execute(OpCreateAndDeposit, func(tx *txn) error {
		if caller == (common.Address{}) || seller == (common.Address{}) {
			return fmt.Errorf("escrow: buyer and seller must be set: %w", coreerrors.ErrInvalidParameter)
		}
		if caller == seller {
			return fmt.Errorf("escrow: buyer and seller must differ: %w", coreerrors.ErrInvalidParameter)
		}
		if vault := e.custody.VaultAddress(); caller == vault || seller == vault {
			return fmt.Errorf("escrow: custody vault %s cannot be an order party: %w", vault.Hex(), coreerrors.ErrInvalidParameter)
		}
		if amount == nil || amount.IsZero() {
			return fmt.Errorf("escrow: amount must be positive: %w", coreerrors.ErrInvalidParameter)
		}
		allowed, err := e.registry.IsTokenAllowed(token)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("escrow: token %s is not allowed: %w", token.Hex(), coreerrors.ErrInvalidParameter)
		}
		if deliveryDeadline <= tx.now {
			return fmt.Errorf("escrow: delivery deadline %d not after now %d: %w", deliveryDeadline, tx.now, coreerrors.ErrInvalidParameter)
		}
		if err := e.checkHoldingPeriod(holdingPeriod); err != nil {
			return err
		}
		if _, ok := addSeconds(deliveryDeadline, holdingPeriod); !ok {
			return fmt.Errorf("escrow: deadline plus holding period overflows: %w", coreerrors.ErrInternal)
		}
		next, err := e.state.NextOrderID()
		if err != nil {
			return err
		}
		if err := e.custody.Deposit(next, token, caller, amount); err != nil {
			return err
		}
		order := &Order{
			ID:               next,
			Buyer:            caller,
			Seller:           seller,
			Token:            token,
			Amount:           new(uint256.Int).Set(amount),
			DeliveryDeadline: deliveryDeadline,
			HoldingPeriod:    holdingPeriod,
			State:            OrderCreated,
			CreatedAt:        tx.now,
		}
		if err := e.storeOrder(tx, order); err != nil {
			return err
		}
		tx.emit(NewOrderCreatedEvent(order))
		id = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// transition loads the order, authorises caller for op and hands the order
// to apply. Authorisation runs before any state check.
func (e *Engine) transition(op string, id uint64, caller common.Address, apply func(tx *txn, order *Order) error) error {
	return e.execute(op, func(tx *txn) error {
		order, err := e.loadOrder(id)
		if err != nil {
			return err
		}
		if err := e.authorize(op, order, caller); err != nil {
			return err
		}
		return apply(tx, order)
	})
}

// MarkComplete records the buyer's acknowledgement of delivery. No funds
// move.
func (e *Engine) MarkComplete(id uint64, caller common.Address) error {
	return e.transition(OpMarkComplete, id, caller, func(tx *txn, order *Order) error {
		if err := requireState(OpMarkComplete, order, OrderCreated); err != nil {
			return err
		}
		order.State = OrderCompleted
		if err := e.storeOrder(tx, order); err != nil {
			return err
		}
		tx.emit(NewOrderCompletedEvent(order))
		return nil
	})
}

// MarkCompleteAndReleaseFundsToSeller lets the buyer pay the seller out of
// Created or Completed.
func (e *Engine) MarkCompleteAndReleaseFundsToSeller(id uint64, caller common.Address) error {
	return e.transition(OpMarkCompleteAndRelease, id, caller, func(tx *txn, order *Order) error {
		if err := requireState(OpMarkCompleteAndRelease, order, OrderCreated, OrderCompleted); err != nil {
			return err
		}
		if err := e.payout(tx, order, order.Seller, OrderReleased); err != nil {
			return err
		}
		tx.emit(NewOrderReleasedEvent(order))
		return nil
	})
}

// ReleaseFundsToBuyer is the seller's voluntary forfeit, e.g. on
// non-delivery. The buyer is recorded as beneficiary.
func (e *Engine) ReleaseFundsToBuyer(id uint64, caller common.Address) error {
	return e.transition(OpReleaseFundsToBuyer, id, caller, func(tx *txn, order *Order) error {
		if err := requireState(OpReleaseFundsToBuyer, order, OrderCreated); err != nil {
			return err
		}
		if err := e.payout(tx, order, order.Buyer, OrderReleased); err != nil {
			return err
		}
		tx.emit(NewOrderReleasedEvent(order))
		return nil
	})
}

// ClaimFundsFromContract lets the seller collect once deliveryDeadline +
// holdingPeriod has been reached.
func (e *Engine) ClaimFundsFromContract(id uint64, caller common.Address) error {
	return e.transition(OpClaimFunds, id, caller, func(tx *txn, order *Order) error {
		if err := requireState(OpClaimFunds, order, OrderCreated); err != nil {
			return err
		}
		claimableAt, ok := order.ClaimableAt()
		if !ok {
			return fmt.Errorf("escrow: order %d claim time overflows: %w", order.ID, coreerrors.ErrInternal)
		}
		if tx.now < claimableAt {
			return fmt.Errorf("escrow: order %d claimable at %d, now %d: %w", order.ID, claimableAt, tx.now, coreerrors.ErrTimeoutNotReached)
		}
		if err := e.payout(tx, order, order.Seller, OrderClaimed); err != nil {
			return err
		}
		tx.emit(NewOrderClaimedEvent(order))
		return nil
	})
}

// ClaimFundsFromBuyer is the historical name of ClaimFundsFromContract.
func (e *Engine) ClaimFundsFromBuyer(id uint64, caller common.Address) error {
	return e.ClaimFundsFromContract(id, caller)
}

// AcceptRefund records the seller's consent to refund the buyer.
func (e *Engine) AcceptRefund(id uint64, caller common.Address) error {
	return e.transition(OpAcceptRefund, id, caller, func(tx *txn, order *Order) error {
		if err := requireState(OpAcceptRefund, order, OrderCreated); err != nil {
			return err
		}
		order.State = OrderRefundAccepted
		order.HoldingExtensionRequested = false
		if err := e.storeOrder(tx, order); err != nil {
			return err
		}
		tx.emit(NewOrderRefundAcceptedEvent(order))
		return nil
	})
}

// Refund pays the buyer back once the seller has accepted the refund. The
// buyer or the registry owner may trigger it.
func (e *Engine) Refund(id uint64, caller common.Address) error {
	return e.transition(OpRefund, id, caller, func(tx *txn, order *Order) error {
		if order.State == OrderCreated {
			return fmt.Errorf("escrow: order %d refund needs seller acceptance: %w", order.ID, coreerrors.ErrConsentMissing)
		}
		if err := requireState(OpRefund, order, OrderRefundAccepted); err != nil {
			return err
		}
		if err := e.payout(tx, order, order.Buyer, OrderRefunded); err != nil {
			return err
		}
		tx.emit(NewOrderRefundedEvent(order))
		return nil
	})
}

// SellerAcceptIncHoldingTime signals the seller's consent to a holding
// extension. The order stays in Created.
func (e *Engine) SellerAcceptIncHoldingTime(id uint64, caller common.Address) error {
	return e.transition(OpSellerAcceptIncHoldingTime, id, caller, func(tx *txn, order *Order) error {
		if err := requireState(OpSellerAcceptIncHoldingTime, order, OrderCreated); err != nil {
			return err
		}
		order.HoldingExtensionRequested = true
		if err := e.storeOrder(tx, order); err != nil {
			return err
		}
		tx.emit(NewOrderHoldExtensionAcceptedEvent(order))
		return nil
	})
}

// BuyerIncHoldingTime extends the holding period by extraSeconds. Unless the
// engine runs the one-step policy, the seller must have accepted first; the
// consent is consumed by the extension.
func (e *Engine) BuyerIncHoldingTime(id uint64, caller common.Address, extraSeconds int64) error {
	return e.transition(OpBuyerIncHoldingTime, id, caller, func(tx *txn, order *Order) error {
		if err := requireState(OpBuyerIncHoldingTime, order, OrderCreated); err != nil {
			return err
		}
		if extraSeconds <= 0 {
			return fmt.Errorf("escrow: extension must be positive: %w", coreerrors.ErrInvalidParameter)
		}
		if e.cfg.RequireExtensionConsent && !order.HoldingExtensionRequested {
			return fmt.Errorf("escrow: order %d extension needs seller acceptance: %w", order.ID, coreerrors.ErrConsentMissing)
		}
		extended, ok := addSeconds(order.HoldingPeriod, extraSeconds)
		if !ok {
			return fmt.Errorf("escrow: holding period overflows: %w", coreerrors.ErrInternal)
		}
		if err := e.checkHoldingPeriod(extended); err != nil {
			return err
		}
		if _, ok := addSeconds(order.DeliveryDeadline, extended); !ok {
			return fmt.Errorf("escrow: deadline plus holding period overflows: %w", coreerrors.ErrInternal)
		}
		order.HoldingPeriod = extended
		order.HoldingExtensionRequested = false
		if err := e.storeOrder(tx, order); err != nil {
			return err
		}
		tx.emit(NewOrderHoldExtendedEvent(order, extraSeconds))
		return nil
	})
}

// IncHoldingTime is the historical name of BuyerIncHoldingTime.
func (e *Engine) IncHoldingTime(id uint64, caller common.Address, extraSeconds int64) error {
	return e.BuyerIncHoldingTime(id, caller, extraSeconds)
}

// DisputeOrder flags the order as disputed, which suspends the timeout
// claim until the arbiter resolves it.
func (e *Engine) DisputeOrder(id uint64, caller common.Address) error {
	return e.transition(OpDisputeOrder, id, caller, func(tx *txn, order *Order) error {
		if err := requireState(OpDisputeOrder, order, OrderCreated); err != nil {
			return err
		}
		order.State = OrderDisputed
		order.HoldingExtensionRequested = false
		if err := e.storeOrder(tx, order); err != nil {
			return err
		}
		tx.emit(NewOrderDisputedEvent(order, caller))
		return nil
	})
}

// ResolveDispute applies the arbiter's decision to a disputed order. The
// engine only validates and executes the instruction.
func (e *Engine) ResolveDispute(id uint64, caller common.Address, outcome Resolution) error {
	return e.transition(OpResolveDispute, id, caller, func(tx *txn, order *Order) error {
		if err := requireState(OpResolveDispute, order, OrderDisputed); err != nil {
			return err
		}
		resolution, err := ParseResolution(string(outcome))
		if err != nil {
			return err
		}
		switch resolution {
		case ResolutionRelease:
			if err := e.payout(tx, order, order.Seller, OrderReleased); err != nil {
				return err
			}
			tx.emit(NewOrderReleasedEvent(order))
		case ResolutionRefund:
			if err := e.payout(tx, order, order.Buyer, OrderRefunded); err != nil {
				return err
			}
			tx.emit(NewOrderRefundedEvent(order))
		}
		tx.emit(NewOrderDisputeResolvedEvent(order, caller, resolution))
		return nil
	})
}

// UpdateTokensList sets or clears the allow flag for token. Owner only.
func (e *Engine) UpdateTokensList(caller, token common.Address, allowed bool) error {
	return e.execute(OpUpdateTokensList, func(tx *txn) error {
		if err := e.authorize(OpUpdateTokensList, nil, caller); err != nil {
			return err
		}
		if err := e.registry.UpdateTokensList(caller, token, allowed); err != nil {
			return err
		}
		tx.emit(NewTokenAllowlistUpdatedEvent(token, caller, allowed))
		return nil
	})
}

// IsTokenAllowed reports whether token may be escrowed.
func (e *Engine) IsTokenAllowed(token common.Address) (bool, error) {
	var allowed bool
	err := e.view(func() error {
		var err error
		allowed, err = e.registry.IsTokenAllowed(token)
		return err
	})
	return allowed, err
}

// OrderDetails returns a snapshot of the order. Terminal orders remain
// readable.
func (e *Engine) OrderDetails(id uint64) (*Order, error) {
	var order *Order
	err := e.view(func() error {
		var err error
		order, err = e.loadOrder(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order.Clone(), nil
}

// OrderCount returns the highest order identifier allocated so far.
func (e *Engine) OrderCount() (uint64, error) {
	var count uint64
	err := e.view(func() error {
		var err error
		count, err = e.state.OrderCount()
		return err
	})
	return count, err
}

// Orders returns up to limit orders starting at identifier from. A zero
// limit returns every remaining order.
func (e *Engine) Orders(from uint64, limit int) ([]*Order, error) {
	if from == 0 {
		from = 1
	}
	var out []*Order
	err := e.view(func() error {
		count, err := e.state.OrderCount()
		if err != nil {
			return err
		}
		for id := from; id <= count; id++ {
			if limit > 0 && len(out) >= limit {
				break
			}
			order, ok, err := e.state.OrderGet(id)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, order)
			}
		}
		return nil
	})
	return out, err
}
