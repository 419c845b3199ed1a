package escrow

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/types"
)

const (
	EventTypeOrderCreated               = "escrow.order.created"
	EventTypeOrderCompleted             = "escrow.order.completed"
	EventTypeOrderReleased              = "escrow.order.released"
	EventTypeOrderClaimed               = "escrow.order.claimed"
	EventTypeOrderRefundAccepted        = "escrow.order.refund_accepted"
	EventTypeOrderRefunded              = "escrow.order.refunded"
	EventTypeOrderHoldExtensionAccepted = "escrow.order.hold_extension_accepted"
	EventTypeOrderHoldExtended          = "escrow.order.hold_extended"
	EventTypeOrderDisputed              = "escrow.order.disputed"
	EventTypeOrderDisputeResolved       = "escrow.order.dispute_resolved"
	EventTypeTokenAllowlistUpdated      = "escrow.token.allowlist_updated"
)

// NewOrderCreatedEvent returns the canonical payload for a newly funded
// order.
func NewOrderCreatedEvent(o *Order) *types.Event { return newOrderEvent(EventTypeOrderCreated, o) }

// NewOrderCompletedEvent is emitted when the buyer acknowledges delivery.
func NewOrderCompletedEvent(o *Order) *types.Event { return newOrderEvent(EventTypeOrderCompleted, o) }

// NewOrderReleasedEvent is emitted when escrowed funds are released.
func NewOrderReleasedEvent(o *Order) *types.Event { return newOrderEvent(EventTypeOrderReleased, o) }

// NewOrderClaimedEvent is emitted when the seller claims after the timeout.
func NewOrderClaimedEvent(o *Order) *types.Event { return newOrderEvent(EventTypeOrderClaimed, o) }

func NewOrderRefundAcceptedEvent(o *Order) *types.Event {
	return newOrderEvent(EventTypeOrderRefundAccepted, o)
}

func NewOrderRefundedEvent(o *Order) *types.Event { return newOrderEvent(EventTypeOrderRefunded, o) }

func NewOrderHoldExtensionAcceptedEvent(o *Order) *types.Event {
	return newOrderEvent(EventTypeOrderHoldExtensionAccepted, o)
}

// NewOrderHoldExtendedEvent records the applied extension alongside the new
// holding period.
func NewOrderHoldExtendedEvent(o *Order, extraSeconds int64) *types.Event {
	evt := newOrderEvent(EventTypeOrderHoldExtended, o)
	if evt != nil {
		evt.Attributes["extraSeconds"] = strconv.FormatInt(extraSeconds, 10)
	}
	return evt
}

// NewOrderDisputedEvent records which party raised the dispute.
func NewOrderDisputedEvent(o *Order, raisedBy common.Address) *types.Event {
	evt := newOrderEvent(EventTypeOrderDisputed, o)
	if evt != nil {
		evt.Attributes["raisedBy"] = raisedBy.Hex()
	}
	return evt
}

// NewOrderDisputeResolvedEvent records the arbiter and the outcome applied.
func NewOrderDisputeResolvedEvent(o *Order, arbiter common.Address, outcome Resolution) *types.Event {
	evt := newOrderEvent(EventTypeOrderDisputeResolved, o)
	if evt != nil {
		evt.Attributes["arbiter"] = arbiter.Hex()
		evt.Attributes["outcome"] = string(outcome)
	}
	return evt
}

// NewTokenAllowlistUpdatedEvent records an allow-list change.
func NewTokenAllowlistUpdatedEvent(token, owner common.Address, allowed bool) *types.Event {
	return &types.Event{
		Type: EventTypeTokenAllowlistUpdated,
		Attributes: map[string]string{
			"token":   token.Hex(),
			"owner":   owner.Hex(),
			"allowed": strconv.FormatBool(allowed),
		},
	}
}

func newOrderEvent(eventType string, o *Order) *types.Event {
	if o == nil {
		return nil
	}
	attrs := map[string]string{
		"orderId":            strconv.FormatUint(o.ID, 10),
		"buyer":              o.Buyer.Hex(),
		"seller":             o.Seller.Hex(),
		"token":              o.Token.Hex(),
		"amount":             "0",
		"state":              o.State.String(),
		"deliveryDeadline":   strconv.FormatInt(o.DeliveryDeadline, 10),
		"holdingPeriod":      strconv.FormatInt(o.HoldingPeriod, 10),
		"extensionRequested": strconv.FormatBool(o.HoldingExtensionRequested),
	}
	if o.Amount != nil {
		attrs["amount"] = o.Amount.Dec()
	}
	if o.Beneficiary != (common.Address{}) {
		attrs["beneficiary"] = o.Beneficiary.Hex()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// OrderIDFromEvent extracts the order identifier carried by an escrow
// event.
func OrderIDFromEvent(evt *types.Event) (uint64, bool) {
	if evt == nil || !strings.HasPrefix(evt.Type, "escrow.order.") {
		return 0, false
	}
	id, err := strconv.ParseUint(evt.Attr("orderId"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
