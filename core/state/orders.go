package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/escrow"
)

var (
	orderPrefix      = []byte("escrow/order/")
	orderSequenceKey = []byte("escrow/order-seq")
)

type storedOrder struct {
	ID                        uint64
	Buyer                     common.Address
	Seller                    common.Address
	Token                     common.Address
	Amount                    *big.Int
	DeliveryDeadline          uint64
	HoldingPeriod             uint64
	State                     uint8
	HoldingExtensionRequested bool
	Beneficiary               common.Address
	CreatedAt                 uint64
	UpdatedAt                 uint64
}

func orderKey(id uint64) []byte {
	buf := make([]byte, len(orderPrefix)+8)
	copy(buf, orderPrefix)
	binary.BigEndian.PutUint64(buf[len(orderPrefix):], id)
	return buf
}

func newStoredOrder(o *escrow.Order) *storedOrder {
	return &storedOrder{
		ID:                        o.ID,
		Buyer:                     o.Buyer,
		Seller:                    o.Seller,
		Token:                     o.Token,
		Amount:                    o.Amount.ToBig(),
		DeliveryDeadline:          uint64(o.DeliveryDeadline),
		HoldingPeriod:             uint64(o.HoldingPeriod),
		State:                     uint8(o.State),
		HoldingExtensionRequested: o.HoldingExtensionRequested,
		Beneficiary:               o.Beneficiary,
		CreatedAt:                 uint64(o.CreatedAt),
		UpdatedAt:                 uint64(o.UpdatedAt),
	}
}

func (s *storedOrder) toOrder() (*escrow.Order, error) {
	amount := new(uint256.Int)
	if s.Amount != nil {
		var overflow bool
		amount, overflow = uint256.FromBig(s.Amount)
		if overflow {
			return nil, fmt.Errorf("order %d: stored amount overflows", s.ID)
		}
	}
	return escrow.SanitizeOrder(&escrow.Order{
		ID:                        s.ID,
		Buyer:                     s.Buyer,
		Seller:                    s.Seller,
		Token:                     s.Token,
		Amount:                    amount,
		DeliveryDeadline:          int64(s.DeliveryDeadline),
		HoldingPeriod:             int64(s.HoldingPeriod),
		State:                     escrow.OrderState(s.State),
		HoldingExtensionRequested: s.HoldingExtensionRequested,
		Beneficiary:               s.Beneficiary,
		CreatedAt:                 int64(s.CreatedAt),
		UpdatedAt:                 int64(s.UpdatedAt),
	})
}

// OrderPut persists the order record under its identifier.
func (m *Manager) OrderPut(o *escrow.Order) error {
	sanitized, err := escrow.SanitizeOrder(o)
	if err != nil {
		return err
	}
	return m.KVPut(orderKey(sanitized.ID), newStoredOrder(sanitized))
}

// OrderGet loads the order stored under id. The boolean result is false when
// no order exists.
func (m *Manager) OrderGet(id uint64) (*escrow.Order, bool, error) {
	var stored storedOrder
	ok, err := m.KVGet(orderKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	order, err := stored.toOrder()
	if err != nil {
		return nil, false, err
	}
	return order, true, nil
}

// NextOrderID allocates the next order identifier. Identifiers start at 1 and
// are never reused; the counter is part of the enclosing atomic unit.
func (m *Manager) NextOrderID() (uint64, error) {
	current, err := m.OrderCount()
	if err != nil {
		return 0, err
	}
	if current == ^uint64(0) {
		return 0, fmt.Errorf("state: order id space exhausted")
	}
	next := current + 1
	if err := m.KVPut(orderSequenceKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

// OrderCount returns the highest allocated order identifier.
func (m *Manager) OrderCount() (uint64, error) {
	var seq uint64
	if _, err := m.KVGet(orderSequenceKey, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// Orders returns every stored order in identifier order.
func (m *Manager) Orders() ([]*escrow.Order, error) {
	count, err := m.OrderCount()
	if err != nil {
		return nil, err
	}
	out := make([]*escrow.Order, 0, count)
	for id := uint64(1); id <= count; id++ {
		order, ok, err := m.OrderGet(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, order)
		}
	}
	return out, nil
}
