package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/indexer"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/custody"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/escrow"
)

// IdempotencyHeader lets clients retry escrow_createAndDeposit safely.
const IdempotencyHeader = "Idempotency-Key"

const (
	maxIdempotencyKeyLength = 128
	defaultOrdersPageSize   = 100
	maxOrdersPageSize       = 1000
)

type tokenParams struct {
	Token string `json:"token"`
}

type updateTokensParams struct {
	Token   string `json:"token"`
	Allowed bool   `json:"allowed"`
}

type createAndDepositParams struct {
	Seller           string `json:"seller"`
	DeliveryDeadline int64  `json:"deliveryDeadline"`
	HoldingPeriod    int64  `json:"holdingPeriod"`
	Token            string `json:"token"`
	Amount           string `json:"amount"`
}

type orderIDParams struct {
	OrderID uint64 `json:"orderId"`
}

type holdExtensionParams struct {
	OrderID      uint64 `json:"orderId"`
	ExtraSeconds int64  `json:"extraSeconds"`
}

type resolveDisputeParams struct {
	OrderID uint64 `json:"orderId"`
	Outcome string `json:"outcome"`
}

type ordersParams struct {
	From  uint64 `json:"from,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type orderEventsParams struct {
	OrderID uint64 `json:"orderId,omitempty"`
	Type    string `json:"type,omitempty"`
	After   uint64 `json:"after,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// OrderResult is the wire form of an order.
type OrderResult struct {
	OrderID            uint64 `json:"orderId"`
	Buyer              string `json:"buyer"`
	Seller             string `json:"seller"`
	Token              string `json:"token"`
	Amount             string `json:"amount"`
	DeliveryDeadline   int64  `json:"deliveryDeadline"`
	HoldingPeriod      int64  `json:"holdingPeriod"`
	ClaimableAt        int64  `json:"claimableAt"`
	State              string `json:"state"`
	ExtensionRequested bool   `json:"extensionRequested"`
	Beneficiary        string `json:"beneficiary,omitempty"`
	CreatedAt          int64  `json:"createdAt"`
	UpdatedAt          int64  `json:"updatedAt"`
}

func orderResultFrom(o *escrow.Order) OrderResult {
	res := OrderResult{
		OrderID:            o.ID,
		Buyer:              o.Buyer.Hex(),
		Seller:             o.Seller.Hex(),
		Token:              o.Token.Hex(),
		Amount:             "0",
		DeliveryDeadline:   o.DeliveryDeadline,
		HoldingPeriod:      o.HoldingPeriod,
		State:              o.State.String(),
		ExtensionRequested: o.HoldingExtensionRequested,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	if o.Amount != nil {
		res.Amount = o.Amount.Dec()
	}
	if at, ok := o.ClaimableAt(); ok {
		res.ClaimableAt = at
	}
	if o.State.Terminal() {
		res.Beneficiary = o.Beneficiary.Hex()
	}
	return res
}

// ToOrder converts the wire form back into an order record.
func (r OrderResult) ToOrder() (*escrow.Order, error) {
	state, err := escrow.ParseOrderState(r.State)
	if err != nil {
		return nil, err
	}
	amount, err := uint256.FromDecimal(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("order %d amount: %w", r.OrderID, err)
	}
	order := &escrow.Order{
		ID:                        r.OrderID,
		Buyer:                     common.HexToAddress(r.Buyer),
		Seller:                    common.HexToAddress(r.Seller),
		Token:                     common.HexToAddress(r.Token),
		Amount:                    amount,
		DeliveryDeadline:          r.DeliveryDeadline,
		HoldingPeriod:             r.HoldingPeriod,
		State:                     state,
		HoldingExtensionRequested: r.ExtensionRequested,
		CreatedAt:                 r.CreatedAt,
		UpdatedAt:                 r.UpdatedAt,
	}
	if r.Beneficiary != "" {
		order.Beneficiary = common.HexToAddress(r.Beneficiary)
	}
	return order, nil
}

// CreateResult is returned by escrow_createAndDeposit.
type CreateResult struct {
	OrderID uint64 `json:"orderId"`
}

// OrdersResult is one page of the order table.
type OrdersResult struct {
	Count  uint64        `json:"count"`
	Orders []OrderResult `json:"orders"`
}

// EventResult is one indexed escrow event.
type EventResult struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	OrderID    uint64            `json:"orderId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

func eventResultFrom(record indexer.EventRecord) EventResult {
	return EventResult{
		Sequence:   record.Sequence,
		Type:       record.Type,
		OrderID:    record.OrderID,
		Attributes: record.Attrs(),
		CreatedAt:  record.CreatedAt,
	}
}

func (s *Server) handleIsTokenAllowed(c *call) (interface{}, error) {
	var params tokenParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	token, err := parseAddressParam("token", params.Token)
	if err != nil {
		return nil, err
	}
	allowed, err := s.backend.Escrow.IsTokenAllowed(token)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"token": token.Hex(), "allowed": allowed}, nil
}

func (s *Server) handleUpdateTokensList(c *call) (interface{}, error) {
	var params updateTokensParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	token, err := parseAddressParam("token", params.Token)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Escrow.UpdateTokensList(c.caller, token, params.Allowed); err != nil {
		return nil, err
	}
	return map[string]interface{}{"token": token.Hex(), "allowed": params.Allowed}, nil
}

func (s *Server) handleCreateAndDeposit(c *call) (interface{}, error) {
	var params createAndDepositParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	seller, err := parseAddressParam("seller", params.Seller)
	if err != nil {
		return nil, err
	}
	token, err := parseAddressParam("token", params.Token)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmountParam("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	create := func() (CreateResult, error) {
		id, err := s.backend.Escrow.CreateAndDeposit(c.caller, seller, params.DeliveryDeadline, params.HoldingPeriod, token, amount)
		if err != nil {
			return CreateResult{}, err
		}
		return CreateResult{OrderID: id}, nil
	}

	key := strings.TrimSpace(c.r.Header.Get(IdempotencyHeader))
	if key == "" || s.backend.Events == nil {
		return create()
	}
	if len(key) > maxIdempotencyKeyLength {
		return nil, invalidParams("%s exceeds %d characters", IdempotencyHeader, maxIdempotencyKeyLength)
	}

	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	fingerprint := indexer.Fingerprint(c.caller.Hex(), c.req.Params[0])
	record, found, err := s.backend.Events.LookupIdempotency(key, fingerprint)
	if errors.Is(err, indexer.ErrIdempotencyConflict) {
		return nil, &RPCError{Code: codeIdempotency, Message: "idempotency_conflict", Data: "key was used for a different request"}
	}
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: "idempotency store unavailable", Data: err.Error()}
	}
	if found {
		var replay CreateResult
		if err := json.Unmarshal([]byte(record.Response), &replay); err != nil {
			return nil, fmt.Errorf("rpc: decode stored response: %v: %w", err, coreerrors.ErrInternal)
		}
		return replay, nil
	}
	result, err := create()
	if err != nil {
		return nil, err
	}
	stored, err := json.Marshal(result)
	if err == nil {
		err = s.backend.Events.SaveIdempotency(indexer.IdempotencyRecord{
			Key:         key,
			Caller:      c.caller.Hex(),
			Method:      c.req.Method,
			Fingerprint: fingerprint,
			Response:    string(stored),
		})
	}
	if err != nil {
		s.log.Warn("failed to persist idempotency record", "key", key, "order_id", result.OrderID, "error", err)
	}
	return result, nil
}

func orderTransition(fn func(*escrow.Engine, uint64, common.Address) error) func(*Server, *call) (interface{}, error) {
	return func(s *Server, c *call) (interface{}, error) {
		var params orderIDParams
		if err := decodeParams(c.req, &params); err != nil {
			return nil, err
		}
		if err := fn(s.backend.Escrow, params.OrderID, c.caller); err != nil {
			return nil, err
		}
		return s.orderSnapshot(params.OrderID)
	}
}

func holdExtension(fn func(*escrow.Engine, uint64, common.Address, int64) error) func(*Server, *call) (interface{}, error) {
	return func(s *Server, c *call) (interface{}, error) {
		var params holdExtensionParams
		if err := decodeParams(c.req, &params); err != nil {
			return nil, err
		}
		if err := fn(s.backend.Escrow, params.OrderID, c.caller, params.ExtraSeconds); err != nil {
			return nil, err
		}
		return s.orderSnapshot(params.OrderID)
	}
}

func (s *Server) handleResolveDispute(c *call) (interface{}, error) {
	var params resolveDisputeParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	outcome, err := escrow.ParseResolution(params.Outcome)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Escrow.ResolveDispute(params.OrderID, c.caller, outcome); err != nil {
		return nil, err
	}
	return s.orderSnapshot(params.OrderID)
}

func (s *Server) orderSnapshot(id uint64) (interface{}, error) {
	order, err := s.backend.Escrow.OrderDetails(id)
	if err != nil {
		return nil, err
	}
	return orderResultFrom(order), nil
}

func (s *Server) handleOrderDetails(c *call) (interface{}, error) {
	var params orderIDParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	return s.orderSnapshot(params.OrderID)
}

func (s *Server) handleOrders(c *call) (interface{}, error) {
	var params ordersParams
	if len(c.req.Params) > 0 {
		if err := decodeParams(c.req, &params); err != nil {
			return nil, err
		}
	}
	limit := params.Limit
	switch {
	case limit <= 0:
		limit = defaultOrdersPageSize
	case limit > maxOrdersPageSize:
		limit = maxOrdersPageSize
	}
	orders, err := s.backend.Escrow.Orders(params.From, limit)
	if err != nil {
		return nil, err
	}
	count, err := s.backend.Escrow.OrderCount()
	if err != nil {
		return nil, err
	}
	out := OrdersResult{Count: count, Orders: make([]OrderResult, 0, len(orders))}
	for _, o := range orders {
		out.Orders = append(out.Orders, orderResultFrom(o))
	}
	return out, nil
}

func (s *Server) handleOrderEvents(c *call) (interface{}, error) {
	if s.backend.Events == nil {
		return nil, &RPCError{Code: codeServerError, Message: "event index unavailable"}
	}
	var params orderEventsParams
	if len(c.req.Params) > 0 {
		if err := decodeParams(c.req, &params); err != nil {
			return nil, err
		}
	}
	if params.Limit <= 0 || params.Limit > maxOrdersPageSize {
		params.Limit = maxOrdersPageSize
	}
	records, err := s.backend.Events.Events(indexer.EventFilter{
		OrderID: params.OrderID,
		Type:    strings.TrimSpace(params.Type),
		After:   params.After,
		Limit:   params.Limit,
	})
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: "event index unavailable", Data: err.Error()}
	}
	out := make([]EventResult, 0, len(records))
	for _, record := range records {
		out = append(out, eventResultFrom(record))
	}
	return out, nil
}

// SolvencyResult reports the outcome of an on-demand audit.
type SolvencyResult struct {
	Balanced      bool                  `json:"balanced"`
	Error         string                `json:"error,omitempty"`
	Tokens        []TokenSolvencyResult `json:"tokens"`
	OrdersByState map[string]int        `json:"ordersByState"`
}

type TokenSolvencyResult struct {
	Token  string `json:"token"`
	Owed   string `json:"owed"`
	Booked string `json:"booked"`
	Vault  string `json:"vault"`
}

func (s *Server) handleCheckSolvency(_ *call) (interface{}, error) {
	report, err := s.backend.Escrow.CheckSolvency()
	if report == nil {
		return nil, err
	}
	out := SolvencyResult{
		Balanced:      err == nil,
		Tokens:        make([]TokenSolvencyResult, 0, len(report.Tokens)),
		OrdersByState: make(map[string]int, len(report.OrdersByState)),
	}
	if err != nil {
		out.Error = err.Error()
	}
	for _, t := range report.Tokens {
		out.Tokens = append(out.Tokens, TokenSolvencyResult{
			Token:  t.Token.Hex(),
			Owed:   t.Owed.Dec(),
			Booked: t.Booked.Dec(),
			Vault:  t.Vault.Dec(),
		})
	}
	for state, n := range report.OrdersByState {
		out.OrdersByState[state.String()] = n
	}
	return out, nil
}

// InfoResult describes the escrow deployment.
type InfoResult struct {
	Vault                   string `json:"vault"`
	Owner                   string `json:"owner,omitempty"`
	Arbiter                 string `json:"arbiter,omitempty"`
	RequireExtensionConsent bool   `json:"requireExtensionConsent"`
	MaxHoldingPeriod        int64  `json:"maxHoldingPeriod"`
	OrderCount              uint64 `json:"orderCount"`
}

func (s *Server) handleInfo(_ *call) (interface{}, error) {
	cfg := s.backend.Escrow.Config()
	info := InfoResult{
		Vault:                   custody.VaultAddress().Hex(),
		RequireExtensionConsent: cfg.RequireExtensionConsent,
		MaxHoldingPeriod:        cfg.MaxHoldingPeriod,
	}
	err := s.backend.State.View(func() error {
		owner, err := s.backend.Registry.Owner()
		if err == nil {
			info.Owner = owner.Hex()
		} else if !errors.Is(err, coreerrors.ErrInvalidState) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if arbiter, err := s.backend.Escrow.Arbiter(); err == nil {
		info.Arbiter = arbiter.Hex()
	}
	count, err := s.backend.Escrow.OrderCount()
	if err != nil {
		return nil, err
	}
	info.OrderCount = count
	return info, nil
}
