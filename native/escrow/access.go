package escrow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
)

// Role is a bit set of the parties allowed to invoke an operation.
type Role uint8

const (
	RoleBuyer Role = 1 << iota
	RoleSeller
	RoleOwner
	RoleArbiter
)

func (r Role) String() string {
	var parts []string
	if r&RoleBuyer != 0 {
		parts = append(parts, "buyer")
	}
	if r&RoleSeller != 0 {
		parts = append(parts, "seller")
	}
	if r&RoleOwner != 0 {
		parts = append(parts, "owner")
	}
	if r&RoleArbiter != 0 {
		parts = append(parts, "arbiter")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Operation names used for authorisation, metrics and logs.
const (
	OpCreateAndDeposit           = "createAndDeposit"
	OpMarkComplete               = "markComplete"
	OpMarkCompleteAndRelease     = "markCompleteAndReleaseFundsToSeller"
	OpReleaseFundsToBuyer        = "releaseFundsToBuyer"
	OpClaimFunds                 = "claimFundsFromContract"
	OpAcceptRefund               = "acceptRefund"
	OpRefund                     = "refund"
	OpSellerAcceptIncHoldingTime = "sellerAcceptIncHoldingTime"
	OpBuyerIncHoldingTime        = "buyerIncHoldingTime"
	OpDisputeOrder               = "disputeOrder"
	OpResolveDispute             = "resolveDispute"
	OpUpdateTokensList           = "updateTokensList"
)

var operationRoles = map[string]Role{
	OpMarkComplete:               RoleBuyer,
	OpMarkCompleteAndRelease:     RoleBuyer,
	OpReleaseFundsToBuyer:        RoleSeller,
	OpClaimFunds:                 RoleSeller,
	OpAcceptRefund:               RoleSeller,
	OpRefund:                     RoleBuyer | RoleOwner,
	OpSellerAcceptIncHoldingTime: RoleSeller,
	OpBuyerIncHoldingTime:        RoleBuyer,
	OpDisputeOrder:               RoleBuyer | RoleSeller,
	OpResolveDispute:             RoleArbiter,
	OpUpdateTokensList:           RoleOwner,
}

// RolesFor returns the parties allowed to invoke op.
func RolesFor(op string) Role {
	return operationRoles[op]
}

// authorize checks caller against the roles the operation admits. Buyer and
// seller are taken from the stored order; owner and arbiter from the
// registry and engine configuration.
func (e *Engine) authorize(op string, order *Order, caller common.Address) error {
	allowed := RolesFor(op)
	if allowed == 0 {
		return fmt.Errorf("escrow: no roles configured for %s: %w", op, coreerrors.ErrInternal)
	}
	if order != nil {
		if allowed&RoleBuyer != 0 && caller == order.Buyer {
			return nil
		}
		if allowed&RoleSeller != 0 && caller == order.Seller {
			return nil
		}
	}
	if allowed&RoleOwner != 0 {
		owner, ok, err := e.ownerAddress()
		if err != nil {
			return err
		}
		if ok && caller == owner {
			return nil
		}
	}
	if allowed&RoleArbiter != 0 {
		arbiter, ok, err := e.arbiterAddress()
		if err != nil {
			return err
		}
		if ok && caller == arbiter {
			return nil
		}
	}
	if order != nil {
		return fmt.Errorf("escrow: %s on order %d requires %s, caller %s: %w", op, order.ID, allowed, caller.Hex(), coreerrors.ErrUnauthorized)
	}
	return fmt.Errorf("escrow: %s requires %s, caller %s: %w", op, allowed, caller.Hex(), coreerrors.ErrUnauthorized)
}

func (e *Engine) ownerAddress() (common.Address, bool, error) {
	owner, err := e.registry.Owner()
	if errors.Is(err, coreerrors.ErrInvalidState) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, err
	}
	return owner, true, nil
}

func (e *Engine) arbiterAddress() (common.Address, bool, error) {
	if e.arbiter != (common.Address{}) {
		return e.arbiter, true, nil
	}
	return e.ownerAddress()
}

// Arbiter returns the account currently allowed to resolve disputes.
func (e *Engine) Arbiter() (common.Address, error) {
	var arbiter common.Address
	err := e.view(func() error {
		addr, ok, err := e.arbiterAddress()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("escrow: no arbiter configured: %w", coreerrors.ErrInvalidState)
		}
		arbiter = addr
		return nil
	})
	return arbiter, err
}
