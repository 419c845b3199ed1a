package tokens

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
)

type registryState interface {
	RegistryOwner() (common.Address, bool, error)
	SetRegistryOwner(owner common.Address) error
	TokenAllowed(token common.Address) (bool, error)
	SetTokenAllowed(token common.Address, allowed bool) error
	RegisteredTokens() ([]common.Address, error)
}

// Status pairs a token with its current allow flag.
type Status struct {
	Token   common.Address `json:"token"`
	Allowed bool           `json:"allowed"`
}

// Registry is the owner-administered allow-list of tokens eligible for
// escrow. It performs no locking of its own; callers run it inside the state
// manager's atomic unit.
type Registry struct {
	state registryState
}

// NewRegistry binds the registry to its backing state.
func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

// Initialise records the registry owner. It can only be performed once.
func (r *Registry) Initialise(owner common.Address) error {
	if r == nil || r.state == nil {
		return fmt.Errorf("tokens: registry state not configured")
	}
	if owner == (common.Address{}) {
		return fmt.Errorf("tokens: owner must not be the zero address: %w", coreerrors.ErrInvalidParameter)
	}
	existing, ok, err := r.state.RegistryOwner()
	if err != nil {
		return err
	}
	if ok {
		if existing == owner {
			return nil
		}
		return fmt.Errorf("tokens: registry already owned by %s: %w", existing.Hex(), coreerrors.ErrInvalidState)
	}
	return r.state.SetRegistryOwner(owner)
}

// Owner returns the account allowed to administer the allow-list.
func (r *Registry) Owner() (common.Address, error) {
	if r == nil || r.state == nil {
		return common.Address{}, fmt.Errorf("tokens: registry state not configured")
	}
	owner, ok, err := r.state.RegistryOwner()
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, fmt.Errorf("tokens: registry not initialised: %w", coreerrors.ErrInvalidState)
	}
	return owner, nil
}

// IsOwner reports whether caller administers the registry.
func (r *Registry) IsOwner(caller common.Address) (bool, error) {
	owner, err := r.Owner()
	if err != nil {
		return false, err
	}
	return owner == caller, nil
}

// UpdateTokensList sets or clears the allow flag for token. Only the owner
// may call it.
func (r *Registry) UpdateTokensList(caller, token common.Address, allowed bool) error {
	isOwner, err := r.IsOwner(caller)
	if err != nil {
		return err
	}
	if !isOwner {
		return fmt.Errorf("tokens: %s is not the registry owner: %w", caller.Hex(), coreerrors.ErrUnauthorized)
	}
	if token == (common.Address{}) {
		return fmt.Errorf("tokens: zero token identifier: %w", coreerrors.ErrInvalidParameter)
	}
	return r.state.SetTokenAllowed(token, allowed)
}

// IsTokenAllowed reports whether token may be escrowed. Unknown tokens and
// the zero address are never allowed.
func (r *Registry) IsTokenAllowed(token common.Address) (bool, error) {
	if r == nil || r.state == nil {
		return false, fmt.Errorf("tokens: registry state not configured")
	}
	if token == (common.Address{}) {
		return false, nil
	}
	return r.state.TokenAllowed(token)
}

// Tokens lists every token the owner has ever configured with its current
// flag.
func (r *Registry) Tokens() ([]Status, error) {
	if r == nil || r.state == nil {
		return nil, fmt.Errorf("tokens: registry state not configured")
	}
	list, err := r.state.RegisteredTokens()
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(list))
	for _, token := range list {
		allowed, err := r.state.TokenAllowed(token)
		if err != nil {
			return nil, err
		}
		out = append(out, Status{Token: token, Allowed: allowed})
	}
	return out, nil
}
