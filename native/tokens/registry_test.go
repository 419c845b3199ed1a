package tokens

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
)

type mockState struct {
	owner    common.Address
	hasOwner bool
	flags    map[common.Address]bool
	order    []common.Address
}

func newMockState() *mockState {
	return &mockState{flags: make(map[common.Address]bool)}
}

func (m *mockState) RegistryOwner() (common.Address, bool, error) {
	return m.owner, m.hasOwner, nil
}

func (m *mockState) SetRegistryOwner(owner common.Address) error {
	m.owner = owner
	m.hasOwner = true
	return nil
}

func (m *mockState) TokenAllowed(token common.Address) (bool, error) {
	return m.flags[token], nil
}

func (m *mockState) SetTokenAllowed(token common.Address, allowed bool) error {
	if _, seen := m.flags[token]; !seen {
		m.order = append(m.order, token)
	}
	m.flags[token] = allowed
	return nil
}

func (m *mockState) RegisteredTokens() ([]common.Address, error) {
	return append([]common.Address(nil), m.order...), nil
}

func newTestAddress(fill byte) common.Address {
	var addr common.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestRegistryOwnerGating(t *testing.T) {
	reg := NewRegistry(newMockState())
	owner := newTestAddress(0x01)
	stranger := newTestAddress(0x02)
	token := newTestAddress(0xAA)

	if err := reg.UpdateTokensList(owner, token, true); !errors.Is(err, coreerrors.ErrInvalidState) {
		t.Fatalf("expected uninitialised registry to reject updates, got %v", err)
	}
	if err := reg.Initialise(owner); err != nil {
		t.Fatalf("initialise: %v", err)
	}
	if err := reg.UpdateTokensList(stranger, token, true); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	allowed, err := reg.IsTokenAllowed(token)
	if err != nil || allowed {
		t.Fatalf("unauthorized update must not change state: allowed=%v err=%v", allowed, err)
	}
	if err := reg.UpdateTokensList(owner, token, true); err != nil {
		t.Fatalf("owner update: %v", err)
	}
	allowed, err = reg.IsTokenAllowed(token)
	if err != nil || !allowed {
		t.Fatalf("expected token allowed, got %v (err=%v)", allowed, err)
	}
	if err := reg.UpdateTokensList(owner, token, false); err != nil {
		t.Fatalf("owner clear: %v", err)
	}
	allowed, _ = reg.IsTokenAllowed(token)
	if allowed {
		t.Fatalf("expected token cleared")
	}
}

func TestRegistryZeroAddress(t *testing.T) {
	reg := NewRegistry(newMockState())
	owner := newTestAddress(0x01)
	if err := reg.Initialise(common.Address{}); !errors.Is(err, coreerrors.ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter for zero owner, got %v", err)
	}
	if err := reg.Initialise(owner); err != nil {
		t.Fatalf("initialise: %v", err)
	}
	allowed, err := reg.IsTokenAllowed(common.Address{})
	if err != nil || allowed {
		t.Fatalf("zero token must never be allowed: %v %v", allowed, err)
	}
	if err := reg.UpdateTokensList(owner, common.Address{}, true); !errors.Is(err, coreerrors.ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter, got %v", err)
	}
}

func TestRegistryInitialiseOnce(t *testing.T) {
	reg := NewRegistry(newMockState())
	owner := newTestAddress(0x01)
	if err := reg.Initialise(owner); err != nil {
		t.Fatalf("initialise: %v", err)
	}
	if err := reg.Initialise(owner); err != nil {
		t.Fatalf("re-initialising with the same owner should be a no-op: %v", err)
	}
	if err := reg.Initialise(newTestAddress(0x09)); !errors.Is(err, coreerrors.ErrInvalidState) {
		t.Fatalf("expected second owner to be rejected, got %v", err)
	}
	got, err := reg.Owner()
	if err != nil || got != owner {
		t.Fatalf("unexpected owner %s (err=%v)", got.Hex(), err)
	}
}

func TestRegistryTokensListing(t *testing.T) {
	reg := NewRegistry(newMockState())
	owner := newTestAddress(0x01)
	_ = reg.Initialise(owner)
	a, b := newTestAddress(0xA0), newTestAddress(0xB0)
	_ = reg.UpdateTokensList(owner, a, true)
	_ = reg.UpdateTokensList(owner, b, true)
	_ = reg.UpdateTokensList(owner, a, false)

	list, err := reg.Tokens()
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	want := []Status{{Token: a, Allowed: false}, {Token: b, Allowed: true}}
	if len(list) != len(want) {
		t.Fatalf("unexpected listing %+v", list)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Fatalf("entry %d: got %+v want %+v", i, list[i], want[i])
		}
	}
}
