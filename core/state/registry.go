package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	registryOwnerKey     = []byte("registry/owner")
	registryTokenPrefix  = []byte("registry/token/")
	registryTokenListKey = []byte("registry/token-list")
)

func registryTokenKey(token common.Address) []byte {
	buf := make([]byte, len(registryTokenPrefix)+common.AddressLength)
	copy(buf, registryTokenPrefix)
	copy(buf[len(registryTokenPrefix):], token.Bytes())
	return buf
}

// RegistryOwner returns the configured allow-list owner.
func (m *Manager) RegistryOwner() (common.Address, bool, error) {
	var owner common.Address
	ok, err := m.KVGet(registryOwnerKey, &owner)
	if err != nil {
		return common.Address{}, false, err
	}
	return owner, ok, nil
}

// SetRegistryOwner stores the allow-list owner.
func (m *Manager) SetRegistryOwner(owner common.Address) error {
	return m.KVPut(registryOwnerKey, owner)
}

// TokenAllowed reports the stored allow flag for token. Unknown tokens are
// not allowed.
func (m *Manager) TokenAllowed(token common.Address) (bool, error) {
	var allowed bool
	if _, err := m.KVGet(registryTokenKey(token), &allowed); err != nil {
		return false, err
	}
	return allowed, nil
}

// SetTokenAllowed persists the allow flag and records the token in the
// registry index.
func (m *Manager) SetTokenAllowed(token common.Address, allowed bool) error {
	if err := m.KVPut(registryTokenKey(token), allowed); err != nil {
		return err
	}
	return m.KVAppend(registryTokenListKey, token.Bytes())
}

// RegisteredTokens lists every token that ever had its flag written, in
// registration order.
func (m *Manager) RegisteredTokens() ([]common.Address, error) {
	raw, err := m.KVGetList(registryTokenListKey)
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != common.AddressLength {
			return nil, fmt.Errorf("registry: malformed token index entry %x", entry)
		}
		out = append(out, common.BytesToAddress(entry))
	}
	return out, nil
}
