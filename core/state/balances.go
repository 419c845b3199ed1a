package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	balancePrefix   = []byte("fungible/balance/")
	allowancePrefix = []byte("fungible/allowance/")
	supplyPrefix    = []byte("fungible/supply/")
)

func addressKey(prefix []byte, addrs ...common.Address) []byte {
	buf := make([]byte, 0, len(prefix)+len(addrs)*(common.AddressLength+1))
	buf = append(buf, prefix...)
	for i, addr := range addrs {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, addr.Bytes()...)
	}
	return buf
}

func (m *Manager) loadAmount(key []byte) (*uint256.Int, error) {
	var stored big.Int
	ok, err := m.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	amount, overflow := uint256.FromBig(&stored)
	if overflow {
		return nil, fmt.Errorf("state: stored amount under %q overflows 256 bits", key)
	}
	return amount, nil
}

func (m *Manager) storeAmount(key []byte, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	return m.KVPut(key, amount.ToBig())
}

// TokenBalance returns the balance owner holds of token.
func (m *Manager) TokenBalance(token, owner common.Address) (*uint256.Int, error) {
	return m.loadAmount(addressKey(balancePrefix, token, owner))
}

// SetTokenBalance stores the balance owner holds of token.
func (m *Manager) SetTokenBalance(token, owner common.Address, amount *uint256.Int) error {
	return m.storeAmount(addressKey(balancePrefix, token, owner), amount)
}

// TokenAllowance returns how much spender may pull from owner.
func (m *Manager) TokenAllowance(token, owner, spender common.Address) (*uint256.Int, error) {
	return m.loadAmount(addressKey(allowancePrefix, token, owner, spender))
}

// SetTokenAllowance stores how much spender may pull from owner.
func (m *Manager) SetTokenAllowance(token, owner, spender common.Address, amount *uint256.Int) error {
	return m.storeAmount(addressKey(allowancePrefix, token, owner, spender), amount)
}

// TokenSupply returns the minted supply of token.
func (m *Manager) TokenSupply(token common.Address) (*uint256.Int, error) {
	return m.loadAmount(addressKey(supplyPrefix, token))
}

// SetTokenSupply stores the minted supply of token.
func (m *Manager) SetTokenSupply(token common.Address, amount *uint256.Int) error {
	return m.storeAmount(addressKey(supplyPrefix, token), amount)
}
