package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	custodyOrderPrefix  = []byte("custody/order/")
	custodyTotalPrefix  = []byte("custody/total/")
	custodyTokenListKey = []byte("custody/token-list")
)

type storedCustody struct {
	Token  common.Address
	Amount *big.Int
}

func custodyOrderKey(orderID uint64) []byte {
	buf := make([]byte, len(custodyOrderPrefix)+8)
	copy(buf, custodyOrderPrefix)
	binary.BigEndian.PutUint64(buf[len(custodyOrderPrefix):], orderID)
	return buf
}

// CustodyOrderBalance returns the token and amount held in custody for the
// order. A missing record yields a zero amount.
func (m *Manager) CustodyOrderBalance(orderID uint64) (common.Address, *uint256.Int, error) {
	var stored storedCustody
	ok, err := m.KVGet(custodyOrderKey(orderID), &stored)
	if err != nil {
		return common.Address{}, nil, err
	}
	if !ok || stored.Amount == nil {
		return stored.Token, new(uint256.Int), nil
	}
	amount, overflow := uint256.FromBig(stored.Amount)
	if overflow {
		return common.Address{}, nil, fmt.Errorf("custody: order %d balance overflows", orderID)
	}
	return stored.Token, amount, nil
}

// SetCustodyOrderBalance stores the custody record of an order.
func (m *Manager) SetCustodyOrderBalance(orderID uint64, token common.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	return m.KVPut(custodyOrderKey(orderID), &storedCustody{Token: token, Amount: amount.ToBig()})
}

// CustodyTotal returns the vault's aggregate custody of token.
func (m *Manager) CustodyTotal(token common.Address) (*uint256.Int, error) {
	return m.loadAmount(addressKey(custodyTotalPrefix, token))
}

// SetCustodyTotal stores the vault's aggregate custody of token and indexes
// the token for solvency scans.
func (m *Manager) SetCustodyTotal(token common.Address, amount *uint256.Int) error {
	if err := m.storeAmount(addressKey(custodyTotalPrefix, token), amount); err != nil {
		return err
	}
	return m.KVAppend(custodyTokenListKey, token.Bytes())
}

// CustodyTokens lists every token that has ever been held in custody.
func (m *Manager) CustodyTokens() ([]common.Address, error) {
	raw, err := m.KVGetList(custodyTokenListKey)
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		out = append(out, common.BytesToAddress(entry))
	}
	return out, nil
}
