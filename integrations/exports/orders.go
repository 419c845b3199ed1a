package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/escrow"
)

// OrderRow is the flattened audit view of an order.
type OrderRow struct {
	OrderID            uint64 `json:"orderId"`
	Buyer              string `json:"buyer"`
	Seller             string `json:"seller"`
	Token              string `json:"token"`
	Amount             string `json:"amount"`
	State              string `json:"state"`
	DeliveryDeadline   int64  `json:"deliveryDeadline"`
	HoldingPeriod      int64  `json:"holdingPeriod"`
	ExtensionRequested bool   `json:"extensionRequested"`
	Beneficiary        string `json:"beneficiary,omitempty"`
	CreatedAt          string `json:"createdAt"`
	UpdatedAt          string `json:"updatedAt"`
}

// RowFromOrder flattens o. Nil orders yield false.
func RowFromOrder(o *escrow.Order) (OrderRow, bool) {
	if o == nil {
		return OrderRow{}, false
	}
	row := OrderRow{
		OrderID:            o.ID,
		Buyer:              o.Buyer.Hex(),
		Seller:             o.Seller.Hex(),
		Token:              o.Token.Hex(),
		Amount:             "0",
		State:              o.State.String(),
		DeliveryDeadline:   o.DeliveryDeadline,
		HoldingPeriod:      o.HoldingPeriod,
		ExtensionRequested: o.HoldingExtensionRequested,
		CreatedAt:          time.Unix(o.CreatedAt, 0).UTC().Format(time.RFC3339),
		UpdatedAt:          time.Unix(o.UpdatedAt, 0).UTC().Format(time.RFC3339),
	}
	if o.Amount != nil {
		row.Amount = o.Amount.Dec()
	}
	if o.State.Terminal() {
		row.Beneficiary = o.Beneficiary.Hex()
	}
	return row, true
}

// OrdersJSONL builds a JSON Lines export of orders and returns the payload
// alongside its SHA-256 checksum.
func OrdersJSONL(orders []*escrow.Order) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, o := range orders {
		row, ok := RowFromOrder(o)
		if !ok {
			continue
		}
		if err := encoder.Encode(row); err != nil {
			return nil, "", err
		}
	}
	return checksummed(buffer.Bytes())
}

// OrdersCSV builds a CSV export of orders with a header row.
func OrdersCSV(orders []*escrow.Order) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"order_id", "buyer", "seller", "token", "amount", "state", "delivery_deadline", "holding_period", "extension_requested", "beneficiary", "created_at", "updated_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, o := range orders {
		row, ok := RowFromOrder(o)
		if !ok {
			continue
		}
		record := []string{
			strconv.FormatUint(row.OrderID, 10),
			row.Buyer,
			row.Seller,
			row.Token,
			row.Amount,
			row.State,
			strconv.FormatInt(row.DeliveryDeadline, 10),
			strconv.FormatInt(row.HoldingPeriod, 10),
			strconv.FormatBool(row.ExtensionRequested),
			row.Beneficiary,
			row.CreatedAt,
			row.UpdatedAt,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", fmt.Errorf("exports: write order %d: %w", row.OrderID, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return checksummed(buffer.Bytes())
}

func checksummed(data []byte) ([]byte, string, error) {
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}
