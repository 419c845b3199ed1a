package exports

import (
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/escrow"
)

type parquetOrderRow struct {
	OrderID            int64  `parquet:"name=order_id, type=INT64"`
	Buyer              string `parquet:"name=buyer, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Seller             string `parquet:"name=seller, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Token              string `parquet:"name=token, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Amount             string `parquet:"name=amount, type=UTF8, encoding=PLAIN_DICTIONARY"`
	State              string `parquet:"name=state, type=UTF8, encoding=PLAIN_DICTIONARY"`
	DeliveryDeadline   int64  `parquet:"name=delivery_deadline, type=INT64"`
	HoldingPeriod      int64  `parquet:"name=holding_period, type=INT64"`
	ExtensionRequested bool   `parquet:"name=extension_requested, type=BOOLEAN"`
	Beneficiary        string `parquet:"name=beneficiary, type=UTF8, encoding=PLAIN_DICTIONARY"`
	CreatedAt          string `parquet:"name=created_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
	UpdatedAt          string `parquet:"name=updated_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

// WriteOrdersParquet writes orders to path as a Snappy-compressed Parquet
// file and returns the number of rows written.
func WriteOrdersParquet(path string, orders []*escrow.Order) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetOrderRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	for _, o := range orders {
		row, ok := RowFromOrder(o)
		if !ok {
			continue
		}
		pr := &parquetOrderRow{
			OrderID:            int64(row.OrderID),
			Buyer:              row.Buyer,
			Seller:             row.Seller,
			Token:              row.Token,
			Amount:             row.Amount,
			State:              row.State,
			DeliveryDeadline:   row.DeliveryDeadline,
			HoldingPeriod:      row.HoldingPeriod,
			ExtensionRequested: row.ExtensionRequested,
			Beneficiary:        row.Beneficiary,
			CreatedAt:          row.CreatedAt,
			UpdatedAt:          row.UpdatedAt,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return written, fmt.Errorf("exports: parquet write: %w", err)
		}
		written++
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return written, fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("exports: close parquet file: %w", err)
	}
	return written, nil
}
