package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/integrations/exports"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/escrow"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/rpc"
)

const maxExportPageSize = 1000

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "jsonl", "jsonl, csv or parquet")
	out := fs.String("out", "", "output file (required for parquet, stdout otherwise)")
	from := fs.Uint64("from", 1, "first order identifier")
	pageSize := fs.Int("page-size", 500, "orders fetched per request")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if *pageSize <= 0 || *pageSize > maxExportPageSize {
		return printError(stderr, fmt.Sprintf("--page-size must be between 1 and %d", maxExportPageSize))
	}
	kind := strings.ToLower(strings.TrimSpace(*format))
	switch kind {
	case "jsonl", "csv":
	case "parquet":
		if strings.TrimSpace(*out) == "" {
			return printError(stderr, "--out is required for parquet")
		}
	default:
		return printError(stderr, "--format must be jsonl, csv or parquet")
	}

	orders, err := fetchOrders(*from, *pageSize)
	if err != nil {
		fmt.Fprintf(stderr, "Export failed: %v\n", err)
		return 1
	}

	if kind == "parquet" {
		rows, err := exports.WriteOrdersParquet(*out, orders)
		if err != nil {
			return printError(stderr, err.Error())
		}
		fmt.Fprintf(stderr, "wrote %d orders to %s\n", rows, *out)
		return 0
	}

	var (
		data     []byte
		checksum string
	)
	if kind == "csv" {
		data, checksum, err = exports.OrdersCSV(orders)
	} else {
		data, checksum, err = exports.OrdersJSONL(orders)
	}
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(*out) == "" {
		_, _ = stdout.Write(data)
	} else if err := os.WriteFile(*out, data, 0o644); err != nil {
		return printError(stderr, fmt.Sprintf("write %s: %v", *out, err))
	}
	fmt.Fprintf(stderr, "exported %d orders, sha256 %s\n", len(orders), checksum)
	return 0
}

// fetchOrders pages through escrow_orders from the given identifier.
func fetchOrders(from uint64, pageSize int) ([]*escrow.Order, error) {
	if from == 0 {
		from = 1
	}
	var orders []*escrow.Order
	for {
		raw, rpcErr, err := rpcCall("escrow_orders", map[string]interface{}{"from": from, "limit": pageSize}, false)
		if err != nil {
			return nil, err
		}
		if rpcErr != nil {
			return nil, fmt.Errorf("RPC error %d: %s", rpcErr.Code, rpcErr.Message)
		}
		var page rpc.OrdersResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode orders page: %w", err)
		}
		for _, res := range page.Orders {
			order, err := res.ToOrder()
			if err != nil {
				return nil, err
			}
			orders = append(orders, order)
		}
		if len(page.Orders) < pageSize {
			return orders, nil
		}
		from = page.Orders[len(page.Orders)-1].OrderID + 1
		if from > page.Count {
			return orders, nil
		}
	}
}
