package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/errors"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/crypto"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError      = -32700
	codeInvalidRequest  = -32600
	codeMethodNotFound  = -32601
	codeInvalidParams   = -32602
	codeServerError     = -32000
	codeUnauthenticated = -32001
	codeRateLimited     = -32020
	codeIdempotency     = -32021
)

// Escrow error codes, one per failure kind.
const (
	codeEscrowUnauthorized      = -32031
	codeEscrowInvalidState      = -32032
	codeEscrowInvalidParameter  = -32033
	codeEscrowTransferFailed    = -32034
	codeEscrowNotFound          = -32035
	codeEscrowTimeoutNotReached = -32036
	codeEscrowConsentMissing    = -32037
	codeEscrowInternal          = -32038
)

var kindCodes = map[string]int{
	coreerrors.KindUnauthorized:      codeEscrowUnauthorized,
	coreerrors.KindInvalidState:      codeEscrowInvalidState,
	coreerrors.KindInvalidParameter:  codeEscrowInvalidParameter,
	coreerrors.KindTransferFailed:    codeEscrowTransferFailed,
	coreerrors.KindNotFound:          codeEscrowNotFound,
	coreerrors.KindTimeoutNotReached: codeEscrowTimeoutNotReached,
	coreerrors.KindConsentMissing:    codeEscrowConsentMissing,
	coreerrors.KindInternal:          codeEscrowInternal,
}

// CodeForKind returns the JSON-RPC error code used for an escrow failure kind.
func CodeForKind(kind string) int {
	if code, ok := kindCodes[kind]; ok {
		return code
	}
	return codeEscrowInternal
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func invalidParams(format string, args ...interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: fmt.Sprintf(format, args...)}
}

// toRPCError converts a handler failure into its wire form. Domain errors keep
// their kind as the message so clients can branch on it without parsing data.
func toRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	kind := coreerrors.KindOf(err)
	return &RPCError{Code: CodeForKind(kind), Message: kind, Data: err.Error()}
}

func writeError(w http.ResponseWriter, status int, id interface{}, rpcErr *RPCError) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// decodeParams unmarshals the single parameter object every method takes.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return invalidParams("exactly one parameter object expected")
	}
	dec := json.NewDecoder(strings.NewReader(string(req.Params[0])))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}

func parseAddressParam(field, value string) (common.Address, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return common.Address{}, invalidParams("%s: %v", field, err)
	}
	return addr, nil
}

func parseAmountParam(field, value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, invalidParams("%s required", field)
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, invalidParams("%s: %v", field, err)
	}
	return amount, nil
}
