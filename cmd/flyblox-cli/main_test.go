package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/crypto"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/rpc"
)

const (
	sellerHex = "0x00000000000000000000000000000000000000b2"
	tokenHex  = "0x00000000000000000000000000000000000000aa"
)

type recordedCall struct {
	method string
	params map[string]interface{}
	auth   bool
}

// stubRPC replaces the transport for the duration of a test.
func stubRPC(t *testing.T, result interface{}, rpcErr *rpcError) *[]recordedCall {
	t.Helper()
	calls := &[]recordedCall{}
	original := rpcCall
	rpcCall = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		var decoded map[string]interface{}
		if params != nil {
			raw, err := json.Marshal(params)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(raw, &decoded))
		}
		*calls = append(*calls, recordedCall{method: method, params: decoded, auth: requireAuth})
		raw, err := json.Marshal(result)
		require.NoError(t, err)
		return raw, rpcErr, nil
	}
	t.Cleanup(func() { rpcCall = original })
	return calls
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestEscrowCreateBuildsParams(t *testing.T) {
	original := escrowNow
	escrowNow = func() time.Time { return time.Unix(1_700_000_000, 0) }
	defer func() { escrowNow = original }()

	calls := stubRPC(t, map[string]uint64{"orderId": 7}, nil)
	code, stdout, stderr := runCLI("escrow", "create",
		"--seller", sellerHex, "--token", tokenHex,
		"--amount", "5e3", "--deadline", "+72h", "--holding", "7d")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, `"orderId": 7`)

	require.Len(t, *calls, 1)
	got := (*calls)[0]
	require.Equal(t, "escrow_createAndDeposit", got.method)
	require.True(t, got.auth)
	require.Equal(t, "5000", got.params["amount"])
	require.Equal(t, float64(1_700_000_000+72*3600), got.params["deliveryDeadline"])
	require.Equal(t, float64(7*24*3600), got.params["holdingPeriod"])
	require.Equal(t, sellerHex, got.params["seller"])
}

func TestEscrowArgValidation(t *testing.T) {
	calls := stubRPC(t, nil, nil)
	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "no subcommand", args: []string{"escrow"}, want: "Usage: flyblox-cli escrow"},
		{name: "unknown", args: []string{"escrow", "bogus"}, want: "Unknown escrow subcommand: bogus"},
		{name: "missing seller", args: []string{"escrow", "create", "--token", tokenHex, "--amount", "1", "--deadline", "+1h", "--holding", "60"}, want: "--seller is required"},
		{name: "bad amount", args: []string{"escrow", "create", "--seller", sellerHex, "--token", tokenHex, "--amount", "-1", "--deadline", "+1h", "--holding", "60"}, want: "--amount must be a non-negative integer"},
		{name: "zero amount", args: []string{"escrow", "create", "--seller", sellerHex, "--token", tokenHex, "--amount", "0", "--deadline", "+1h", "--holding", "60"}, want: "--amount must be positive"},
		{name: "bad deadline", args: []string{"escrow", "create", "--seller", sellerHex, "--token", tokenHex, "--amount", "1", "--deadline", "tomorrow", "--holding", "60"}, want: "--deadline must be"},
		{name: "missing id", args: []string{"escrow", "complete"}, want: "--id is required"},
		{name: "zero id", args: []string{"escrow", "claim", "--id", "0"}, want: "--id must be a positive integer"},
		{name: "missing extra", args: []string{"escrow", "extend", "--id", "1"}, want: "--extra is required"},
		{name: "bad outcome", args: []string{"escrow", "resolve", "--id", "1", "--outcome", "split"}, want: "--outcome must be release or refund"},
		{name: "positional", args: []string{"escrow", "get", "--id", "1", "extra"}, want: "unexpected positional arguments"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, stderr := runCLI(tc.args...)
			if code != 1 {
				t.Fatalf("expected exit 1, got %d", code)
			}
			if !strings.Contains(stderr, tc.want) {
				t.Fatalf("stderr %q does not contain %q", stderr, tc.want)
			}
		})
	}
	require.Empty(t, *calls)
}

func TestEscrowTransitionsRouteToMethods(t *testing.T) {
	for name, method := range orderTransitions {
		calls := stubRPC(t, map[string]string{"state": "Completed"}, nil)
		code, _, stderr := runCLI("escrow", name, "--id", "3")
		require.Equal(t, 0, code, stderr)
		require.Len(t, *calls, 1)
		require.Equal(t, method, (*calls)[0].method)
		require.Equal(t, float64(3), (*calls)[0].params["orderId"])
		require.True(t, (*calls)[0].auth)
	}

	calls := stubRPC(t, nil, nil)
	code, _, stderr := runCLI("escrow", "request-extension", "--id", "2", "--extra", "48h")
	require.Equal(t, 0, code, stderr)
	require.Equal(t, "escrow_buyerIncHoldingTime", (*calls)[0].method)
	require.Equal(t, float64(48*3600), (*calls)[0].params["extraSeconds"])

	calls = stubRPC(t, nil, nil)
	code, _, stderr = runCLI("escrow", "resolve", "--id", "2", "--outcome", "REFUND")
	require.Equal(t, 0, code, stderr)
	require.Equal(t, "escrow_resolveDispute", (*calls)[0].method)
	require.Equal(t, "refund", (*calls)[0].params["outcome"])
}

func TestReadCommandsSkipAuth(t *testing.T) {
	calls := stubRPC(t, map[string]bool{"allowed": true}, nil)
	code, _, stderr := runCLI("escrow", "token-allowed", "--token", tokenHex)
	require.Equal(t, 0, code, stderr)
	require.False(t, (*calls)[0].auth)

	code, _, stderr = runCLI("token", "balance", "--token", tokenHex, "--owner", sellerHex)
	require.Equal(t, 0, code, stderr)
	require.Equal(t, "token_balanceOf", (*calls)[1].method)
	require.False(t, (*calls)[1].auth)

	code, _, stderr = runCLI("token", "approve", "--token", tokenHex, "--amount", "10")
	require.Equal(t, 0, code, stderr)
	require.Equal(t, "token_approve", (*calls)[2].method)
	require.True(t, (*calls)[2].auth)
	require.NotContains(t, (*calls)[2].params, "spender")
}

func TestRPCErrorIsReported(t *testing.T) {
	stubRPC(t, nil, &rpcError{Code: -32032, Message: "invalid_state", Data: json.RawMessage(`"escrow: order 1 is Released"`)})
	code, _, stderr := runCLI("escrow", "refund", "--id", "1")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "RPC error -32032: invalid_state (escrow: order 1 is Released)")
}

func TestCallRPCSendsBearerToken(t *testing.T) {
	var gotAuth, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotMethod = req.Method
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)
	}))
	defer srv.Close()

	originalEndpoint, originalToken := rpcEndpoint, rpcAuthToken
	defer func() { rpcEndpoint, rpcAuthToken = originalEndpoint, originalToken }()

	rest, err := applyGlobalFlags([]string{"--rpc", srv.URL, "escrow", "info"})
	require.NoError(t, err)
	require.Equal(t, []string{"escrow", "info"}, rest)

	rpcAuthToken = ""
	_, _, err = callRPC("escrow_markComplete", map[string]int{"orderId": 1}, true)
	require.ErrorContains(t, err, rpcTokenEnv)

	rpcAuthToken = "abc"
	result, rpcErr, err := callRPC("escrow_markComplete", map[string]int{"orderId": 1}, true)
	require.NoError(t, err)
	require.Nil(t, rpcErr)
	require.JSONEq(t, `{"ok":true}`, string(result))
	require.Equal(t, "Bearer abc", gotAuth)
	require.Equal(t, "escrow_markComplete", gotMethod)
}

func TestAuthTokenVerifiesAgainstServer(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	original := jwtSecret
	jwtSecret = func() (string, error) { return secret, nil }
	defer func() { jwtSecret = original }()

	code, stdout, stderr := runCLI("auth-token", "--subject", sellerHex, "--ttl", "10m")
	require.Equal(t, 0, code, stderr)
	token := strings.TrimSpace(stdout)

	auth := rpc.NewAuthenticator(rpc.AuthConfig{HMACSecret: secret, Issuer: "flyblox", Audience: "flyblox-rpc"})
	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	caller, rpcErr := auth.Authenticate(req)
	require.Nil(t, rpcErr)
	require.Equal(t, common.HexToAddress(sellerHex), caller)

	code, _, stderr = runCLI("auth-token")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--subject or --keystore is required")
}

func TestAccountKeystoreRoundTrip(t *testing.T) {
	originalN, originalP := crypto.ScryptN, crypto.ScryptP
	crypto.ScryptN, crypto.ScryptP = 1<<12, 6
	defer func() { crypto.ScryptN, crypto.ScryptP = originalN, originalP }()

	original := keystorePassphrase
	keystorePassphrase = func() (string, error) { return "correct horse", nil }
	defer func() { keystorePassphrase = original }()

	path := filepath.Join(t.TempDir(), "buyer.json")
	code, created, stderr := runCLI("account", "new", "--keystore", path)
	require.Equal(t, 0, code, stderr)
	require.True(t, common.IsHexAddress(strings.TrimSpace(created)))

	code, shown, stderr := runCLI("account", "show", "--keystore", path)
	require.Equal(t, 0, code, stderr)
	require.Equal(t, created, shown)

	code, _, stderr = runCLI("account", "new", "--keystore", path)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "already exists")
}

func orderPage(count uint64, ids ...uint64) rpc.OrdersResult {
	page := rpc.OrdersResult{Count: count}
	for _, id := range ids {
		page.Orders = append(page.Orders, rpc.OrderResult{
			OrderID:          id,
			Buyer:            "0x00000000000000000000000000000000000000B1",
			Seller:           sellerHex,
			Token:            tokenHex,
			Amount:           "100",
			DeliveryDeadline: 1_700_000_100,
			HoldingPeriod:    50,
			State:            "Created",
			CreatedAt:        1_700_000_000,
			UpdatedAt:        1_700_000_000,
		})
	}
	return page
}

func TestExportPagesThroughOrders(t *testing.T) {
	pages := []rpc.OrdersResult{orderPage(3, 1, 2), orderPage(3, 3)}
	var requested []float64
	original := rpcCall
	rpcCall = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		require.Equal(t, "escrow_orders", method)
		require.False(t, requireAuth)
		requested = append(requested, float64(params.(map[string]interface{})["from"].(uint64)))
		page := pages[0]
		pages = pages[1:]
		raw, err := json.Marshal(page)
		return raw, nil, err
	}
	defer func() { rpcCall = original }()

	out := filepath.Join(t.TempDir(), "orders.csv")
	code, _, stderr := runCLI("export", "--format", "csv", "--out", out, "--page-size", "2")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stderr, "exported 3 orders, sha256 ")
	require.Equal(t, []float64{1, 3}, requested)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "order_id,"))
	require.True(t, strings.HasPrefix(lines[3], "3,"))
}

func TestExportValidation(t *testing.T) {
	calls := stubRPC(t, nil, nil)
	code, _, stderr := runCLI("export", "--format", "parquet")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--out is required for parquet")

	code, _, stderr = runCLI("export", "--format", "xml")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--format must be")
	require.Empty(t, *calls)
}
