package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/crypto"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/escrow"
)

var escrowNow = time.Now

// orderTransitions maps subcommands that only need an order id to their method.
var orderTransitions = map[string]string{
	"complete":         "escrow_markComplete",
	"complete-release": "escrow_markCompleteAndReleaseFundsToSeller",
	"release-to-buyer": "escrow_releaseFundsToBuyer",
	"claim-from-buyer": "escrow_claimFundsFromBuyer",
	"claim":            "escrow_claimFundsFromContract",
	"accept-refund":    "escrow_acceptRefund",
	"refund":           "escrow_refund",
	"accept-extension": "escrow_sellerAcceptIncHoldingTime",
	"dispute":          "escrow_disputeOrder",
}

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
	if method, ok := orderTransitions[args[0]]; ok {
		return runEscrowTransition(args[0], method, args[1:], stdout, stderr)
	}
	switch args[0] {
	case "create":
		return runEscrowCreate(args[1:], stdout, stderr)
	case "request-extension":
		return runEscrowExtension("request-extension", "escrow_buyerIncHoldingTime", args[1:], stdout, stderr)
	case "extend":
		return runEscrowExtension("extend", "escrow_incHoldingTime", args[1:], stdout, stderr)
	case "resolve":
		return runEscrowResolve(args[1:], stdout, stderr)
	case "get":
		return runEscrowGet(args[1:], stdout, stderr)
	case "list":
		return runEscrowList(args[1:], stdout, stderr)
	case "events":
		return runEscrowEvents(args[1:], stdout, stderr)
	case "allow-token":
		return runEscrowAllowToken(args[1:], stdout, stderr)
	case "token-allowed":
		return runEscrowTokenAllowed(args[1:], stdout, stderr)
	case "solvency":
		return invoke(stdout, stderr, "escrow_checkSolvency", nil, false)
	case "info":
		return invoke(stdout, stderr, "escrow_info", nil, false)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
}

func escrowUsage() string {
	return strings.Join([]string{
		"Usage: flyblox-cli escrow <subcommand> [flags]",
		"",
		"Buyer:",
		"  create --seller ADDR --token ADDR --amount N --deadline +72h|RFC3339 --holding 7d",
		"  complete-release --id N      confirm delivery and pay the seller",
		"  accept-refund --id N         accept the seller's refund offer",
		"  request-extension --id N --extra 48h",
		"  dispute --id N",
		"Seller:",
		"  complete --id N              mark the order delivered",
		"  release-to-buyer --id N      return the funds to the buyer",
		"  claim-from-buyer --id N      collect after the holding period",
		"  refund --id N                offer or execute a refund",
		"  accept-extension --id N",
		"  extend --id N --extra 48h    one-step extension when consent is off",
		"Buyer or seller:",
		"  claim --id N                 collect the amount owed by the terminal state",
		"Arbiter:",
		"  resolve --id N --outcome release|refund",
		"Owner:",
		"  allow-token --token ADDR [--allowed=false]",
		"Read:",
		"  get --id N | list [--from N] [--limit N] | events [--id N] [--type T] [--after SEQ]",
		"  token-allowed --token ADDR | solvency | info",
	}, "\n")
}

func newEscrowFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, escrowUsage())
	}
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func runEscrowCreate(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow create", stderr)
	var seller, token, amount, deadline, holding string
	fs.StringVar(&seller, "seller", "", "seller address")
	fs.StringVar(&token, "token", "", "payment token address")
	fs.StringVar(&amount, "amount", "", "amount in base units (supports 100e18 shorthand)")
	fs.StringVar(&deadline, "deadline", "", "delivery deadline as +duration, RFC3339 or unix seconds")
	fs.StringVar(&holding, "holding", "", "holding period as a duration (72h, 7d) or seconds")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if seller == "" {
		return printError(stderr, "--seller is required")
	}
	if _, err := crypto.ParseAddress(seller); err != nil {
		return printError(stderr, fmt.Sprintf("--seller: %v", err))
	}
	if token == "" {
		return printError(stderr, "--token is required")
	}
	if _, err := crypto.ParseAddress(token); err != nil {
		return printError(stderr, fmt.Sprintf("--token: %v", err))
	}
	normalized, err := normalizeAmount(amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	deadlineUnix, err := parseDeadline(deadline, escrowNow())
	if err != nil {
		return printError(stderr, err.Error())
	}
	holdingSeconds, err := parseSeconds("--holding", holding)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"seller":           strings.TrimSpace(seller),
		"deliveryDeadline": deadlineUnix,
		"holdingPeriod":    holdingSeconds,
		"token":            strings.TrimSpace(token),
		"amount":           normalized,
	}
	return invoke(stdout, stderr, "escrow_createAndDeposit", params, true)
}

func orderIDFlag(fs *flag.FlagSet) *string {
	return fs.String("id", "", "order identifier")
}

func parseOrderID(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--id is required")
	}
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("--id must be a positive integer")
	}
	return id, nil
}

func runEscrowTransition(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow "+name, stderr)
	idStr := orderIDFlag(fs)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	id, err := parseOrderID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke(stdout, stderr, method, map[string]interface{}{"orderId": id}, true)
}

func runEscrowExtension(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow "+name, stderr)
	idStr := orderIDFlag(fs)
	extra := fs.String("extra", "", "additional holding time as a duration or seconds")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	id, err := parseOrderID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	seconds, err := parseSeconds("--extra", *extra)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke(stdout, stderr, method, map[string]interface{}{"orderId": id, "extraSeconds": seconds}, true)
}

func runEscrowResolve(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow resolve", stderr)
	idStr := orderIDFlag(fs)
	outcome := fs.String("outcome", "", "release (pay seller) or refund (pay buyer)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	id, err := parseOrderID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	resolution, err := escrow.ParseResolution(*outcome)
	if err != nil {
		return printError(stderr, "--outcome must be release or refund")
	}
	return invoke(stdout, stderr, "escrow_resolveDispute", map[string]interface{}{"orderId": id, "outcome": string(resolution)}, true)
}

func runEscrowGet(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow get", stderr)
	idStr := orderIDFlag(fs)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	id, err := parseOrderID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke(stdout, stderr, "escrow_orderDetails", map[string]interface{}{"orderId": id}, false)
}

func runEscrowList(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow list", stderr)
	from := fs.Uint64("from", 1, "first order identifier")
	limit := fs.Int("limit", 100, "maximum orders to return")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if *limit <= 0 {
		return printError(stderr, "--limit must be positive")
	}
	return invoke(stdout, stderr, "escrow_orders", map[string]interface{}{"from": *from, "limit": *limit}, false)
}

func runEscrowEvents(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow events", stderr)
	id := fs.Uint64("id", 0, "only events of this order")
	eventType := fs.String("type", "", "only events of this type, e.g. escrow.order.released")
	after := fs.Uint64("after", 0, "sequence cursor")
	limit := fs.Int("limit", 100, "maximum events to return")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	params := map[string]interface{}{"after": *after, "limit": *limit}
	if *id != 0 {
		params["orderId"] = *id
	}
	if t := strings.TrimSpace(*eventType); t != "" {
		params["type"] = t
	}
	return invoke(stdout, stderr, "escrow_orderEvents", params, false)
}

func runEscrowAllowToken(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow allow-token", stderr)
	token := fs.String("token", "", "token address")
	allowed := fs.Bool("allowed", true, "whether the token may be used for new orders")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if _, err := crypto.ParseAddress(*token); err != nil {
		return printError(stderr, fmt.Sprintf("--token: %v", err))
	}
	return invoke(stdout, stderr, "escrow_updateTokensList", map[string]interface{}{"token": strings.TrimSpace(*token), "allowed": *allowed}, true)
}

func runEscrowTokenAllowed(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow token-allowed", stderr)
	token := fs.String("token", "", "token address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if _, err := crypto.ParseAddress(*token); err != nil {
		return printError(stderr, fmt.Sprintf("--token: %v", err))
	}
	return invoke(stdout, stderr, "escrow_isTokenAllowed", map[string]interface{}{"token": strings.TrimSpace(*token)}, false)
}

// normalizeAmount accepts plain base units or the 100e18 shorthand and
// returns the decimal string.
func normalizeAmount(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("--amount is required")
	}
	mantissa, exponent := trimmed, uint64(0)
	if idx := strings.IndexAny(trimmed, "eE"); idx >= 0 {
		exp, err := strconv.ParseUint(trimmed[idx+1:], 10, 8)
		if err != nil || exp > 77 {
			return "", fmt.Errorf("--amount has an invalid exponent")
		}
		mantissa, exponent = trimmed[:idx], exp
	}
	amount, err := uint256.FromDecimal(mantissa)
	if err != nil {
		return "", fmt.Errorf("--amount must be a non-negative integer")
	}
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(exponent))
	if _, overflow := amount.MulOverflow(amount, scale); overflow {
		return "", fmt.Errorf("--amount overflows 256 bits")
	}
	if amount.IsZero() {
		return "", fmt.Errorf("--amount must be positive")
	}
	return amount.Dec(), nil
}

func parseDeadline(value string, now time.Time) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--deadline is required")
	}
	if strings.HasPrefix(trimmed, "+") {
		dur, err := parseDuration(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return 0, fmt.Errorf("--deadline: %w", err)
		}
		if dur <= 0 {
			return 0, fmt.Errorf("--deadline duration must be positive")
		}
		return now.Add(dur).Unix(), nil
	}
	if unix, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return unix, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("--deadline must be +duration, RFC3339 or unix seconds")
	}
	return ts.Unix(), nil
}

// parseSeconds accepts whole seconds or a duration such as 72h or 7d.
func parseSeconds(flagName, value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("%s is required", flagName)
	}
	if secs, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("%s must be positive", flagName)
		}
		return secs, nil
	}
	dur, err := parseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", flagName, err)
	}
	if dur < time.Second {
		return 0, fmt.Errorf("%s must be at least one second", flagName)
	}
	return int64(dur / time.Second), nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("invalid duration")
	}
	if strings.HasSuffix(value, "d") || strings.HasSuffix(value, "D") {
		days, err := strconv.ParseFloat(value[:len(value)-1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return dur, nil
}
