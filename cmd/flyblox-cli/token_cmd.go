package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/crypto"
)

func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, tokenUsage())
		return 1
	}
	switch args[0] {
	case "balance":
		return runTokenBalance(args[1:], stdout, stderr)
	case "allowance":
		return runTokenAllowance(args[1:], stdout, stderr)
	case "approve":
		return runTokenApprove(args[1:], stdout, stderr)
	case "mint":
		return runTokenMint(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown token subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, tokenUsage())
		return 1
	}
}

func tokenUsage() string {
	return strings.Join([]string{
		"Usage: flyblox-cli token <subcommand> [flags]",
		"  balance --token ADDR --owner ADDR",
		"  allowance --token ADDR --owner ADDR [--spender ADDR]   spender defaults to the escrow vault",
		"  approve --token ADDR --amount N [--spender ADDR]       approve the escrow vault by default",
		"  mint --token ADDR --to ADDR --amount N                 registry owner only",
	}, "\n")
}

func newTokenFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, tokenUsage())
	}
	return fs
}

func requireAddress(flagName, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", flagName)
	}
	if _, err := crypto.ParseAddress(trimmed); err != nil {
		return "", fmt.Errorf("%s: %v", flagName, err)
	}
	return trimmed, nil
}

func runTokenBalance(args []string, stdout, stderr io.Writer) int {
	fs := newTokenFlagSet("token balance", stderr)
	token := fs.String("token", "", "token address")
	owner := fs.String("owner", "", "account address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	tokenAddr, err := requireAddress("--token", *token)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ownerAddr, err := requireAddress("--owner", *owner)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke(stdout, stderr, "token_balanceOf", map[string]interface{}{"token": tokenAddr, "owner": ownerAddr}, false)
}

func runTokenAllowance(args []string, stdout, stderr io.Writer) int {
	fs := newTokenFlagSet("token allowance", stderr)
	token := fs.String("token", "", "token address")
	owner := fs.String("owner", "", "account address")
	spender := fs.String("spender", "", "spender address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	tokenAddr, err := requireAddress("--token", *token)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ownerAddr, err := requireAddress("--owner", *owner)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := map[string]interface{}{"token": tokenAddr, "owner": ownerAddr}
	if strings.TrimSpace(*spender) != "" {
		spenderAddr, err := requireAddress("--spender", *spender)
		if err != nil {
			return printError(stderr, err.Error())
		}
		params["spender"] = spenderAddr
	}
	return invoke(stdout, stderr, "token_allowance", params, false)
}

func runTokenApprove(args []string, stdout, stderr io.Writer) int {
	fs := newTokenFlagSet("token approve", stderr)
	token := fs.String("token", "", "token address")
	spender := fs.String("spender", "", "spender address")
	amount := fs.String("amount", "", "allowance in base units")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	tokenAddr, err := requireAddress("--token", *token)
	if err != nil {
		return printError(stderr, err.Error())
	}
	normalized, err := normalizeAmount(*amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := map[string]interface{}{"token": tokenAddr, "amount": normalized}
	if strings.TrimSpace(*spender) != "" {
		spenderAddr, err := requireAddress("--spender", *spender)
		if err != nil {
			return printError(stderr, err.Error())
		}
		params["spender"] = spenderAddr
	}
	return invoke(stdout, stderr, "token_approve", params, true)
}

func runTokenMint(args []string, stdout, stderr io.Writer) int {
	fs := newTokenFlagSet("token mint", stderr)
	token := fs.String("token", "", "token address")
	to := fs.String("to", "", "recipient address")
	amount := fs.String("amount", "", "amount in base units")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	tokenAddr, err := requireAddress("--token", *token)
	if err != nil {
		return printError(stderr, err.Error())
	}
	toAddr, err := requireAddress("--to", *to)
	if err != nil {
		return printError(stderr, err.Error())
	}
	normalized, err := normalizeAmount(*amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke(stdout, stderr, "token_mint", map[string]interface{}{"token": tokenAddr, "to": toAddr, "amount": normalized}, true)
}
