package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/cmd/internal/passphrase"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/config"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/crypto"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/rpc"
)

const keystorePassphraseEnv = "FLYBLOX_KEYSTORE_PASSPHRASE"

var (
	keystorePassphrase = passphrase.NewSource(keystorePassphraseEnv, "keystore passphrase").Get
	jwtSecret          = passphrase.NewSource(config.EnvJWTSecret, "RPC JWT secret").Get
	authNow            = time.Now
)

func runAccountCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, accountUsage())
		return 1
	}
	switch args[0] {
	case "new":
		return runAccountNew(args[1:], stdout, stderr)
	case "show":
		return runAccountShow(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown account subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, accountUsage())
		return 1
	}
}

func accountUsage() string {
	return strings.Join([]string{
		"Usage: flyblox-cli account <subcommand> [flags]",
		"  new --keystore PATH     create a key sealed with " + keystorePassphraseEnv + " or a prompt",
		"  show --keystore PATH    print the address held by a keystore",
	}, "\n")
}

func newAccountFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, accountUsage())
	}
	return fs
}

func runAccountNew(args []string, stdout, stderr io.Writer) int {
	fs := newAccountFlagSet("account new", stderr)
	path := fs.String("keystore", "", "keystore file to create")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(*path) == "" {
		return printError(stderr, "--keystore is required")
	}
	if _, err := os.Stat(*path); err == nil {
		return printError(stderr, fmt.Sprintf("%s already exists", *path))
	}
	secret, err := keystorePassphrase()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, fmt.Sprintf("generate key: %v", err))
	}
	if err := crypto.SaveToKeystore(*path, key, secret); err != nil {
		return printError(stderr, fmt.Sprintf("write keystore: %v", err))
	}
	fmt.Fprintln(stdout, key.Address().Hex())
	return 0
}

func loadKeystoreAddress(path string) (common.Address, error) {
	secret, err := keystorePassphrase()
	if err != nil {
		return common.Address{}, err
	}
	key, err := crypto.LoadFromKeystore(path, secret)
	if err != nil {
		return common.Address{}, fmt.Errorf("open keystore %s: %w", path, err)
	}
	return key.Address(), nil
}

func runAccountShow(args []string, stdout, stderr io.Writer) int {
	fs := newAccountFlagSet("account show", stderr)
	path := fs.String("keystore", "", "keystore file")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(*path) == "" {
		return printError(stderr, "--keystore is required")
	}
	addr, err := loadKeystoreAddress(*path)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, addr.Hex())
	return 0
}

// runAuthToken mints a bearer token binding the RPC caller to an address.
// The subject comes from --subject or from the address in --keystore.
func runAuthToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("auth-token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	subject := fs.String("subject", "", "caller address")
	keystorePath := fs.String("keystore", "", "derive the caller address from this keystore")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	issuer := fs.String("issuer", "flyblox", "JWT issuer")
	audience := fs.String("audience", "flyblox-rpc", "JWT audience")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if *ttl <= 0 {
		return printError(stderr, "--ttl must be positive")
	}

	var caller common.Address
	switch {
	case strings.TrimSpace(*subject) != "" && strings.TrimSpace(*keystorePath) != "":
		return printError(stderr, "use either --subject or --keystore")
	case strings.TrimSpace(*subject) != "":
		addr, err := crypto.ParseAddress(*subject)
		if err != nil {
			return printError(stderr, fmt.Sprintf("--subject: %v", err))
		}
		caller = addr
	case strings.TrimSpace(*keystorePath) != "":
		addr, err := loadKeystoreAddress(*keystorePath)
		if err != nil {
			return printError(stderr, err.Error())
		}
		caller = addr
	default:
		return printError(stderr, "--subject or --keystore is required")
	}

	secret, err := jwtSecret()
	if err != nil {
		return printError(stderr, err.Error())
	}
	token, err := rpc.IssueToken([]byte(secret), *issuer, *audience, caller, *ttl, authNow())
	if err != nil {
		return printError(stderr, fmt.Sprintf("sign token: %v", err))
	}
	fmt.Fprintln(stdout, token)
	return 0
}
