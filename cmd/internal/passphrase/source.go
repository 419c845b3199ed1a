package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a secret once, from an environment variable or a terminal
// prompt, and caches it for later calls.
type Source struct {
	envVar string
	label  string

	lookupEnv   func(string) (string, bool)
	interactive func() bool
	read        func(prompt string) ([]byte, error)

	once  sync.Once
	value string
	err   error
}

// NewSource returns a source that checks envVar before prompting for label,
// e.g. "keystore passphrase" or "RPC JWT secret".
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "passphrase"
	}
	return &Source{
		envVar:      strings.TrimSpace(envVar),
		label:       label,
		lookupEnv:   os.LookupEnv,
		interactive: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		read:        readTerminal,
	}
}

func readTerminal(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(int(os.Stdin.Fd()))
}

// Get returns the cached value or resolves it on first use. A set environment
// variable is used verbatim. Blank values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := s.lookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !s.interactive() {
		if s.envVar != "" {
			return "", fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s required and no terminal available", s.label)
	}
	raw, err := s.read(fmt.Sprintf("Enter %s: ", s.label))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.label, err)
	}
	value := string(raw)
	if strings.TrimSpace(value) == "" {
		return "", errors.New(s.label + " cannot be empty")
	}
	return value, nil
}
