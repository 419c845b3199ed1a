package errors

import stderrors "errors"

// Failure kinds surfaced to callers of the escrow surface.
const (
	KindUnauthorized      = "Unauthorized"
	KindInvalidState      = "InvalidState"
	KindInvalidParameter  = "InvalidParameter"
	KindTransferFailed    = "TransferFailed"
	KindNotFound          = "NotFound"
	KindTimeoutNotReached = "TimeoutNotReached"
	KindConsentMissing    = "ConsentMissing"
	KindInternal          = "Internal"
)

var (
	ErrUnauthorized      = stderrors.New("unauthorized")
	ErrInvalidState      = stderrors.New("invalid state")
	ErrInvalidParameter  = stderrors.New("invalid parameter")
	ErrTransferFailed    = stderrors.New("transfer failed")
	ErrNotFound          = stderrors.New("not found")
	ErrTimeoutNotReached = stderrors.New("timeout not reached")
	ErrConsentMissing    = stderrors.New("consent missing")
	// ErrInternal marks consistency failures such as arithmetic overflow or a
	// custody balance that cannot cover a payout. These are never retried.
	ErrInternal = stderrors.New("internal consistency failure")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrUnauthorized, KindUnauthorized},
	{ErrInvalidState, KindInvalidState},
	{ErrInvalidParameter, KindInvalidParameter},
	{ErrTransferFailed, KindTransferFailed},
	{ErrNotFound, KindNotFound},
	{ErrTimeoutNotReached, KindTimeoutNotReached},
	{ErrConsentMissing, KindConsentMissing},
	{ErrInternal, KindInternal},
}

// KindOf reports the failure kind carried by err. Errors outside the
// taxonomy are treated as internal. A nil error has no kind.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range kinds {
		if stderrors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}
