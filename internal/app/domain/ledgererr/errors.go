// Package ledgererr defines the error taxonomy shared by the ledger
// services. Expected business conditions are carried as *Error values with
// a machine-readable kind; infrastructure failures stay ordinary wrapped
// errors and never carry a kind.
package ledgererr

import (
	"errors"
	"fmt"
)

// Kind classifies an expected business failure.
type Kind string

const (
	KindInvalidAmount     Kind = "invalid_amount"
	KindInvalidSource     Kind = "invalid_source"
	KindWalletNotFound    Kind = "wallet_not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindResourceBusy      Kind = "resource_busy"
	KindSelfTransfer      Kind = "self_transfer"
	KindSelfTransaction   Kind = "self_transaction"
	KindDuplicateSession  Kind = "duplicate_session"
	KindAlreadyResolved   Kind = "already_resolved"
	KindNotFound          Kind = "not_found"
	KindSeedNotFound      Kind = "seed_not_found"
	KindLedgerFrozen      Kind = "ledger_frozen"
)

// Error is a structured business failure. Funds-related kinds carry the
// exact balance, requirement and shortfall observed at decision time.
type Error struct {
	Kind    Kind
	Message string

	Balance   int64
	Required  int64
	Shortfall int64
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports kind equality so call sites can use errors.Is against
// kind-template values.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf returns the kind of err, or the empty kind when err is not a
// business failure.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// Retryable reports whether the caller may simply retry the operation.
// Only lock contention qualifies.
func Retryable(err error) bool {
	return KindOf(err) == KindResourceBusy
}

// New builds a generic business failure of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidAmount rejects a non-positive amount.
func InvalidAmount(amount int64) *Error {
	return &Error{Kind: KindInvalidAmount, Message: fmt.Sprintf("amount must be a positive integer, got %d", amount)}
}

// InvalidSource rejects a source tag that is not allowed for the
// operation's direction.
func InvalidSource(source, direction string) *Error {
	return &Error{Kind: KindInvalidSource, Message: fmt.Sprintf("source %q is not valid for %s operations", source, direction)}
}

// WalletNotFound reports a debit against a wallet that was never created.
func WalletNotFound(owner string) *Error {
	return &Error{Kind: KindWalletNotFound, Message: fmt.Sprintf("wallet for owner %s does not exist", owner)}
}

// InsufficientFunds reports the exact shortfall at decision time.
func InsufficientFunds(owner string, balance, required int64) *Error {
	return &Error{
		Kind:      KindInsufficientFunds,
		Message:   fmt.Sprintf("owner %s has %d, requires %d (short %d)", owner, balance, required, required-balance),
		Balance:   balance,
		Required:  required,
		Shortfall: required - balance,
	}
}

// ResourceBusy reports non-blocking lock contention on a wallet row.
func ResourceBusy(owner string) *Error {
	return &Error{Kind: KindResourceBusy, Message: fmt.Sprintf("wallet row for %s is locked by another operation", owner)}
}

// LedgerFrozen rejects mutations while the reconciliation freeze is set.
func LedgerFrozen(reason string) *Error {
	return &Error{Kind: KindLedgerFrozen, Message: fmt.Sprintf("ledger is frozen: %s", reason)}
}
