// Package errors provides structured error handling for mwcbridge.
// It defines the error kinds every bridge operation reports, the CLI exit
// codes they map to, and helpers for attaching details and suggestions.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"maps"
	"sort"
)

// Exit codes returned by the CLI.
const (
	ExitSuccess    = 0 // Successful execution
	ExitGeneral    = 1 // General/unknown error
	ExitInput      = 2 // Invalid input or malformed slate
	ExitAuth       = 3 // Authentication or decryption failed
	ExitNotFound   = 4 // Wallet or transaction not found
	ExitPermission = 5 // Insufficient funds
	ExitState      = 6 // Illegal state transition or busy resource
	ExitNetwork    = 7 // Node or relay unreachable
)

// BridgeError is the structured error type returned by every public operation.
type BridgeError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for the user
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI
}

func (e *BridgeError) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// Is matches any BridgeError carrying the same code.
func (e *BridgeError) Is(target error) bool {
	var t *BridgeError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Error kinds.
var (
	ErrGeneral = &BridgeError{
		Code:     "GENERAL_ERROR",
		Message:  "an error occurred",
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &BridgeError{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		ExitCode: ExitInput,
	}

	// ErrAuth reports a bad password or credentials.
	ErrAuth = &BridgeError{
		Code:     "AUTH_FAILED",
		Message:  "authentication failed - wrong password or corrupted wallet file",
		ExitCode: ExitAuth,
	}

	ErrNotFound = &BridgeError{
		Code:     "NOT_FOUND",
		Message:  "resource not found",
		ExitCode: ExitNotFound,
	}

	ErrInsufficientFunds = &BridgeError{
		Code:     "INSUFFICIENT_FUNDS",
		Message:  "insufficient spendable funds for transaction",
		ExitCode: ExitPermission,
	}

	// ErrInvalidState reports a transition attempted from an illegal state.
	ErrInvalidState = &BridgeError{
		Code:     "INVALID_STATE",
		Message:  "illegal slate state transition",
		ExitCode: ExitState,
	}

	// ErrInvalidSlate reports a malformed, duplicate or stale slate.
	ErrInvalidSlate = &BridgeError{
		Code:     "INVALID_SLATE",
		Message:  "invalid slate",
		ExitCode: ExitInput,
	}

	// ErrValidation reports a finalized transaction that does not verify.
	ErrValidation = &BridgeError{
		Code:     "VALIDATION_FAILED",
		Message:  "transaction failed validation",
		ExitCode: ExitInput,
	}

	ErrDecrypt = &BridgeError{
		Code:     "DECRYPT_FAILED",
		Message:  "unable to decrypt slatepack with the supplied key",
		ExitCode: ExitAuth,
	}

	// ErrBusy reports a resource lifecycle conflict.
	ErrBusy = &BridgeError{
		Code:     "BUSY",
		Message:  "resource is busy",
		ExitCode: ExitState,
	}

	ErrNetwork = &BridgeError{
		Code:     "NETWORK_ERROR",
		Message:  "network communication failed",
		ExitCode: ExitNetwork,
	}

	// Wallet-specific errors.
	ErrWalletNotFound = &BridgeError{
		Code:     "WALLET_NOT_FOUND",
		Message:  "wallet not found",
		ExitCode: ExitNotFound,
	}

	ErrWalletExists = &BridgeError{
		Code:     "WALLET_EXISTS",
		Message:  "wallet already exists",
		ExitCode: ExitInput,
	}

	ErrInvalidMnemonic = &BridgeError{
		Code:     "INVALID_MNEMONIC",
		Message:  "invalid mnemonic phrase",
		ExitCode: ExitInput,
	}

	ErrSessionClosed = &BridgeError{
		Code:     "SESSION_CLOSED",
		Message:  "wallet session is closed",
		ExitCode: ExitState,
	}

	// Transaction-specific errors.
	ErrTransactionNotFound = &BridgeError{
		Code:     "TX_NOT_FOUND",
		Message:  "transaction not found",
		ExitCode: ExitNotFound,
	}

	ErrInvalidAmount = &BridgeError{
		Code:     "INVALID_AMOUNT",
		Message:  "invalid amount",
		ExitCode: ExitInput,
	}

	ErrInvalidAddress = &BridgeError{
		Code:     "INVALID_ADDRESS",
		Message:  "invalid address format",
		ExitCode: ExitInput,
	}

	// Config-specific errors.
	ErrConfigInvalid = &BridgeError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration is invalid",
		ExitCode: ExitInput,
	}
)

// New creates a new BridgeError with the given code and message.
func New(code, message string) *BridgeError {
	return &BridgeError{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// Wrap wraps an error with additional context, keeping its code.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var be *BridgeError
	if errors.As(err, &be) {
		return &BridgeError{
			Code:       be.Code,
			Message:    fmt.Sprintf("%s: %s", msg, be.Message),
			Details:    be.Details,
			Suggestion: be.Suggestion,
			Cause:      be.Cause,
			ExitCode:   be.ExitCode,
		}
	}

	return &BridgeError{
		Code:     ErrGeneral.Code,
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// Kind attaches cause to the error kind, producing "<kind message>: <cause>".
// It is the usual way to surface a lower-level failure as a bridge error.
func Kind(kind *BridgeError, cause error) error {
	return &BridgeError{
		Code:       kind.Code,
		Message:    kind.Message,
		Details:    kind.Details,
		Suggestion: kind.Suggestion,
		Cause:      cause,
		ExitCode:   kind.ExitCode,
	}
}

// Kindf is Kind with a formatted cause.
func Kindf(kind *BridgeError, format string, args ...any) error {
	return Kind(kind, fmt.Errorf(format, args...))
}

// WithDetails merges details into an error.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var be *BridgeError
	if errors.As(err, &be) {
		merged := make(map[string]string, len(be.Details)+len(details))
		maps.Copy(merged, be.Details)
		maps.Copy(merged, details)
		return &BridgeError{
			Code:       be.Code,
			Message:    be.Message,
			Details:    merged,
			Suggestion: be.Suggestion,
			Cause:      be.Cause,
			ExitCode:   be.ExitCode,
		}
	}

	return &BridgeError{
		Code:     ErrGeneral.Code,
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var be *BridgeError
	if errors.As(err, &be) {
		return &BridgeError{
			Code:       be.Code,
			Message:    be.Message,
			Details:    be.Details,
			Suggestion: suggestion,
			Cause:      be.Cause,
			ExitCode:   be.ExitCode,
		}
	}

	return &BridgeError{
		Code:       ErrGeneral.Code,
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var be *BridgeError
	if errors.As(err, &be) {
		return be.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Code
	}
	return ErrGeneral.Code
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
