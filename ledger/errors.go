package ledger

import (
	"fmt"

	"github.com/stellar/go/clients/horizonclient"
)

// Kind classifies a failed Horizon call for retry policy decisions.
type Kind int

const (
	// KindTransport covers network-level failures before an HTTP status
	// was obtained. Always retryable.
	KindTransport Kind = iota
	// KindRateLimited is HTTP 429. Retryable with backoff.
	KindRateLimited
	// KindTimeout covers HTTP 504, 522 and 502: the submission outcome is
	// unknown and must be resolved later by transaction-hash lookup.
	KindTimeout
	// KindNotFound is HTTP 404.
	KindNotFound
	// KindTransaction is a ledger-level rejection carrying result codes.
	KindTransaction
	// KindHTTP is any other HTTP error without result codes.
	KindHTTP
)

// Error is a categorized Horizon failure.
type Error struct {
	Kind    Kind
	Status  int
	TxCode  string
	OpCodes []string
	cause   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTransaction:
		return fmt.Sprintf("horizon: transaction failed: %s", e.FailReason())
	case KindTimeout:
		return fmt.Sprintf("horizon: timeout (status %d)", e.Status)
	default:
		return fmt.Sprintf("horizon: request failed (status %d): %v", e.Status, e.cause)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the call may simply be repeated.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindRateLimited || e.Kind == KindTimeout
}

// TimeoutPending reports whether the submission outcome is unknown and a
// later transaction fetch must decide it.
func (e *Error) TimeoutPending() bool {
	return e.Kind == KindTimeout
}

// FailReason returns the first non-success operation code, falling back to
// the transaction-level code, falling back to "no_reason".
func (e *Error) FailReason() string {
	for _, code := range e.OpCodes {
		if code != "op_success" {
			return code
		}
	}
	if e.TxCode != "" {
		return e.TxCode
	}
	return "no_reason"
}

// safeTxCodes are sequencing and auth races that resolve on plain retry.
var safeTxCodes = map[string]bool{
	"tx_bad_seq":  true,
	"tx_bad_auth": true,
}

// SafeToRetrySubmit reports whether a failed submission left the submitted
// state machine untouched: timeouts are resolved later, sequencing and auth
// races are retried on the next tick.
func (e *Error) SafeToRetrySubmit() bool {
	if e.TimeoutPending() {
		return true
	}
	return e.Kind == KindTransaction && safeTxCodes[e.TxCode]
}

// Categorize wraps an error returned by the Horizon client into an *Error.
// A nil input stays nil.
func Categorize(err error) error {
	if err == nil {
		return nil
	}
	herr := horizonclient.GetError(err)
	if herr == nil {
		return &Error{Kind: KindTransport, cause: err}
	}

	e := &Error{Status: herr.Problem.Status, cause: err}
	switch herr.Problem.Status {
	case 429:
		e.Kind = KindRateLimited
		return e
	case 502, 504, 522:
		e.Kind = KindTimeout
		return e
	case 404:
		e.Kind = KindNotFound
		return e
	}

	if codes, cerr := herr.ResultCodes(); cerr == nil && codes != nil {
		e.Kind = KindTransaction
		e.TxCode = codes.TransactionCode
		e.OpCodes = codes.OperationCodes
		return e
	}

	e.Kind = KindHTTP
	return e
}

// IsNotFound reports whether err is a categorized 404.
func IsNotFound(err error) bool {
	le, ok := err.(*Error)
	return ok && le.Kind == KindNotFound
}
