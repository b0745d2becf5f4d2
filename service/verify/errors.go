package verify

import (
	"errors"
	"fmt"
)

// Reason identifies why a purchase verification was rejected. Every rejection
// carries exactly one reason so callers can distinguish them for support and
// debugging; no reason is ever silently swallowed.
type Reason string

const (
	ReasonInvalidTier            Reason = "invalid_tier"
	ReasonTransactionNotFound    Reason = "transaction_not_found"
	ReasonTransactionFailed      Reason = "transaction_failed"
	ReasonProgramNotInvolved     Reason = "program_not_involved"
	ReasonVaultNotInTransaction  Reason = "vault_not_in_transaction"
	ReasonAmountMismatch         Reason = "amount_mismatch"
	ReasonIncorrectPaymentAmount Reason = "incorrect_payment_amount"
	ReasonCreditsMismatch        Reason = "credits_mismatch"
	ReasonMalformedInstruction   Reason = "malformed_instruction"
	ReasonNoMatchingInstruction  Reason = "no_matching_instruction"
)

// RejectionError is a terminal business rejection. It never warrants an
// automatic retry and never mutates the ledger.
type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("purchase rejected: %s", e.Reason)
	}
	return fmt.Sprintf("purchase rejected (%s): %s", e.Reason, e.Detail)
}

// Reject builds a RejectionError with a formatted detail message.
func Reject(reason Reason, format string, args ...any) *RejectionError {
	return &RejectionError{
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
	}
}

// AsRejection unwraps err as a RejectionError, if it is one.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// ChainReadError is a transient failure talking to the chain (RPC timeout,
// malformed response, partial data). It is safe to retry with backoff since
// no ledger mutation has occurred.
type ChainReadError struct {
	Err error
}

func (e *ChainReadError) Error() string {
	return fmt.Sprintf("chain read failure: %v", e.Err)
}

func (e *ChainReadError) Unwrap() error {
	return e.Err
}

// IsChainRead reports whether err is a transient chain read failure.
func IsChainRead(err error) bool {
	var cre *ChainReadError
	return errors.As(err, &cre)
}
