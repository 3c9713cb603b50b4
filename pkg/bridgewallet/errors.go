package bridgewallet

import (
	"errors"
	"fmt"

	"github.com/klingon-exchange/bridgewallet/internal/engine"
)

// Kind enumerates the façade error taxonomy (spec.md §7).
type Kind string

const (
	KindInvalidInvoice    Kind = "invalid_invoice"
	KindAmountOutOfRange  Kind = "amount_out_of_range"
	KindPairsNotFound     Kind = "pairs_not_found"
	KindInvalidOrExpFees  Kind = "invalid_or_expired_fees"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindInvalidPreimage   Kind = "invalid_preimage"
	KindAlreadyClaimed    Kind = "already_claimed"
	KindRefunded          Kind = "refunded"
	KindSignerError       Kind = "signer_error"
	KindSendError         Kind = "send_error"
	KindPersistError      Kind = "persist_error"
	KindGeneric           Kind = "generic"
)

// Error is the public façade error, wrapping an engine sentinel into the
// taxonomy spec.md §7 describes. RefundTxID is only set for KindRefunded.
type Error struct {
	Kind       Kind
	Err        error
	RefundTxID string
}

func (e *Error) Error() string {
	if e.RefundTxID != "" {
		return fmt.Sprintf("bridgewallet: %s: %v (refund_tx_id=%s)", e.Kind, e.Err, e.RefundTxID)
	}
	return fmt.Sprintf("bridgewallet: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrapErr translates an internal engine error into the façade taxonomy.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}

	var refunded *engine.RefundedError
	if errors.As(err, &refunded) {
		return &Error{Kind: KindRefunded, Err: refunded.Err, RefundTxID: refunded.RefundTxID}
	}

	switch {
	case errors.Is(err, engine.ErrInvalidInvoice):
		return &Error{Kind: KindInvalidInvoice, Err: err}
	case errors.Is(err, engine.ErrAmountOutOfRange):
		return &Error{Kind: KindAmountOutOfRange, Err: err}
	case errors.Is(err, engine.ErrPairsNotFound):
		return &Error{Kind: KindPairsNotFound, Err: err}
	case errors.Is(err, engine.ErrInvalidOrExpiredFees):
		return &Error{Kind: KindInvalidOrExpFees, Err: err}
	case errors.Is(err, engine.ErrInsufficientFunds):
		return &Error{Kind: KindInsufficientFunds, Err: err}
	case errors.Is(err, engine.ErrInvalidPreimage):
		return &Error{Kind: KindInvalidPreimage, Err: err}
	case errors.Is(err, engine.ErrAlreadyClaimed):
		return &Error{Kind: KindAlreadyClaimed, Err: err}
	case errors.Is(err, engine.ErrSignerError):
		return &Error{Kind: KindSignerError, Err: err}
	case errors.Is(err, engine.ErrSendError):
		return &Error{Kind: KindSendError, Err: err}
	case errors.Is(err, engine.ErrPersistError):
		return &Error{Kind: KindPersistError, Err: err}
	default:
		return &Error{Kind: KindGeneric, Err: err}
	}
}
