package engine

import "errors"

// Error taxonomy raised by the engine upward to the façade (spec.md §7).
// pkg/bridgewallet wraps these into the public bridgewallet.Error type.
var (
	ErrInvalidInvoice       = errors.New("engine: invalid invoice")
	ErrAmountOutOfRange     = errors.New("engine: amount out of range")
	ErrPairsNotFound        = errors.New("engine: swapper did not quote this pair")
	ErrInvalidOrExpiredFees = errors.New("engine: fee snapshot no longer matches a fresh quote")
	ErrInsufficientFunds    = errors.New("engine: insufficient funds")
	ErrInvalidPreimage      = errors.New("engine: preimage does not match payment hash")
	ErrAlreadyClaimed       = errors.New("engine: swap already claimed")
	ErrSignerError          = errors.New("engine: signer error")
	ErrSendError            = errors.New("engine: send error")
	ErrPersistError         = errors.New("engine: persist error")
)

// RefundedError reports that a send swap failed but its lockup is being
// returned via refund_tx_id (spec.md §7 Refunded{err, refund_tx_id}).
type RefundedError struct {
	Err        error
	RefundTxID string
}

func (e *RefundedError) Error() string {
	return "engine: swap refunded: " + e.Err.Error()
}

func (e *RefundedError) Unwrap() error { return e.Err }
