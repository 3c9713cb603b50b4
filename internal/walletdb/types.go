package walletdb

import (
	"errors"
	"time"
)

// Persister errors (spec.md §4.A).
var (
	ErrSwapExists       = errors.New("walletdb: swap already exists")
	ErrSwapNotFound     = errors.New("walletdb: swap not found")
	ErrInvalidState     = errors.New("walletdb: invalid state transition")
	ErrDecodeFailed     = errors.New("walletdb: failed to decode stored blob")
)

// PaymentState is shared by SendSwap and ReceiveSwap (spec.md §3).
type PaymentState string

const (
	StateCreated  PaymentState = "created"
	StatePending  PaymentState = "pending"
	StateComplete PaymentState = "complete"
	StateFailed   PaymentState = "failed"
)

// ValidTransition enforces the invariants in spec.md §3:
//   - no transition *into* Created is permitted
//   - Complete/Failed are terminal except "_ -> Failed" is always allowed
//   - Pending -> Pending is allowed
//   - Complete -> Pending, Failed -> Pending, Complete -> Complete,
//     Failed -> Complete are forbidden
func ValidTransition(from, to PaymentState) bool {
	if to == StateCreated {
		return false
	}
	if to == StateFailed {
		return true
	}
	switch from {
	case StateCreated:
		return to == StatePending || to == StateComplete
	case StatePending:
		return to == StatePending || to == StateComplete
	case StateComplete, StateFailed:
		return false
	default:
		return false
	}
}

// PaymentType distinguishes the direction of a Liquid transaction.
type PaymentType string

const (
	PaymentTypeSend    PaymentType = "send"
	PaymentTypeReceive PaymentType = "receive"
)

// SendSwap is a submarine (Liquid-out, Lightning-in) swap record.
type SendSwap struct {
	ID                 string
	Invoice             string
	PayerAmountSat      uint64
	ReceiverAmountSat   uint64
	CreateResponseBlob  []byte
	LockupTxID          *string
	RefundTxID          *string
	Preimage            *string
	State               PaymentState
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ReceiveSwap is a reverse submarine (Liquid-in, Lightning-out) swap record.
type ReceiveSwap struct {
	ID                 string
	Preimage            string
	CreateResponseBlob  []byte
	Invoice             string
	PayerAmountSat      uint64
	ReceiverAmountSat   uint64
	ClaimFeesSat        uint64
	ClaimTxID           *string
	State               PaymentState
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PaymentTxData is one row per distinct Liquid tx observed (lockup, claim,
// refund).
type PaymentTxData struct {
	TxID         string
	Timestamp    *time.Time
	AmountSat    uint64
	PaymentType  PaymentType
	IsConfirmed  bool
}

// Payment is the derived view returned by list_payments (spec.md §3).
type Payment struct {
	TxID                string
	SwapID              *string
	Timestamp           *time.Time
	AmountSat           uint64
	FeesSat             *uint64
	Preimage            *string
	RefundTxID          *string
	RefundTxAmountSat   *uint64
	PaymentType         PaymentType
	Status              PaymentState
}

func ptr[T any](v T) *T { return &v }

func unixPtr(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func timePtr(unix int64) *time.Time {
	if unix == 0 {
		return nil
	}
	t := time.Unix(unix, 0)
	return &t
}
