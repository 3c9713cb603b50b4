package engine

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/bridgewallet/internal/config"
)

// EstimateLockupFee implements §4.F.7: because the real swap-script
// lockup output cannot yet be constructed by the WalletBackend for all
// output flavours, build a throwaway PSET to a baked-in sentinel address
// of the correct output type and estimate the lockup fee as that PSET's
// byte length times config.MinClaimFeerate (at least 1 sat). No fee is
// read from the built transaction. The sentinel address is never
// broadcast to, so this leaks no funds.
func (e *Engine) EstimateLockupFee(ctx context.Context, amountSat uint64) (uint64, error) {
	sentinel, err := config.SentinelAddress(e.network)
	if err != nil {
		return 0, fmt.Errorf("engine: %w", err)
	}

	var pset *PSET
	err = e.withWallet(func(w WalletBackend) error {
		p, err := w.BuildPSET(ctx, sentinel, amountSat)
		if err != nil {
			return err
		}
		pset = p
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: build sentinel pset: %v", ErrSignerError, err)
	}

	// The estimate is proportional to the unsigned PSET size at the
	// network's minimum claim feerate (spec.md Non-goals: no fee market
	// estimation, a constant minimum feerate is used).
	sizeVBytes := len(pset.Blob)
	fee := uint64(float32(sizeVBytes) * config.MinClaimFeerate)
	if fee == 0 {
		fee = 1
	}
	return fee, nil
}
