// Package syncer runs the periodic chain-reconciliation timer (spec.md
// §4.H), grounded on the teacher's retry_worker.go ticker+ctx idiom.
package syncer

import (
	"context"
	"time"

	"github.com/klingon-exchange/bridgewallet/internal/config"
	"github.com/klingon-exchange/bridgewallet/pkg/logging"
)

// Syncer reconciler is invoked once per tick. Errors are logged, never
// propagated (spec.md §4.H): the next tick retries.
type Syncer struct {
	interval time.Duration
	sync     func(ctx context.Context) error
	log      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Syncer that calls sync every interval. Pass a zero
// interval to use the spec default (config.SyncInterval).
func New(interval time.Duration, sync func(ctx context.Context) error) *Syncer {
	if interval <= 0 {
		interval = config.SyncInterval
	}
	return &Syncer{
		interval: interval,
		sync:     sync,
		log:      logging.GetDefault().Component("syncer"),
		done:     make(chan struct{}),
	}
}

// Start launches the background ticker loop.
func (s *Syncer) Start(parent context.Context) {
	s.ctx, s.cancel = context.WithCancel(parent)
	go s.run()
}

// Stop cancels the loop and blocks until it exits (spec.md §5 disconnect
// contract).
func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Syncer) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.sync(s.ctx); err != nil {
				s.log.Warn("periodic sync failed, will retry next tick", "error", err)
			}
		}
	}
}
