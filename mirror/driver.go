package mirror

import (
	"context"
	"time"

	sglog "github.com/sourcegraph/log"
)

// The three drivers below share one shape: check the advisory gate, run one
// iteration, then sleep. A failed iteration is only logged; the next tick is
// the retry mechanism. With RunAsOnce the driver returns after the first
// iteration without sleeping.

// StartMirroring loops PerformMirroring every delay. It skips its body while
// an integrity check is running.
func (t *Task) StartMirroring(ctx context.Context, delay time.Duration) {
	t.logger.Info("Starting mirroring task", sglog.Duration("delay", delay))
	for {
		if !t.checkingIntegrity() {
			t.mu.Lock()
			t.status.LastCheckedAt = now()
			t.mu.Unlock()
			if err := t.PerformMirroring(ctx); err != nil {
				t.logger.Error("mirroring iteration failed", sglog.Error(err))
			}
		}
		if t.RunAsOnce {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// StartPartialIntegrityCheck loops PerformPartialIntegrityCheck every delay.
// It skips its body while the mirror stage is fetching or converting.
func (t *Task) StartPartialIntegrityCheck(ctx context.Context, delay time.Duration) {
	t.logger.Info("Starting partial integrity check task", sglog.Duration("delay", delay))
	for {
		if !t.mirroringActive() {
			if err := t.PerformPartialIntegrityCheck(ctx); err != nil {
				t.logger.Error("partial integrity check failed", sglog.Error(err))
			}
		}
		if t.RunAsOnce {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// StartFullIntegrityCheck loops PerformFullIntegrityCheck every delay, under
// the same gate as the partial driver.
func (t *Task) StartFullIntegrityCheck(ctx context.Context, delay time.Duration) {
	t.logger.Info("Starting full integrity check task", sglog.Duration("delay", delay))
	for {
		if !t.mirroringActive() {
			if err := t.PerformFullIntegrityCheck(ctx); err != nil {
				t.logger.Error("full integrity check failed", sglog.Error(err))
			}
		}
		if t.RunAsOnce {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
