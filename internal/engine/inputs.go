package engine

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errInputTimeout = errors.New("manual input not submitted in time")

// inputBroker hands submitted input values to the run driver. The
// driver announces each wait with expect; submissions arriving while
// no wait is pending are ignored, which makes late or duplicate
// submissions no-ops.
type inputBroker struct {
	mu      sync.Mutex
	waiting bool
	ch      chan map[string]string
}

func newInputBroker() *inputBroker {
	return &inputBroker{ch: make(chan map[string]string, 1)}
}

// expect opens the submission window. Called by the driver before the
// input-required event is emitted.
func (b *inputBroker) expect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waiting = true
}

// submit delivers values to a pending wait. Returns false when no
// step is waiting.
func (b *inputBroker) submit(values map[string]string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.waiting {
		return false
	}
	b.waiting = false
	b.ch <- values
	return true
}

// await blocks until a submission, the timeout, or cancellation.
func (b *inputBroker) await(ctx context.Context, timeout time.Duration) (map[string]string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	defer func() {
		b.mu.Lock()
		b.waiting = false
		b.mu.Unlock()
	}()

	select {
	case values := <-b.ch:
		return values, nil
	case <-timer.C:
		return nil, errInputTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
