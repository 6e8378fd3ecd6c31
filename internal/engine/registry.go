package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Registry is the process-wide map of live runs. Control endpoints
// look runs up here to cancel them or to submit manual inputs.
type Registry struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*Handle
}

// NewRegistry returns an empty run registry.
func NewRegistry() *Registry {
	return &Registry{runs: map[uuid.UUID]*Handle{}}
}

// Handle is the control surface of one run. Only the owning driver
// mutates it; readers cancel or submit through it.
type Handle struct {
	RunID uuid.UUID

	mu     sync.Mutex
	cancel context.CancelFunc
	broker *inputBroker
	done   bool
}

func (r *Registry) create(runID uuid.UUID, cancel context.CancelFunc) *Handle {
	h := &Handle{RunID: runID, cancel: cancel, broker: newInputBroker()}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = h
	return h
}

// Lookup returns the handle for a live run.
func (r *Registry) Lookup(runID uuid.UUID) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.runs[runID]
	return h, ok
}

// release tombstones the handle and drops it from the map. Cancel and
// SubmitInputs on a retained pointer become no-ops.
func (r *Registry) release(runID uuid.UUID) {
	r.mu.Lock()
	h := r.runs[runID]
	delete(r.runs, runID)
	r.mu.Unlock()
	if h != nil {
		h.finish()
	}
}

func (h *Handle) finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
}

// Cancel interrupts the run. Idempotent, and a no-op once the run
// completed.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.cancel()
}

// SubmitInputs forwards operator values to a step waiting on manual
// input. Returns false when nothing is waiting.
func (h *Handle) SubmitInputs(values map[string]string) bool {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done {
		return false
	}
	return h.broker.submit(values)
}
