package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/flowprobe/flowprobe/internal/engine"
	"github.com/flowprobe/flowprobe/internal/logger"
)

// SetSSEHeaders prepares a response for server-sent events.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// sseStream serializes engine events onto one SSE response. Writes
// are mutex-guarded because heartbeats come from a second goroutine.
type sseStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by connection")
	}
	SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseStream{w: w, flusher: flusher}, nil
}

func (s *sseStream) Publish(ctx context.Context, e engine.Event) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		logger.Error(ctx, "Failed to marshal event", "event", e.Name, "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", e.Name, data)
	s.flusher.Flush()
}

// startHeartbeat emits comment lines from a second goroutine. The
// returned stop function cancels it and waits for the writer to quit,
// so the ResponseWriter is never touched after the handler returns.
func (s *sseStream) startHeartbeat(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.heartbeat(hbCtx, interval)
	}()
	return func() {
		cancel()
		<-done
	}
}

// heartbeat keeps intermediaries from closing an idle stream. Runs
// until ctx is cancelled.
func (s *sseStream) heartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			fmt.Fprint(s.w, ": heartbeat\n\n")
			s.flusher.Flush()
			s.mu.Unlock()
		}
	}
}
