package frontend

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatStopsBeforeHandlerReturn(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	stream, err := newSSEStream(rec)
	require.NoError(t, err)

	stop := stream.startHeartbeat(context.Background(), time.Millisecond)

	require.Eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return strings.Contains(rec.Body.String(), ": heartbeat")
	}, time.Second, time.Millisecond)

	// stop must block until the writer goroutine has quit
	stop()
	written := rec.Body.Len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, written, rec.Body.Len(), "no writes after stop returns")
}

func TestHeartbeatDisabledWithoutInterval(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	stream, err := newSSEStream(rec)
	require.NoError(t, err)

	stop := stream.startHeartbeat(context.Background(), 0)
	stop()
	assert.NotContains(t, rec.Body.String(), "heartbeat")
}
