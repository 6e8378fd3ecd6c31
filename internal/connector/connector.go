// Package connector dispatches verification queries to per-technology
// drivers. A driver implements a single capability: execute a query
// string against a configured system and return a JSON document.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowprobe/flowprobe/internal/model"
)

// Driver executes one verification query.
type Driver interface {
	Execute(ctx context.Context, cfg map[string]string, query string, timeout time.Duration) (string, error)
}

// Listener is the optional pre-listen capability: subscribe before the
// API call so the event cannot be missed, then await the result.
type Listener interface {
	Listen(ctx context.Context, cfg map[string]string, query string) (ListenHandle, error)
}

// ListenHandle is an armed subscription.
type ListenHandle interface {
	// Await blocks until a matching message arrives or the timeout
	// elapses, returning the driver's JSON result either way.
	Await(ctx context.Context, timeout time.Duration) (string, error)
	Close() error
}

var (
	registryMu sync.RWMutex
	registry   = map[model.ConnectorType]func() Driver{}
)

// Register installs a driver constructor for a connector type.
func Register(typ model.ConnectorType, fn func() Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typ] = fn
}

// New returns a fresh driver for the given connector type.
func New(typ model.ConnectorType) (Driver, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown connector type %q", typ)
	}
	return fn(), nil
}

// cfgValue returns the first present key from cfg.
func cfgValue(cfg map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := cfg[k]; ok && v != "" {
			return v
		}
	}
	return ""
}
