// Package verify runs post-step connector verifications: an optional
// pre-listen subscription armed before the HTTP call, a connector
// query afterwards, and assertion evaluation over the query result.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/flowprobe/flowprobe/internal/connector"
	"github.com/flowprobe/flowprobe/internal/eval"
	"github.com/flowprobe/flowprobe/internal/logger"
	"github.com/flowprobe/flowprobe/internal/model"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultQueryTimeout = 10 * time.Second
)

// Armed is a pre-listen subscription waiting for its Await call.
type Armed struct {
	handle connector.ListenHandle
}

// Close releases the subscription without consuming it.
func (a *Armed) Close() error {
	if a == nil || a.handle == nil {
		return nil
	}
	return a.handle.Close()
}

// Arm starts the pre-listen phase for a verification. It must be
// called before the step's HTTP request is issued. Returns nil when
// the verification does not request pre-listen.
func Arm(ctx context.Context, env *model.Environment, v model.Verification, resolvedQuery string) (*Armed, error) {
	if !v.PreListen {
		return nil, nil
	}
	conn, ok := env.ConnectorByName(v.ConnectorName)
	if !ok {
		return nil, fmt.Errorf("connector %q not found in environment %q", v.ConnectorName, env.Name)
	}
	drv, err := connector.New(conn.Type)
	if err != nil {
		return nil, err
	}
	listener, ok := drv.(connector.Listener)
	if !ok {
		return nil, fmt.Errorf("connector type %q does not support pre-listen", conn.Type)
	}
	handle, err := listener.Listen(ctx, conn.Config, resolvedQuery)
	if err != nil {
		return nil, fmt.Errorf("pre-listen failed: %w", err)
	}
	return &Armed{handle: handle}, nil
}

// Run executes the assertion phase of one verification. armed may be
// nil; when set it is consumed and closed here.
func Run(ctx context.Context, env *model.Environment, v model.Verification, resolvedQuery string, armed *Armed) model.VerificationResult {
	started := time.Now()
	result := model.VerificationResult{
		ConnectorName: v.ConnectorName,
		Assertions:    []model.AssertionResult{},
	}
	fail := func(err error) model.VerificationResult {
		result.Error = err.Error()
		result.DurationMs = time.Since(started).Milliseconds()
		return result
	}

	budget := defaultTimeout
	if v.TimeoutSeconds > 0 {
		budget = time.Duration(v.TimeoutSeconds) * time.Second
	}
	queryTimeout := defaultQueryTimeout
	if v.QueryTimeoutSeconds > 0 {
		queryTimeout = time.Duration(v.QueryTimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var (
		raw string
		err error
	)
	if armed != nil {
		defer func() {
			_ = armed.Close()
		}()
		// the per-query cap bounds the await; ctx already carries the
		// overall budget
		raw, err = armed.handle.Await(ctx, queryTimeout)
	} else {
		conn, ok := env.ConnectorByName(v.ConnectorName)
		if !ok {
			return fail(fmt.Errorf("connector %q not found in environment %q", v.ConnectorName, env.Name))
		}
		drv, derr := connector.New(conn.Type)
		if derr != nil {
			return fail(derr)
		}
		raw, err = drv.Execute(ctx, conn.Config, resolvedQuery, queryTimeout)
	}
	if err != nil {
		logger.Warn(ctx, "Verification query failed", "connector", v.ConnectorName, "err", err)
		return fail(fmt.Errorf("verification query failed: %w", err))
	}

	tree := eval.ParseJSON([]byte(raw))
	passed := true
	for _, a := range v.Assertions {
		ar := evalAssertion(tree, a)
		result.Assertions = append(result.Assertions, ar)
		passed = passed && ar.Passed
	}

	result.DurationMs = time.Since(started).Milliseconds()
	if d := time.Duration(result.DurationMs) * time.Millisecond; d > budget {
		result.Error = fmt.Sprintf("verification exceeded %s budget", budget)
		passed = false
	}
	result.Passed = passed
	return result
}
