package verify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowprobe/flowprobe/internal/connector"
	"github.com/flowprobe/flowprobe/internal/model"
)

func tree(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestEvalAssertionOperators(t *testing.T) {
	t.Parallel()

	doc := tree(t, `{
		"rows": [{"id": 42, "status": "PAID", "amount": 19.99}],
		"rowCount": 1,
		"note": null
	}`)

	tests := []struct {
		name      string
		assertion model.Assertion
		passed    bool
	}{
		{"equals", model.Assertion{JSONPath: "$.rows[0].status", Operator: model.OpEquals, ExpectedValue: "PAID"}, true},
		{"equals fails", model.Assertion{JSONPath: "$.rows[0].status", Operator: model.OpEquals, ExpectedValue: "OPEN"}, false},
		{"not equals", model.Assertion{JSONPath: "$.rows[0].status", Operator: model.OpNotEquals, ExpectedValue: "OPEN"}, true},
		{"contains", model.Assertion{JSONPath: "$.rows[0].status", Operator: model.OpContains, ExpectedValue: "AI"}, true},
		{"not contains", model.Assertion{JSONPath: "$.rows[0].status", Operator: model.OpNotContains, ExpectedValue: "XYZ"}, true},
		{"regex", model.Assertion{JSONPath: "$.rows[0].status", Operator: model.OpRegex, ExpectedValue: "^PA.D$"}, true},
		{"regex no match", model.Assertion{JSONPath: "$.rows[0].status", Operator: model.OpRegex, ExpectedValue: "^X"}, false},
		{"gt", model.Assertion{JSONPath: "$.rows[0].amount", Operator: model.OpGT, ExpectedValue: "19"}, true},
		{"lt", model.Assertion{JSONPath: "$.rows[0].amount", Operator: model.OpLT, ExpectedValue: "20"}, true},
		{"gte equal", model.Assertion{JSONPath: "$.rowCount", Operator: model.OpGTE, ExpectedValue: "1"}, true},
		{"lte fails", model.Assertion{JSONPath: "$.rowCount", Operator: model.OpLTE, ExpectedValue: "0"}, false},
		{"exists", model.Assertion{JSONPath: "$.rows[0].id", Operator: model.OpExists}, true},
		{"exists missing", model.Assertion{JSONPath: "$.rows[0].missing", Operator: model.OpExists}, false},
		{"not exists", model.Assertion{JSONPath: "$.rows[0].missing", Operator: model.OpNotExists}, true},
		{"not exists present", model.Assertion{JSONPath: "$.rowCount", Operator: model.OpNotExists}, false},
		{"length terminal", model.Assertion{JSONPath: "$.rows.length()", Operator: model.OpEquals, ExpectedValue: "1"}, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := evalAssertion(doc, tc.assertion)
			assert.Equal(t, tc.passed, got.Passed, "message: %s", got.Message)
			if !tc.passed {
				assert.NotEmpty(t, got.Message)
			}
		})
	}
}

func TestEvalAssertionNumericRequiresDoubles(t *testing.T) {
	t.Parallel()

	doc := tree(t, `{"status": "PAID", "count": 3}`)

	got := evalAssertion(doc, model.Assertion{
		JSONPath: "$.status", Operator: model.OpGT, ExpectedValue: "1",
	})
	assert.False(t, got.Passed)
	assert.Contains(t, got.Message, "not numeric")

	got = evalAssertion(doc, model.Assertion{
		JSONPath: "$.count", Operator: model.OpGT, ExpectedValue: "many",
	})
	assert.False(t, got.Passed)
	assert.Contains(t, got.Message, "not numeric")
}

func TestEvalAssertionMissingPath(t *testing.T) {
	t.Parallel()

	doc := tree(t, `{"a": 1}`)
	got := evalAssertion(doc, model.Assertion{
		JSONPath: "$.b", Operator: model.OpEquals, ExpectedValue: "1",
	})
	assert.False(t, got.Passed)
	assert.Contains(t, got.Message, "not present")
}

func TestEvalAssertionInvalidRegex(t *testing.T) {
	t.Parallel()

	doc := tree(t, `{"a": "x"}`)
	got := evalAssertion(doc, model.Assertion{
		JSONPath: "$.a", Operator: model.OpRegex, ExpectedValue: "[",
	})
	assert.False(t, got.Passed)
	assert.Contains(t, got.Message, "invalid pattern")
}

func TestRunUnknownConnector(t *testing.T) {
	t.Parallel()

	env := &model.Environment{Name: "staging"}
	v := model.Verification{ConnectorName: "missing", Query: "SELECT 1"}

	got := Run(context.Background(), env, v, v.Query, nil)
	assert.False(t, got.Passed)
	assert.Contains(t, got.Error, `connector "missing" not found`)
}

func TestArmSkipsWithoutPreListen(t *testing.T) {
	t.Parallel()

	env := &model.Environment{Name: "staging"}
	armed, err := Arm(context.Background(), env, model.Verification{ConnectorName: "db"}, "SELECT 1")
	require.NoError(t, err)
	assert.Nil(t, armed)
	assert.NoError(t, armed.Close())
}

type stubListenHandle struct {
	awaitTimeout time.Duration
	payload      string
}

func (h *stubListenHandle) Await(_ context.Context, timeout time.Duration) (string, error) {
	h.awaitTimeout = timeout
	return h.payload, nil
}

func (h *stubListenHandle) Close() error { return nil }

type stubListenDriver struct {
	handle *stubListenHandle
}

func (d *stubListenDriver) Execute(context.Context, map[string]string, string, time.Duration) (string, error) {
	return d.handle.payload, nil
}

func (d *stubListenDriver) Listen(context.Context, map[string]string, string) (connector.ListenHandle, error) {
	return d.handle, nil
}

func TestRunArmedAppliesQueryTimeout(t *testing.T) {
	t.Parallel()

	handle := &stubListenHandle{payload: `{"found":true}`}
	connector.Register("stub-bus", func() connector.Driver { return &stubListenDriver{handle: handle} })

	env := &model.Environment{
		Name: "staging",
		Connectors: []model.Connector{
			{Name: "bus", Type: "stub-bus"},
		},
	}
	v := model.Verification{
		ConnectorName:       "bus",
		PreListen:           true,
		TimeoutSeconds:      30,
		QueryTimeoutSeconds: 2,
		Assertions: []model.Assertion{
			{JSONPath: "$.found", Operator: model.OpEquals, ExpectedValue: "true"},
		},
	}

	armed, err := Arm(context.Background(), env, v, "topic=events")
	require.NoError(t, err)
	require.NotNil(t, armed)

	got := Run(context.Background(), env, v, "topic=events", armed)
	assert.True(t, got.Passed)
	assert.Equal(t, 2*time.Second, handle.awaitTimeout, "the per-query cap bounds the await")
}

func TestArmRejectsNonListenerConnector(t *testing.T) {
	t.Parallel()

	env := &model.Environment{
		Name: "staging",
		Connectors: []model.Connector{
			{Name: "cache", Type: model.ConnectorRedis, Config: map[string]string{"addr": "127.0.0.1:6379"}},
		},
	}
	v := model.Verification{ConnectorName: "cache", PreListen: true}

	_, err := Arm(context.Background(), env, v, "GET key")
	assert.ErrorContains(t, err, "does not support pre-listen")
}
