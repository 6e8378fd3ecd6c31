package eval

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowprobe/flowprobe/internal/model"
)

func devEnv() *model.Environment {
	return &model.Environment{
		ID:   uuid.New(),
		Name: "dev",
		Variables: []model.EnvVariable{
			{Key: "HOST", Value: "api.example.com", Type: model.ValueStatic},
			{Key: "BASE", Value: "https://${HOST}/v1", Type: model.ValueVariable},
			{Key: "DEEP", Value: "${BASE}", Type: model.ValueVariable},
			{Key: "REQ_ID", Type: model.ValueUUID},
			{Key: "NOW", Type: model.ValueISOTimestamp},
			{Key: "TOKEN", Value: "s3cret", Type: model.ValueStatic, Secret: true},
		},
	}
}

func TestResolveEnvVariables(t *testing.T) {
	t.Parallel()

	scope := NewScope(devEnv())

	out, warns := scope.Resolve("https://${HOST}/users")
	require.Empty(t, warns)
	assert.Equal(t, "https://api.example.com/users", out)

	out, warns = scope.Resolve("${BASE}/users")
	require.Empty(t, warns)
	assert.Equal(t, "https://api.example.com/v1/users", out)
}

func TestResolveVariableRecursionOneLevel(t *testing.T) {
	t.Parallel()

	scope := NewScope(devEnv())

	// DEEP -> BASE expands one level; BASE's own ${HOST} stays literal.
	out, _ := scope.Resolve("${DEEP}")
	assert.Equal(t, "https://${HOST}/v1", out)
}

func TestResolveDynamicTypes(t *testing.T) {
	t.Parallel()

	scope := NewScope(devEnv())

	out, warns := scope.Resolve("${REQ_ID}")
	require.Empty(t, warns)
	_, err := uuid.Parse(out)
	assert.NoError(t, err)

	out, _ = scope.Resolve("${NOW}")
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`), out)
}

func TestResolveUnknownVariableStaysLiteral(t *testing.T) {
	t.Parallel()

	scope := NewScope(devEnv())
	out, warns := scope.Resolve("x=${NOPE}")
	assert.Equal(t, "x=${NOPE}", out)
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0], "${NOPE}")
}

func TestResolveUnbalanced(t *testing.T) {
	t.Parallel()

	scope := NewScope(devEnv())
	out, warns := scope.Resolve("x=${HOST")
	assert.Equal(t, "x=${HOST", out)
	require.Len(t, warns, 1)
}

func TestResolveFileTokenPassthrough(t *testing.T) {
	t.Parallel()

	scope := NewScope(devEnv())
	out, warns := scope.Resolve("${FILE:avatar}")
	require.Empty(t, warns)
	assert.Equal(t, "${FILE:avatar}", out)
}

func TestResolveStepReference(t *testing.T) {
	t.Parallel()

	scope := NewScope(devEnv())
	scope.PublishStep("Login", &StepContext{
		Extracted: map[string]string{"token": "abc"},
		Tree: map[string]any{
			"response": map[string]any{"user": map[string]any{"id": float64(12)}},
			"status":   200,
			"headers":  map[string]any{"X-Trace": "t1"},
		},
	})

	out, warns := scope.Resolve("Bearer {{Login.token}}")
	require.Empty(t, warns)
	assert.Equal(t, "Bearer abc", out)

	out, warns = scope.Resolve("{{Login.response.user.id}}")
	require.Empty(t, warns)
	assert.Equal(t, "12", out)

	out, warns = scope.Resolve("{{Login.status}}")
	require.Empty(t, warns)
	assert.Equal(t, "200", out)

	out, warns = scope.Resolve("{{Login.headers.X-Trace}}")
	require.Empty(t, warns)
	assert.Equal(t, "t1", out)
}

func TestResolveStepReferenceMissingPath(t *testing.T) {
	t.Parallel()

	scope := NewScope(devEnv())
	scope.PublishStep("Login", &StepContext{
		Extracted: map[string]string{},
		Tree:      map[string]any{"response": map[string]any{}},
	})

	out, warns := scope.Resolve("v={{Login.response.missing}}")
	assert.Equal(t, "v=", out)
	require.Len(t, warns, 1)
}

func TestResolveUnknownStepStaysLiteral(t *testing.T) {
	t.Parallel()

	scope := NewScope(devEnv())
	out, warns := scope.Resolve("{{Ghost.token}}")
	assert.Equal(t, "{{Ghost.token}}", out)
	require.Len(t, warns, 1)
}

func TestResolveManualInput(t *testing.T) {
	t.Parallel()

	scope := NewScope(devEnv())
	scope.SetInput("otp", "123456")

	out, warns := scope.Resolve("code=#{otp}")
	require.Empty(t, warns)
	assert.Equal(t, "code=123456", out)

	out, warns = scope.Resolve("region=#{region:eu}")
	require.Empty(t, warns)
	assert.Equal(t, "region=eu", out)

	out, warns = scope.Resolve("missing=#{nothing}")
	assert.Equal(t, "missing=", out)
	require.Len(t, warns, 1)
}

// Resolution is idempotent for templates without dynamic value types.
func TestResolveIdempotent(t *testing.T) {
	t.Parallel()

	scope := NewScope(devEnv())
	scope.SetInput("otp", "99")
	scope.PublishStep("A", &StepContext{
		Extracted: map[string]string{"v": "stable"},
		Tree:      map[string]any{},
	})

	template := "${HOST}/{{A.v}}?code=#{otp}&bad=${NOPE}"
	once, _ := scope.Resolve(template)
	twice, _ := scope.Resolve(once)
	assert.Equal(t, once, twice)
}

func TestCollectInputs(t *testing.T) {
	t.Parallel()

	fields := CollectInputs("a=#{otp}", "b=#{region:eu}&c=#{otp}")
	require.Len(t, fields, 2)
	assert.Equal(t, "otp", fields[0].Name)
	assert.False(t, fields[0].HasDefault)
	assert.Equal(t, "region", fields[1].Name)
	assert.Equal(t, "eu", fields[1].DefaultValue)
}

func TestFileToken(t *testing.T) {
	t.Parallel()

	key, ok := FileToken("${FILE:avatar}")
	require.True(t, ok)
	assert.Equal(t, "avatar", key)

	_, ok = FileToken("plain text")
	assert.False(t, ok)

	_, ok = FileToken("${FILE:}")
	assert.False(t, ok)
}
