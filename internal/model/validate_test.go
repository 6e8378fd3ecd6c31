package model_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowprobe/flowprobe/internal/model"
)

func TestValidMatchCode(t *testing.T) {
	t.Parallel()

	valid := []string{"200", "201", "404", "500", "2xx", "3xx", "4xx", "5xx"}
	for _, s := range valid {
		assert.True(t, model.ValidMatchCode(s), s)
	}
	invalid := []string{"", "20", "6xx", "1xx", "abc", "2XX", "600", "099"}
	for _, s := range invalid {
		assert.False(t, model.ValidMatchCode(s), s)
	}
}

func newStep(name string) model.Step {
	return model.Step{ID: uuid.New(), Name: name, Method: "GET", URL: "http://example.com"}
}

func TestValidateSuiteOK(t *testing.T) {
	t.Parallel()

	a := newStep("a")
	b := newStep("b")
	b.Dependencies = []model.Dependency{{DependsOnStepID: a.ID, UseCache: true}}
	suite := &model.Suite{ID: uuid.New(), Name: "s", Steps: []model.Step{a, b}}

	require.NoError(t, model.ValidateSuite(suite))
}

func TestValidateSuiteDuplicateName(t *testing.T) {
	t.Parallel()

	suite := &model.Suite{ID: uuid.New(), Name: "s", Steps: []model.Step{newStep("a"), newStep("a")}}
	require.Error(t, model.ValidateSuite(suite))
}

func TestValidateSuiteSelfDependency(t *testing.T) {
	t.Parallel()

	a := newStep("a")
	a.Dependencies = []model.Dependency{{DependsOnStepID: a.ID}}
	suite := &model.Suite{ID: uuid.New(), Name: "s", Steps: []model.Step{a}}
	require.Error(t, model.ValidateSuite(suite))
}

func TestValidateSuiteCycle(t *testing.T) {
	t.Parallel()

	a := newStep("a")
	b := newStep("b")
	c := newStep("c")
	a.Dependencies = []model.Dependency{{DependsOnStepID: c.ID}}
	b.Dependencies = []model.Dependency{{DependsOnStepID: a.ID}}
	c.Dependencies = []model.Dependency{{DependsOnStepID: b.ID}}
	suite := &model.Suite{ID: uuid.New(), Name: "s", Steps: []model.Step{a, b, c}}

	err := model.ValidateSuite(suite)
	require.ErrorIs(t, err, model.ErrCycleDetected)
}

func TestValidateSuiteSideEffectReference(t *testing.T) {
	t.Parallel()

	a := newStep("a")
	unknown := uuid.New()
	a.Handlers = []model.ResponseHandler{{
		Priority:         1,
		MatchCode:        "2xx",
		Action:           model.ActionFireSideEffect,
		SideEffectStepID: &unknown,
	}}
	suite := &model.Suite{ID: uuid.New(), Name: "s", Steps: []model.Step{a}}
	require.Error(t, model.ValidateSuite(suite))

	a.Handlers[0].SideEffectStepID = nil
	require.Error(t, model.ValidateSuite(suite))
}

func TestValidateSuiteBadHandlerCode(t *testing.T) {
	t.Parallel()

	a := newStep("a")
	a.Handlers = []model.ResponseHandler{{Priority: 1, MatchCode: "6xx", Action: model.ActionSuccess}}
	suite := &model.Suite{ID: uuid.New(), Name: "s", Steps: []model.Step{a}}
	require.Error(t, model.ValidateSuite(suite))
}

func TestValidateSuiteDuplicateExtraction(t *testing.T) {
	t.Parallel()

	a := newStep("a")
	a.Extractions = []model.Extraction{
		{VariableName: "token", JSONPath: "$.t", Source: model.SourceResponseBody},
		{VariableName: "token", JSONPath: "$.u", Source: model.SourceResponseBody},
	}
	suite := &model.Suite{ID: uuid.New(), Name: "s", Steps: []model.Step{a}}
	require.Error(t, model.ValidateSuite(suite))
}

func TestValidateEnvironment(t *testing.T) {
	t.Parallel()

	env := &model.Environment{
		ID:   uuid.New(),
		Name: "dev",
		Variables: []model.EnvVariable{
			{Key: "HOST", Value: "example.com", Type: model.ValueStatic},
			{Key: "HOST", Value: "other.com", Type: model.ValueStatic},
		},
	}
	require.Error(t, model.ValidateEnvironment(env))

	env.Variables = env.Variables[:1]
	require.NoError(t, model.ValidateEnvironment(env))

	env.FileKeys = []string{"avatar", "avatar"}
	require.Error(t, model.ValidateEnvironment(env))
}
