package eval

import (
	"github.com/flowprobe/flowprobe/internal/model"
)

// StepContext is the published context of a completed step, consumed
// by later {{StepName.path}} placeholders.
type StepContext struct {
	// Extracted holds the step's declared variable bindings by name.
	Extracted map[string]string
	// Tree holds the implicit keys: response, status, headers, request.
	Tree map[string]any
}

// NewStepContext builds the implicit tree from a step result.
func NewStepContext(res *model.StepResult) *StepContext {
	headers := map[string]any{}
	for k, v := range res.ResponseHeaders {
		headers[k] = v
	}
	reqHeaders := map[string]any{}
	for k, v := range res.RequestHeaders {
		reqHeaders[k] = v
	}
	reqQuery := map[string]any{}
	for k, v := range res.RequestQueryParams {
		reqQuery[k] = v
	}

	tree := map[string]any{
		"response": ParseJSON([]byte(res.ResponseBody)),
		"status":   res.ResponseCode,
		"headers":  headers,
		"request": map[string]any{
			"body":    ParseJSON([]byte(res.RequestBody)),
			"url":     res.RequestURL,
			"headers": reqHeaders,
			"query":   reqQuery,
		},
	}

	extracted := map[string]string{}
	for k, v := range res.ExtractedVariables {
		extracted[k] = v
	}

	return &StepContext{Extracted: extracted, Tree: tree}
}

// Scope is the resolution context for one step's templates.
type Scope struct {
	Env    *model.Environment
	Steps  map[string]*StepContext
	Inputs map[string]string
}

// NewScope creates an empty scope for the given environment.
func NewScope(env *model.Environment) *Scope {
	return &Scope{
		Env:    env,
		Steps:  map[string]*StepContext{},
		Inputs: map[string]string{},
	}
}

// PublishStep stores the context produced by a completed step.
func (s *Scope) PublishStep(name string, sc *StepContext) {
	s.Steps[name] = sc
}

// SetInput records a manual input value for the rest of the run.
func (s *Scope) SetInput(name, value string) {
	s.Inputs[name] = value
}

// HasInput reports whether a value was already submitted for name.
func (s *Scope) HasInput(name string) bool {
	_, ok := s.Inputs[name]
	return ok
}
