package engine

import (
	"fmt"
	"strconv"

	"github.com/flowprobe/flowprobe/internal/eval"
	"github.com/flowprobe/flowprobe/internal/model"
)

// applyExtractions computes the step's declared variable bindings from
// the finalized result. Missing fields bind to the empty string and
// add a warning.
func applyExtractions(step *model.Step, res *model.StepResult) {
	if len(step.Extractions) == 0 {
		return
	}
	res.ExtractedVariables = map[string]string{}
	for _, ex := range step.Extractions {
		value, ok := extractOne(ex, res)
		if !ok {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("extraction %q: %s %q not found", ex.VariableName, ex.Source, ex.JSONPath))
		}
		res.ExtractedVariables[ex.VariableName] = value
	}
}

func extractOne(ex model.Extraction, res *model.StepResult) (string, bool) {
	switch ex.Source {
	case model.SourceResponseBody:
		v, ok := eval.EvalPath(eval.ParseJSON([]byte(res.ResponseBody)), ex.JSONPath)
		if !ok {
			return "", false
		}
		return eval.Stringify(v), true
	case model.SourceRequestBody:
		v, ok := eval.EvalPath(eval.ParseJSON([]byte(res.RequestBody)), ex.JSONPath)
		if !ok {
			return "", false
		}
		return eval.Stringify(v), true
	case model.SourceStatusCode:
		return strconv.Itoa(res.ResponseCode), true
	case model.SourceRequestURL:
		return res.RequestURL, true
	case model.SourceResponseHeader:
		v, ok := res.ResponseHeaders[ex.JSONPath]
		return v, ok
	case model.SourceRequestHeader:
		v, ok := res.RequestHeaders[ex.JSONPath]
		return v, ok
	case model.SourceQueryParam:
		v, ok := res.RequestQueryParams[ex.JSONPath]
		return v, ok
	default:
		return "", false
	}
}
