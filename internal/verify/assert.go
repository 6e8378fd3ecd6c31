package verify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/flowprobe/flowprobe/internal/eval"
	"github.com/flowprobe/flowprobe/internal/model"
)

// evalAssertion applies one assertion to the parsed connector result.
func evalAssertion(tree any, a model.Assertion) model.AssertionResult {
	result := model.AssertionResult{
		JSONPath: a.JSONPath,
		Operator: a.Operator,
		Expected: a.ExpectedValue,
	}

	val, found := eval.EvalPath(tree, a.JSONPath)
	actual := eval.Stringify(val)
	result.Actual = actual

	switch a.Operator {
	case model.OpExists:
		result.Passed = found
		if !found {
			result.Message = fmt.Sprintf("path %q not present", a.JSONPath)
		}
		return result
	case model.OpNotExists:
		result.Passed = !found
		if found {
			result.Message = fmt.Sprintf("path %q is present", a.JSONPath)
		}
		return result
	}

	if !found {
		result.Message = fmt.Sprintf("path %q not present", a.JSONPath)
		return result
	}

	switch a.Operator {
	case model.OpEquals:
		result.Passed = actual == a.ExpectedValue
	case model.OpNotEquals:
		result.Passed = actual != a.ExpectedValue
	case model.OpContains:
		result.Passed = strings.Contains(actual, a.ExpectedValue)
	case model.OpNotContains:
		result.Passed = !strings.Contains(actual, a.ExpectedValue)
	case model.OpRegex:
		re, err := regexp.Compile(a.ExpectedValue)
		if err != nil {
			result.Message = fmt.Sprintf("invalid pattern %q: %v", a.ExpectedValue, err)
			return result
		}
		result.Passed = re.MatchString(actual)
	case model.OpGT, model.OpLT, model.OpGTE, model.OpLTE:
		return evalNumeric(result, actual, a)
	default:
		result.Message = fmt.Sprintf("unknown operator %q", a.Operator)
		return result
	}

	if !result.Passed && result.Message == "" {
		result.Message = fmt.Sprintf("expected %s %q, got %q", a.Operator, a.ExpectedValue, actual)
	}
	return result
}

// Numeric operators need both sides parseable as doubles.
func evalNumeric(result model.AssertionResult, actual string, a model.Assertion) model.AssertionResult {
	lhs, errL := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	rhs, errR := strconv.ParseFloat(strings.TrimSpace(a.ExpectedValue), 64)
	if errL != nil {
		result.Message = fmt.Sprintf("actual value %q is not numeric", actual)
		return result
	}
	if errR != nil {
		result.Message = fmt.Sprintf("expected value %q is not numeric", a.ExpectedValue)
		return result
	}

	switch a.Operator {
	case model.OpGT:
		result.Passed = lhs > rhs
	case model.OpLT:
		result.Passed = lhs < rhs
	case model.OpGTE:
		result.Passed = lhs >= rhs
	case model.OpLTE:
		result.Passed = lhs <= rhs
	}
	if !result.Passed {
		result.Message = fmt.Sprintf("expected %v %s %v", lhs, a.Operator, rhs)
	}
	return result
}
