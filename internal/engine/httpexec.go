package engine

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/flowprobe/flowprobe/internal/catalog"
	"github.com/flowprobe/flowprobe/internal/eval"
	"github.com/flowprobe/flowprobe/internal/logger"
	"github.com/flowprobe/flowprobe/internal/model"
)

// resolvedRequest is a step's HTTP request after placeholder
// resolution. File form fields still carry their ${FILE:key} token;
// the executor loads the bytes.
type resolvedRequest struct {
	Method   string
	URL      string
	Headers  map[string]string
	Query    map[string]string
	BodyType model.BodyType
	Body     string
	Form     []model.FormField
	Warnings []string
}

// buildRequest resolves every request template through the scope.
// Environment default headers apply first, step headers override by
// case-insensitive key, and disabled default headers are suppressed.
func buildRequest(scope *eval.Scope, env *model.Environment, step *model.Step) resolvedRequest {
	req := resolvedRequest{
		Method:   strings.ToUpper(step.Method),
		Headers:  map[string]string{},
		Query:    map[string]string{},
		BodyType: step.BodyType,
	}
	resolve := func(template string) string {
		v, warns := scope.Resolve(template)
		req.Warnings = append(req.Warnings, warns...)
		return v
	}

	req.URL = resolve(step.URL)

	disabled := map[string]bool{}
	for _, k := range step.DisabledDefaultHeaders {
		disabled[strings.ToLower(k)] = true
	}
	canonical := map[string]string{}
	setHeader := func(key, value string) {
		lower := strings.ToLower(key)
		if prev, ok := canonical[lower]; ok {
			delete(req.Headers, prev)
		}
		canonical[lower] = key
		req.Headers[key] = value
	}
	for _, h := range env.DefaultHeaders {
		if disabled[strings.ToLower(h.Key)] {
			continue
		}
		setHeader(h.Key, resolve(h.Value))
	}
	for _, h := range step.Headers {
		setHeader(h.Key, resolve(h.Value))
	}

	for _, q := range step.QueryParams {
		req.Query[q.Key] = resolve(q.Value)
	}

	switch step.BodyType {
	case model.BodyJSON:
		req.Body = resolve(step.Body)
		if _, ok := canonical["content-type"]; !ok {
			setHeader("Content-Type", "application/json")
		}
	case model.BodyFormData:
		for _, f := range step.FormFields {
			field := f
			if f.Type == model.FormFieldText {
				field.Value = resolve(f.Value)
			}
			req.Form = append(req.Form, field)
		}
	}
	return req
}

// httpExecutor issues one step's request, runs the handler loop and
// produces the raw step result plus any fired side-effect step ids.
type httpExecutor struct {
	client       *resty.Client
	files        catalog.EnvironmentStore
	retryCeiling time.Duration
}

func newHTTPExecutor(files catalog.EnvironmentStore, timeout, retryCeiling time.Duration) *httpExecutor {
	return &httpExecutor{
		client:       resty.New().SetTimeout(timeout).SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)),
		files:        files,
		retryCeiling: retryCeiling,
	}
}

type httpAttempt struct {
	code    int
	headers map[string]string
	body    string
	err     error
}

func (e *httpExecutor) run(ctx context.Context, env *model.Environment, step *model.Step, req resolvedRequest) (*model.StepResult, []uuid.UUID) {
	started := time.Now()
	result := &model.StepResult{
		StepID:             step.ID,
		StepName:           step.Name,
		RequestURL:         req.URL,
		RequestBody:        req.Body,
		RequestHeaders:     req.Headers,
		RequestQueryParams: req.Query,
		Warnings:           req.Warnings,
	}
	finalize := func(status model.StepStatus, msg string) (*model.StepResult, []uuid.UUID) {
		result.Status = status
		result.ErrorMessage = msg
		result.DurationMs = time.Since(started).Milliseconds()
		return result, nil
	}

	var sideEffects []uuid.UUID
	attempts := 0
	for {
		attempt := e.do(ctx, env, step, req)
		attempts++
		if ctx.Err() != nil {
			// Cancelled while the request was in flight; the aborted
			// attempt must not classify the step.
			return finalize(model.StepSkipped, "run cancelled")
		}
		result.ResponseCode = attempt.code
		result.ResponseHeaders = attempt.headers
		result.ResponseBody = attempt.body
		if attempt.err != nil {
			result.ErrorMessage = attempt.err.Error()
		}

		var chosen *model.ResponseHandler
		for _, h := range matchHandlers(attempt.code, step.Handlers) {
			if h.Action == model.ActionFireSideEffect {
				if h.SideEffectStepID != nil {
					sideEffects = append(sideEffects, *h.SideEffectStepID)
				}
				continue
			}
			chosen = h
			break
		}

		if chosen == nil {
			return e.classifyUnhandled(step, attempt, result, started), sideEffects
		}

		switch chosen.Action {
		case model.ActionSuccess:
			res, _ := finalize(model.StepSuccess, "")
			return res, sideEffects
		case model.ActionError:
			res, _ := finalize(model.StepError, fmt.Sprintf("response %d classified as error", attempt.code))
			return res, sideEffects
		case model.ActionRetry:
			if attempts >= chosen.RetryCount {
				res, _ := finalize(model.StepError, fmt.Sprintf("retry budget exhausted after %d attempts", attempts))
				return res, sideEffects
			}
			logger.Debug(ctx, "Retrying step", "step", step.Name, "attempt", attempts, "code", attempt.code)
			if err := e.backoff(ctx, chosen.RetryDelaySeconds); err != nil {
				res, _ := finalize(model.StepSkipped, "run cancelled")
				return res, sideEffects
			}
		}
	}
}

// classifyUnhandled applies the default classification when no
// handler decided the step: without declared handlers a 2xx or 3xx
// response is a success, everything else is an error.
func (e *httpExecutor) classifyUnhandled(step *model.Step, attempt httpAttempt, result *model.StepResult, started time.Time) *model.StepResult {
	result.DurationMs = time.Since(started).Milliseconds()
	if attempt.err != nil {
		result.Status = model.StepError
		result.ErrorMessage = fmt.Sprintf("http request failed: %v", attempt.err)
		return result
	}
	if len(step.Handlers) == 0 && attempt.code >= 200 && attempt.code < 400 {
		result.Status = model.StepSuccess
		return result
	}
	result.Status = model.StepError
	result.ErrorMessage = fmt.Sprintf("unhandled response code %d", attempt.code)
	return result
}

func (e *httpExecutor) backoff(ctx context.Context, delaySeconds int) error {
	delay := time.Duration(delaySeconds) * time.Second
	if e.retryCeiling > 0 && delay > e.retryCeiling {
		delay = e.retryCeiling
	}
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do issues a single attempt. I/O failures map to the synthetic
// status code 0.
func (e *httpExecutor) do(ctx context.Context, env *model.Environment, step *model.Step, req resolvedRequest) httpAttempt {
	r := e.client.R().SetContext(ctx).SetHeaders(req.Headers).SetQueryParams(req.Query)

	switch req.BodyType {
	case model.BodyJSON:
		r.SetBody([]byte(req.Body))
	case model.BodyFormData:
		for _, f := range req.Form {
			if f.Type == model.FormFieldFile {
				key, ok := eval.FileToken(f.Value)
				if !ok {
					return httpAttempt{err: fmt.Errorf("form field %q: unresolved file reference %q", f.Key, f.Value)}
				}
				data, err := e.files.GetFile(ctx, env.ID, key)
				if err != nil {
					return httpAttempt{err: fmt.Errorf("form field %q: file %q: %w", f.Key, key, err)}
				}
				r.SetFileReader(f.Key, key, bytes.NewReader(data))
				continue
			}
			r.SetMultipartFormData(map[string]string{f.Key: f.Value})
		}
	}

	rsp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return httpAttempt{code: 0, err: err}
	}

	headers := map[string]string{}
	for k, vs := range rsp.Header() {
		if len(vs) > 0 {
			headers[k] = vs[0]
		}
	}
	return httpAttempt{code: rsp.StatusCode(), headers: headers, body: rsp.String()}
}

// matchHandlers returns the handlers matching a status code, ordered
// by ascending priority with exact codes before range patterns of
// equal priority. The synthetic code 0 only matches 5xx handlers.
func matchHandlers(code int, handlers []model.ResponseHandler) []*model.ResponseHandler {
	var matched []*model.ResponseHandler
	for i := range handlers {
		if handlerMatches(code, handlers[i].MatchCode) {
			matched = append(matched, &handlers[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return isExactCode(matched[i].MatchCode) && !isExactCode(matched[j].MatchCode)
	})
	return matched
}

func isExactCode(matchCode string) bool {
	_, err := strconv.Atoi(matchCode)
	return err == nil
}

func handlerMatches(code int, matchCode string) bool {
	if code == 0 {
		return matchCode == "5xx"
	}
	if exact, err := strconv.Atoi(matchCode); err == nil {
		return code == exact
	}
	if len(matchCode) == 3 && strings.HasSuffix(matchCode, "xx") {
		return code/100 == int(matchCode[0]-'0')
	}
	return false
}
