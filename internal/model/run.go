package model

import (
	"time"

	"github.com/google/uuid"
)

// TriggerType names how a run was started.
type TriggerType string

const (
	TriggerManual    TriggerType = "MANUAL"
	TriggerScheduled TriggerType = "SCHEDULED"
)

// RunStatus is the aggregate state of a run.
type RunStatus string

const (
	RunRunning        RunStatus = "RUNNING"
	RunSuccess        RunStatus = "SUCCESS"
	RunPartialFailure RunStatus = "PARTIAL_FAILURE"
	RunFailure        RunStatus = "FAILURE"
	RunCancelled      RunStatus = "CANCELLED"
)

// IsTerminal reports whether the status will not change again.
func (s RunStatus) IsTerminal() bool {
	return s != RunRunning
}

// StepStatus is the terminal state of one step within a run.
type StepStatus string

const (
	StepSuccess            StepStatus = "SUCCESS"
	StepError              StepStatus = "ERROR"
	StepSkipped            StepStatus = "SKIPPED"
	StepVerificationFailed StepStatus = "VERIFICATION_FAILED"
)

// Run is one execution of a suite or a single step.
type Run struct {
	ID              uuid.UUID   `json:"id"`
	SuiteID         uuid.UUID   `json:"suiteId"`
	EnvironmentID   uuid.UUID   `json:"environmentId"`
	TriggerType     TriggerType `json:"triggerType"`
	ScheduleID      *uuid.UUID  `json:"scheduleId,omitempty"`
	Status          RunStatus   `json:"status"`
	StartedAt       time.Time   `json:"startedAt"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
	TotalDurationMs int64       `json:"totalDurationMs"`
	ResultData      string      `json:"resultData,omitempty"`
}

// AssertionResult records one assertion evaluation.
type AssertionResult struct {
	JSONPath string            `json:"jsonPath"`
	Operator AssertionOperator `json:"operator"`
	Expected string            `json:"expectedValue"`
	Actual   string            `json:"actualValue"`
	Passed   bool              `json:"passed"`
	Message  string            `json:"message,omitempty"`
}

// VerificationResult records one verification run.
type VerificationResult struct {
	ConnectorName string            `json:"connectorName"`
	Passed        bool              `json:"passed"`
	Error         string            `json:"error,omitempty"`
	DurationMs    int64             `json:"durationMs"`
	Assertions    []AssertionResult `json:"assertions"`
}

// StepResult is emitted per executed (or skipped) step.
type StepResult struct {
	StepID             uuid.UUID            `json:"stepId"`
	StepName           string               `json:"stepName"`
	Status             StepStatus           `json:"status"`
	ResponseCode       int                  `json:"responseCode"`
	ResponseBody       string               `json:"responseBody,omitempty"`
	ResponseHeaders    map[string]string    `json:"responseHeaders,omitempty"`
	DurationMs         int64                `json:"durationMs"`
	ErrorMessage       string               `json:"errorMessage,omitempty"`
	FromCache          bool                 `json:"fromCache"`
	ExtractedVariables map[string]string    `json:"extractedVariables,omitempty"`
	Verifications      []VerificationResult `json:"verificationResults,omitempty"`
	RequestURL         string               `json:"requestUrl,omitempty"`
	RequestBody        string               `json:"requestBody,omitempty"`
	RequestHeaders     map[string]string    `json:"requestHeaders,omitempty"`
	RequestQueryParams map[string]string    `json:"requestQueryParams,omitempty"`
	Warnings           []string             `json:"warnings,omitempty"`
}

// SuiteResult aggregates a whole run.
type SuiteResult struct {
	RunID           uuid.UUID    `json:"runId"`
	SuiteID         uuid.UUID    `json:"suiteId"`
	SuiteName       string       `json:"suiteName"`
	Status          RunStatus    `json:"status"`
	Trigger         TriggerType  `json:"trigger"`
	StartedAt       time.Time    `json:"startedAt"`
	CompletedAt     time.Time    `json:"completedAt"`
	TotalDurationMs int64        `json:"totalDurationMs"`
	Steps           []StepResult `json:"steps"`
}
