// Package model defines the catalog entities the engine executes:
// environments, suites, steps and their attached collections.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ValueType describes how an environment variable or default header
// produces its value at resolution time.
type ValueType string

const (
	ValueStatic       ValueType = "STATIC"
	ValueVariable     ValueType = "VARIABLE"
	ValueUUID         ValueType = "UUID"
	ValueISOTimestamp ValueType = "ISO_TIMESTAMP"
)

// EnvVariable is a named value inside an environment.
type EnvVariable struct {
	Key    string    `json:"key"`
	Value  string    `json:"value"`
	Type   ValueType `json:"type"`
	Secret bool      `json:"secret"`
}

// DefaultHeader is a header applied to every step request unless disabled.
type DefaultHeader struct {
	Key   string    `json:"key"`
	Value string    `json:"value"`
	Type  ValueType `json:"type"`
}

// Connector is a typed, configured handle to an external system.
type Connector struct {
	Name   string            `json:"name"`
	Type   ConnectorType     `json:"type"`
	Config map[string]string `json:"config"`
}

// ConnectorType tags the driver a connector dispatches to.
type ConnectorType string

const (
	ConnectorMySQL         ConnectorType = "MYSQL"
	ConnectorPostgres      ConnectorType = "POSTGRES"
	ConnectorOracle        ConnectorType = "ORACLE"
	ConnectorSQLServer     ConnectorType = "SQLSERVER"
	ConnectorRedis         ConnectorType = "REDIS"
	ConnectorElasticsearch ConnectorType = "ELASTICSEARCH"
	ConnectorKafka         ConnectorType = "KAFKA"
	ConnectorRabbitMQ      ConnectorType = "RABBITMQ"
	ConnectorMongoDB       ConnectorType = "MONGODB"
)

// Environment bundles variables, default headers, connectors and files.
type Environment struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Variables      []EnvVariable   `json:"variables"`
	DefaultHeaders []DefaultHeader `json:"defaultHeaders"`
	Connectors     []Connector     `json:"connectors"`
	FileKeys       []string        `json:"fileKeys"`
	DeletedAt      *time.Time      `json:"deletedAt,omitempty"`
}

// Variable returns the variable with the given key.
func (e *Environment) Variable(key string) (EnvVariable, bool) {
	for _, v := range e.Variables {
		if v.Key == key {
			return v, true
		}
	}
	return EnvVariable{}, false
}

// ConnectorByName returns the connector with the given name.
func (e *Environment) ConnectorByName(name string) (Connector, bool) {
	for _, c := range e.Connectors {
		if c.Name == name {
			return c, true
		}
	}
	return Connector{}, false
}

// Suite is a named ordered collection of steps.
type Suite struct {
	ID                   uuid.UUID  `json:"id"`
	Name                 string     `json:"name"`
	DefaultEnvironmentID *uuid.UUID `json:"defaultEnvironmentId,omitempty"`
	Steps                []Step     `json:"steps"`
	DeletedAt            *time.Time `json:"deletedAt,omitempty"`
}

// StepByID returns the step with the given id.
func (s *Suite) StepByID(id uuid.UUID) (*Step, bool) {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return &s.Steps[i], true
		}
	}
	return nil, false
}

// StepByName returns the step with the given name.
func (s *Suite) StepByName(name string) (*Step, bool) {
	for i := range s.Steps {
		if s.Steps[i].Name == name {
			return &s.Steps[i], true
		}
	}
	return nil, false
}

// BodyType selects how a step request body is built.
type BodyType string

const (
	BodyNone     BodyType = "NONE"
	BodyJSON     BodyType = "JSON"
	BodyFormData BodyType = "FORM_DATA"
)

// FormFieldType distinguishes text parts from file parts.
type FormFieldType string

const (
	FormFieldText FormFieldType = "text"
	FormFieldFile FormFieldType = "file"
)

// KeyValue is an ordered header or query parameter pair.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FormField is one part of a multipart form body.
type FormField struct {
	Key   string        `json:"key"`
	Type  FormFieldType `json:"type"`
	Value string        `json:"value"`
}

// Dependency declares that a step needs another step's result.
type Dependency struct {
	DependsOnStepID  uuid.UUID `json:"dependsOnStepId"`
	UseCache         bool      `json:"useCache"`
	ReuseManualInput bool      `json:"reuseManualInput"`
}

// HandlerAction is what a matched response handler does.
type HandlerAction string

const (
	ActionSuccess        HandlerAction = "SUCCESS"
	ActionError          HandlerAction = "ERROR"
	ActionRetry          HandlerAction = "RETRY"
	ActionFireSideEffect HandlerAction = "FIRE_SIDE_EFFECT"
)

// ResponseHandler classifies a response by status code.
// MatchCode is an exact status ("200") or a range pattern ("2xx".."5xx").
type ResponseHandler struct {
	Priority          int           `json:"priority"`
	MatchCode         string        `json:"matchCode"`
	Action            HandlerAction `json:"action"`
	RetryCount        int           `json:"retryCount"`
	RetryDelaySeconds int           `json:"retryDelaySeconds"`
	SideEffectStepID  *uuid.UUID    `json:"sideEffectStepId,omitempty"`
}

// ExtractionSource names where an extracted variable reads from.
type ExtractionSource string

const (
	SourceResponseBody   ExtractionSource = "RESPONSE_BODY"
	SourceResponseHeader ExtractionSource = "RESPONSE_HEADER"
	SourceStatusCode     ExtractionSource = "STATUS_CODE"
	SourceRequestBody    ExtractionSource = "REQUEST_BODY"
	SourceRequestHeader  ExtractionSource = "REQUEST_HEADER"
	SourceQueryParam     ExtractionSource = "QUERY_PARAM"
	SourceRequestURL     ExtractionSource = "REQUEST_URL"
)

// Extraction computes one variable binding after a step completes.
type Extraction struct {
	VariableName string           `json:"variableName"`
	JSONPath     string           `json:"jsonPath"`
	Source       ExtractionSource `json:"source"`
}

// AssertionOperator compares an extracted value against an expectation.
type AssertionOperator string

const (
	OpEquals      AssertionOperator = "EQUALS"
	OpNotEquals   AssertionOperator = "NOT_EQUALS"
	OpContains    AssertionOperator = "CONTAINS"
	OpNotContains AssertionOperator = "NOT_CONTAINS"
	OpRegex       AssertionOperator = "REGEX"
	OpGT          AssertionOperator = "GT"
	OpLT          AssertionOperator = "LT"
	OpGTE         AssertionOperator = "GTE"
	OpLTE         AssertionOperator = "LTE"
	OpExists      AssertionOperator = "EXISTS"
	OpNotExists   AssertionOperator = "NOT_EXISTS"
)

// Assertion is one check evaluated against a verification result tree.
type Assertion struct {
	JSONPath      string            `json:"jsonPath"`
	Operator      AssertionOperator `json:"operator"`
	ExpectedValue string            `json:"expectedValue"`
}

// Verification runs a connector query after (and optionally a listener
// before) the step's HTTP call.
type Verification struct {
	ConnectorName       string      `json:"connectorName"`
	Query               string      `json:"query"`
	TimeoutSeconds      int         `json:"timeoutSeconds"`
	QueryTimeoutSeconds int         `json:"queryTimeoutSeconds"`
	PreListen           bool        `json:"preListen"`
	Assertions          []Assertion `json:"assertions"`
}

// Step is one HTTP call plus its dependencies, handlers, extractions
// and verifications.
type Step struct {
	ID                     uuid.UUID         `json:"id"`
	Name                   string            `json:"name"`
	Method                 string            `json:"method"`
	URL                    string            `json:"url"`
	Headers                []KeyValue        `json:"headers"`
	BodyType               BodyType          `json:"bodyType"`
	Body                   string            `json:"body"`
	FormFields             []FormField       `json:"formFields"`
	QueryParams            []KeyValue        `json:"queryParams"`
	Cacheable              bool              `json:"cacheable"`
	CacheTTLSeconds        int               `json:"cacheTtlSeconds"`
	DependencyOnly         bool              `json:"dependencyOnly"`
	SortOrder              int               `json:"sortOrder"`
	DisabledDefaultHeaders []string          `json:"disabledDefaultHeaders"`
	Dependencies           []Dependency      `json:"dependencies"`
	Handlers               []ResponseHandler `json:"responseHandlers"`
	Extractions            []Extraction      `json:"extractedVariables"`
	Verifications          []Verification    `json:"verifications"`
	DeletedAt              *time.Time        `json:"deletedAt,omitempty"`
}

// Schedule triggers a suite on a cron expression.
type Schedule struct {
	ID            uuid.UUID  `json:"id"`
	SuiteID       uuid.UUID  `json:"suiteId"`
	EnvironmentID uuid.UUID  `json:"environmentId"`
	Expression    string     `json:"expression"`
	Enabled       bool       `json:"enabled"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
}
