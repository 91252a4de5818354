package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no schema is registered for an event name.
	ErrNotFound      = errors.New("schema not found")
	ErrAlreadyExists = errors.New("schema already exists")
)

// Rule names the constraint a property broke.
type Rule string

const (
	RuleUnregistered Rule = "unregistered"
	RuleRequired     Rule = "required"
	RuleType         Rule = "type"
	RuleUnknownField Rule = "unknown_field"
	RuleFinite       Rule = "finite"
	RuleMin          Rule = "min"
	RuleMax          Rule = "max"
	RuleMinLength    Rule = "min_length"
	RuleMaxLength    Rule = "max_length"
	RulePattern      Rule = "pattern"
	RuleEnum         Rule = "enum"
)

// ValidationError is one rejected property of an event.
type ValidationError struct {
	Schema        string   `json:"schema"`
	Rule          Rule     `json:"rule"`
	Field         string   `json:"field,omitempty"`
	Message       string   `json:"message"`
	ExpectedType  string   `json:"expected_type,omitempty"`
	ActualType    string   `json:"actual_type,omitempty"`
	UnknownFields []string `json:"unknown_fields,omitempty"`

	err error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Schema)
	if e.Field != "" {
		b.WriteString(".")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap exposes ErrNotFound for unregistered event names.
func (e *ValidationError) Unwrap() error { return e.err }

// MultiValidationError holds every violation found in one event, in field order.
type MultiValidationError struct {
	Errors []*ValidationError
}

func (e *MultiValidationError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "validation failed"
	case 1:
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d violations: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// ValidationDetailer surfaces structured validation details for API error responses.
type ValidationDetailer interface {
	Details() map[string]interface{}
}

func (e *ValidationError) Details() map[string]interface{} {
	d := map[string]interface{}{"rule": string(e.Rule)}
	if e.Field != "" {
		d["field"] = e.Field
	}
	if len(e.UnknownFields) > 0 {
		d["unknown_fields"] = e.UnknownFields
	}
	return d
}

// Details lists the failing fields and one {field, rule, message} entry per violation.
func (e *MultiValidationError) Details() map[string]interface{} {
	var fields []string
	violations := make([]map[string]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		if ve.Field != "" {
			fields = append(fields, ve.Field)
		}
		violations = append(violations, map[string]string{
			"field":   ve.Field,
			"rule":    string(ve.Rule),
			"message": ve.Message,
		})
	}
	d := map[string]interface{}{"violations": violations}
	if len(fields) > 0 {
		d["fields"] = fields
	}
	return d
}

// NewNotFoundError reports an event name with no registered schema.
func NewNotFoundError(event string) *ValidationError {
	return &ValidationError{
		Schema:  event,
		Rule:    RuleUnregistered,
		Message: "no schema registered for event",
		err:     ErrNotFound,
	}
}

func NewUnknownFieldsError(schema string, fields []string) *ValidationError {
	return &ValidationError{
		Schema:        schema,
		Rule:          RuleUnknownField,
		Message:       fmt.Sprintf("unknown field(s) not allowed: %s", strings.Join(fields, ", ")),
		UnknownFields: fields,
	}
}

func NewTypeMismatchError(schema, field, expected, actual string) *ValidationError {
	return &ValidationError{
		Schema:       schema,
		Rule:         RuleType,
		Field:        field,
		Message:      fmt.Sprintf("expected %s, got %s", expected, actual),
		ExpectedType: expected,
		ActualType:   actual,
	}
}

func NewRequiredFieldError(schema, field string) *ValidationError {
	return newViolation(schema, field, RuleRequired, "required field is missing")
}

func newViolation(schema, field string, rule Rule, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Schema:  schema,
		Rule:    rule,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}
