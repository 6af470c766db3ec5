package validator

import (
	"strings"
)

// FieldError describes one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// ValidationErrors collects every failed rule of one struct.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

// Error implements error.
func (e *ValidationErrors) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Count returns the number of failed rules.
func (e *ValidationErrors) Count() int {
	if e == nil {
		return 0
	}
	return len(e.Errors)
}
