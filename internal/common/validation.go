package common

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// FieldError represents a single validation failure
type FieldError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Validator provides validation utilities
type Validator struct {
	errors []FieldError
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{
		errors: make([]FieldError, 0),
	}
}

// Field validates a field and collects errors
func (v *Validator) Field(fieldName string, value interface{}, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(fieldName, value); err != nil {
			v.errors = append(v.errors, *err)
			// first failing rule per field is enough
			break
		}
	}
	return v
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []FieldError {
	return v.errors
}

// Error returns the collected failures as a validation-kind AppError, or nil.
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}
	return ValidationError(v.ErrorMessage())
}

// ErrorMessage returns a combined error message as string
func (v *Validator) ErrorMessage() string {
	if !v.HasErrors() {
		return ""
	}

	var messages []string
	for _, err := range v.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// ValidationRule represents a single validation rule
type ValidationRule func(fieldName string, value interface{}) *FieldError

// Required - Common validation rules
func Required(fieldName string, value interface{}) *FieldError {
	if value == nil {
		return &FieldError{Field: fieldName, Value: value, Message: "is required"}
	}

	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return &FieldError{Field: fieldName, Value: value, Message: "is required"}
		}
	case *string:
		if v == nil || strings.TrimSpace(*v) == "" {
			return &FieldError{Field: fieldName, Value: value, Message: "is required"}
		}
	case []byte:
		if len(v) == 0 {
			return &FieldError{Field: fieldName, Value: "<empty>", Message: "is required"}
		}
	}
	return nil
}

func MinLengthRule(min int) ValidationRule {
	return func(fieldName string, value interface{}) *FieldError {
		str, ok := value.(string)
		if !ok {
			return nil
		}
		if utf8.RuneCountInString(str) < min {
			return &FieldError{Field: fieldName, Value: value, Message: fmt.Sprintf("must be at least %d characters", min)}
		}
		return nil
	}
}

func MaxLengthRule(max int) ValidationRule {
	return func(fieldName string, value interface{}) *FieldError {
		str, ok := value.(string)
		if !ok {
			return nil
		}
		if utf8.RuneCountInString(str) > max {
			return &FieldError{Field: fieldName, Value: value, Message: fmt.Sprintf("must be at most %d characters", max)}
		}
		return nil
	}
}

// MaxBytes bounds the size of a byte payload.
func MaxBytes(max int64) ValidationRule {
	return func(fieldName string, value interface{}) *FieldError {
		b, ok := value.([]byte)
		if !ok {
			return nil
		}
		if int64(len(b)) > max {
			return &FieldError{Field: fieldName, Value: len(b), Message: fmt.Sprintf("must be at most %d bytes", max)}
		}
		return nil
	}
}

func OneOf(allowed ...string) ValidationRule {
	return func(fieldName string, value interface{}) *FieldError {
		str, _ := value.(string)
		for _, a := range allowed {
			if str == a {
				return nil
			}
		}
		return &FieldError{Field: fieldName, Value: value, Message: "must be one of " + strings.Join(allowed, ", ")}
	}
}

// Fail always reports message; used for checks computed outside the rule set.
func Fail(message string) ValidationRule {
	return func(fieldName string, value interface{}) *FieldError {
		return &FieldError{Field: fieldName, Value: value, Message: message}
	}
}

func UUID(fieldName string, value interface{}) *FieldError {
	str, ok := value.(string)
	if !ok {
		return &FieldError{Field: fieldName, Value: value, Message: "must be a string"}
	}

	if _, err := uuid.Parse(str); err != nil {
		return &FieldError{
			Field:   fieldName,
			Value:   value,
			Message: "must be a valid UUID",
		}
	}
	return nil
}
