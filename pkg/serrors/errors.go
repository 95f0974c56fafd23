package serrors

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// BaseError is a coded error. Codes are stable identifiers consumed by the
// application layer; messages are developer-facing defaults.
type BaseError struct {
	Code         string
	Message      string
	LocaleKey    string
	TemplateData map[string]string
}

func NewError(code, message, localeKey string) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   message,
		LocaleKey: localeKey,
	}
}

func (e *BaseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithTemplateData returns a copy carrying contextual key/value pairs.
func (e *BaseError) WithTemplateData(data map[string]string) *BaseError {
	clone := *e
	clone.TemplateData = data
	return &clone
}

// Is matches by code so wrapped instances compare equal to their sentinel.
func (e *BaseError) Is(target error) bool {
	var be *BaseError
	if !errors.As(target, &be) {
		return false
	}
	return e.Code == be.Code
}

// Code extracts the stable error code from err, or "" when err carries none.
func Code(err error) string {
	var be *BaseError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// ValidationErrors maps DTO field names to their failed error.
type ValidationErrors map[string]*BaseError

// Messages renders developer-facing messages keyed by field.
func (v ValidationErrors) Messages() map[string]string {
	out := make(map[string]string, len(v))
	for field, err := range v {
		out[field] = err.Message
	}
	return out
}

// ProcessValidatorErrors converts go-playground validator failures into coded
// errors. localeKeyFn may return "" when a field has no translation entry.
func ProcessValidatorErrors(errs validator.ValidationErrors, localeKeyFn func(field string) string) ValidationErrors {
	out := make(ValidationErrors, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		out[field] = NewError(
			"VALIDATION_"+fe.Tag(),
			fmt.Sprintf("field %s failed validation on %q", field, fe.Tag()),
			localeKeyFn(field),
		)
	}
	return out
}
