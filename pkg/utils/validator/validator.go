// Package validator validates request structs with go-playground/validator
// and reports failures as errors.ErrInvalidParam.
package validator

import (
	stderrors "errors"
	"reflect"
	"strings"
	"sync"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

// Validator wraps a configured *validator.Validate.
type Validator struct {
	validate *validator.Validate
	uni      *ut.UniversalTranslator
	trans    map[string]ut.Translator
}

var (
	defaultOnce sync.Once
	defaultV    *Validator
)

// New creates a Validator with the custom rules and their English and
// Chinese messages registered. Field names in errors are taken from json
// tags.
func New() *Validator {
	v := &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
	v.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	v.registerCustomRules()
	v.registerTranslations()
	return v
}

// Default returns the process-wide Validator.
func Default() *Validator {
	defaultOnce.Do(func() {
		defaultV = New()
	})
	return defaultV
}

// Struct validates s with English messages. A validation failure is
// returned as errors.ErrInvalidParam carrying the field messages; the cause
// is a *ValidationErrors.
func (v *Validator) Struct(s interface{}) error {
	return v.StructLang(s, LangEN)
}

// StructLang is Struct with messages in lang.
func (v *Validator) StructLang(s interface{}, lang string) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.ErrInvalidParam.WithMessage(err.Error()).WithCause(err)
	}

	trans := v.translator(lang)
	out := &ValidationErrors{Errors: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Errors = append(out.Errors, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: fe.Translate(trans),
		})
	}
	return errors.ErrInvalidParam.WithMessage(out.Error()).WithCause(out)
}

// Struct validates s with the default Validator.
func Struct(s interface{}) error {
	return Default().Struct(s)
}

// StructLang validates s with the default Validator, reporting messages in
// lang.
func StructLang(s interface{}, lang string) error {
	return Default().StructLang(s, lang)
}
