package validator

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Custom validation tags
const (
	TagPType        = "ptype"        // Casbin policy type: p, p2, g, g3 ...
	TagNoWhitespace = "nowhitespace" // No whitespace characters
)

var ptypeRegex = regexp.MustCompile(`^[pg][0-9]*$`)

func (v *Validator) registerCustomRules() {
	_ = v.validate.RegisterValidation(TagPType, validatePType)
	_ = v.validate.RegisterValidation(TagNoWhitespace, validateNoWhitespace)
}

func validatePType(fl validator.FieldLevel) bool {
	return ptypeRegex.MatchString(fl.Field().String())
}

// validateNoWhitespace validates that string contains no whitespace.
func validateNoWhitespace(fl validator.FieldLevel) bool {
	return !strings.ContainsFunc(fl.Field().String(), unicode.IsSpace)
}
