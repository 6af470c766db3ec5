package validator

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

type ruleRequest struct {
	PType string   `json:"ptype" validate:"required,ptype"`
	Rule  []string `json:"rule" validate:"min=1,dive,nowhitespace"`
}

func TestStructValid(t *testing.T) {
	assert.NoError(t, Struct(&ruleRequest{PType: "p", Rule: []string{"alice", "data1", "read"}}))
	assert.NoError(t, Struct(&ruleRequest{PType: "g2", Rule: []string{"alice", "admin"}}))
}

func TestStructInvalid(t *testing.T) {
	tests := []struct {
		name  string
		req   ruleRequest
		field string
		tag   string
	}{
		{"missing ptype", ruleRequest{Rule: []string{"a"}}, "ptype", "required"},
		{"bad ptype", ruleRequest{PType: "x1", Rule: []string{"a"}}, "ptype", TagPType},
		{"empty rule", ruleRequest{PType: "p"}, "rule", "min"},
		{"whitespace", ruleRequest{PType: "p", Rule: []string{"al ice"}}, "rule[0]", TagNoWhitespace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(&tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidParam)

			var verrs *ValidationErrors
			require.True(t, stderrors.As(err, &verrs))
			require.Equal(t, 1, verrs.Count())
			assert.Equal(t, tt.field, verrs.Errors[0].Field)
			assert.Equal(t, tt.tag, verrs.Errors[0].Tag)
		})
	}
}

func TestValidationErrorsError(t *testing.T) {
	var nilErrs *ValidationErrors
	assert.Equal(t, "", nilErrs.Error())
	assert.Zero(t, nilErrs.Count())

	errs := &ValidationErrors{Errors: []FieldError{
		{Field: "ptype", Tag: "required", Message: "ptype is required"},
		{Field: "rule", Tag: "min", Message: "rule must have at least 1 items"},
	}}
	assert.Equal(t, "validation failed: ptype is required; rule must have at least 1 items", errs.Error())
}

func TestStructMessages(t *testing.T) {
	tests := []struct {
		name string
		lang string
		req  ruleRequest
		want string
	}{
		{"required en", LangEN, ruleRequest{Rule: []string{"a"}}, "ptype is a required field"},
		{"ptype en", LangEN, ruleRequest{PType: "x1", Rule: []string{"a"}}, "ptype must be a policy type such as p, p2, g or g2"},
		{"whitespace en", LangEN, ruleRequest{PType: "p", Rule: []string{"al ice"}}, "rule[0] must not contain whitespace"},
		{"ptype zh", LangZH, ruleRequest{PType: "x1", Rule: []string{"a"}}, "ptype必须是策略类型，例如 p、p2、g 或 g2"},
		{"unknown language", "fr", ruleRequest{Rule: []string{"a"}}, "ptype is a required field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := StructLang(&tt.req, tt.lang)
			var verrs *ValidationErrors
			require.True(t, stderrors.As(err, &verrs))
			require.Equal(t, 1, verrs.Count())
			assert.Equal(t, tt.want, verrs.Errors[0].Message)
		})
	}
}

func TestLanguageFromHeader(t *testing.T) {
	assert.Equal(t, LangEN, LanguageFromHeader(""))
	assert.Equal(t, LangZH, LanguageFromHeader("zh-CN,zh;q=0.9,en;q=0.8"))
	assert.Equal(t, LangEN, LanguageFromHeader("en-US"))
	assert.Equal(t, LangZH, LanguageFromHeader("fr-FR, zh;q=0.5"))
	assert.Equal(t, LangEN, LanguageFromHeader("de"))
}
