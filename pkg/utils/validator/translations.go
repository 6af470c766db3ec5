package validator

import (
	"strings"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

// Supported message languages.
const (
	LangEN = "en"
	LangZH = "zh"
)

var customMessages = map[string]map[string]string{
	LangEN: {
		TagPType:        "{0} must be a policy type such as p, p2, g or g2",
		TagNoWhitespace: "{0} must not contain whitespace",
	},
	LangZH: {
		TagPType:        "{0}必须是策略类型，例如 p、p2、g 或 g2",
		TagNoWhitespace: "{0}不能包含空白字符",
	},
}

func (v *Validator) registerTranslations() {
	enLocale := en.New()
	v.uni = ut.New(enLocale, enLocale, zh.New())

	v.trans = make(map[string]ut.Translator, 2)
	if trans, ok := v.uni.GetTranslator(LangEN); ok {
		_ = en_translations.RegisterDefaultTranslations(v.validate, trans)
		v.trans[LangEN] = trans
	}
	if trans, ok := v.uni.GetTranslator(LangZH); ok {
		_ = zh_translations.RegisterDefaultTranslations(v.validate, trans)
		v.trans[LangZH] = trans
	}

	for lang, msgs := range customMessages {
		trans, ok := v.trans[lang]
		if !ok {
			continue
		}
		for tag, msg := range msgs {
			registerTranslation(v.validate, trans, tag, msg)
		}
	}
}

func registerTranslation(validate *validator.Validate, trans ut.Translator, tag, message string) {
	_ = validate.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	)
}

// translator returns the translator for lang, falling back to English.
func (v *Validator) translator(lang string) ut.Translator {
	if trans, ok := v.trans[lang]; ok {
		return trans
	}
	return v.trans[LangEN]
}

// LanguageFromHeader picks a supported language from an Accept-Language
// header value. Unsupported or empty values yield LangEN.
func LanguageFromHeader(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		base, _, _ := strings.Cut(strings.ToLower(tag), "-")
		switch base {
		case LangEN, LangZH:
			return base
		}
	}
	return LangEN
}
