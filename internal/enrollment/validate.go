package enrollment

import (
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator

	notBlankTag = "notblank"
	batchRefTag = "batchref"
)

func init() {
	validate = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// JSON tag names in messages instead of Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, notBlank)
	_ = validate.RegisterValidation(batchRefTag, batchRef)

	noop := func(ut.Translator) error { return nil }
	for _, tag := range []string{notBlankTag, batchRefTag} {
		_ = validate.RegisterTranslation(tag, translator, noop, translateCustom)
	}
}

func translateCustom(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case notBlankTag:
		return fe.Field() + " cannot be blank"
	case batchRefTag:
		return fe.Field() + " is not a valid batch reference"
	default:
		return fe.Field() + " is invalid"
	}
}

func notBlank(fl validator.FieldLevel) bool {
	if s, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return false
}

// batchRef rejects placeholder strings that clients serialise for a missing batch.
func batchRef(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return ValidBatchID(s)
}

// ValidBatchID reports whether s can be stored as a batch reference.
func ValidBatchID(s string) bool {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "undefined", "null":
		return false
	}
	return true
}

// Struct validates v and converts the first violation into a *ValidationError.
func Struct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return NewValidationError(fe.Field(), fe.Translate(translator))
}
