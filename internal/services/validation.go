package services

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	alphaNumUnderTag   = "alphanum_"
	alphaNumUnderText  = "{0} may only contain letters, digits and underscores"
	alphaNumUnderRegex = regexp.MustCompile(`^\w+$`)
)

// Validator checks command structs against their validate tags and reports
// failures keyed by JSON field name.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// NewValidator builds the shared validator. It panics if the translations
// or custom tags cannot be registered, since that is a wiring bug.
func NewValidator() *Validator {
	v, err := newValidator()
	if err != nil {
		panic(err)
	}
	return v
}

func newValidator() (*Validator, error) {
	validate := validator.New()

	english := en.New()
	uni := ut.New(english, english)
	translator, found := uni.GetTranslator("en")
	if !found {
		return nil, errors.New("validator: en translator not found")
	}
	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		return nil, fmt.Errorf("validator: register en translations: %w", err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	err := validate.RegisterValidation(alphaNumUnderTag, func(fl validator.FieldLevel) bool {
		return alphaNumUnderRegex.MatchString(fl.Field().String())
	})
	if err != nil {
		return nil, fmt.Errorf("validator: register %s: %w", alphaNumUnderTag, err)
	}
	err = validate.RegisterTranslation(
		alphaNumUnderTag, translator,
		func(t ut.Translator) error { return t.Add(alphaNumUnderTag, alphaNumUnderText, false) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, err := t.T(alphaNumUnderTag, fe.Field())
			if err != nil {
				return fe.Error()
			}
			return s
		},
	)
	if err != nil {
		return nil, fmt.Errorf("validator: translate %s: %w", alphaNumUnderTag, err)
	}

	return &Validator{validate: validate, translator: translator}, nil
}

// Struct validates value. The returned error is a *ValidationError when
// any tag fails.
func (v *Validator) Struct(value any) error {
	err := v.validate.Struct(value)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	result := &ValidationError{Fields: make([]FieldError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		result.Fields = append(result.Fields, FieldError{
			Field:   fe.Field(),
			Message: fe.Translate(v.translator),
		})
	}
	return result
}

// fieldErrors accumulates hand-written checks that tags cannot express.
type fieldErrors []FieldError

func (f *fieldErrors) add(field, message string) {
	*f = append(*f, FieldError{Field: field, Message: message})
}

// merge combines a tag validation result with extra checks.
func (f fieldErrors) merge(err error) error {
	var validationErr *ValidationError
	switch {
	case err == nil:
		if len(f) == 0 {
			return nil
		}
		return &ValidationError{Fields: f}
	case errors.As(err, &validationErr):
		validationErr.Fields = append(validationErr.Fields, f...)
		return validationErr
	default:
		return err
	}
}
