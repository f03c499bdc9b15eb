package validator

import (
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/conceptscan/conceptscan/internal/inference"
)

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

func NewConceptValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("color_hex", colorHexValidator),
		},
	}
}

func NewJobValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("inference_method", inferenceMethodValidator),
		},
	}
}

var colorHexRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func colorHexValidator(fl validator.FieldLevel) bool {
	return colorHexRe.MatchString(fl.Field().String())
}

func inferenceMethodValidator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, err := inference.ParseMethod(value)
	return err == nil
}
