package schema

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator with the nutrition rules registered
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterValidation("healthlevel", validHealthLevel)
		validate.RegisterValidation("intent", validIntent)
		validate.RegisterValidation("notblank", notBlank)
	})
	return validate
}

// Validate runs struct validation over v
func Validate(v any) error {
	return Validator().Struct(v)
}

// validHealthLevel validates a health level ordinal
func validHealthLevel(fl validator.FieldLevel) bool {
	return HealthLevel(fl.Field().Int()).Valid()
}

func validIntent(fl validator.FieldLevel) bool {
	return Intent(fl.Field().String()).Valid()
}

func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}
