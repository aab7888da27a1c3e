package validate

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
var providerNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// New creates a validator with the custom rules used by request payloads
func New() *validator.Validate {
	v := validator.New()

	// ISO 4217 style three letter currency code
	v.RegisterValidation("currency_code", func(fl validator.FieldLevel) bool {
		return currencyPattern.MatchString(fl.Field().String())
	})

	// Registered provider names are lowercase identifiers
	v.RegisterValidation("provider_name", func(fl validator.FieldLevel) bool {
		return providerNamePattern.MatchString(fl.Field().String())
	})

	// Checkout mode is one of the two supported flows
	v.RegisterValidation("checkout_mode", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "one_time", "subscription":
			return true
		}
		return false
	})

	return v
}

// FormatErrors flattens validator errors into a readable message
func FormatErrors(err error) string {
	if err == nil {
		return ""
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	var parts []string
	for _, fe := range validationErrors {
		parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag()+" validation")
	}
	return strings.Join(parts, "; ")
}
