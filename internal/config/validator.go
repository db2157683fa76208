package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fancyfn/fancy/internal/types"
)

// ConfigValidator validates configuration values.
type ConfigValidator interface {
	Validate(cfg *Config) error
}

// validatorImpl implements ConfigValidator using go-playground/validator.
type validatorImpl struct {
	validate *validator.Validate
}

// NewValidator creates a new ConfigValidator instance.
func NewValidator() ConfigValidator {
	return &validatorImpl{
		validate: validator.New(),
	}
}

// Validate validates the configuration and returns detailed error messages.
func (v *validatorImpl) Validate(cfg *Config) error {
	if cfg == nil {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "configuration is nil")
	}

	err := v.validate.Struct(cfg)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.WrapError(types.CONFIG_VALIDATION_FAILED, "validation error", err)
	}

	var messages []string
	for _, e := range validationErrs {
		messages = append(messages, formatValidationError(e))
	}
	return types.NewErrorf(types.CONFIG_VALIDATION_FAILED,
		"configuration validation failed:\n  - %s", strings.Join(messages, "\n  - "))
}

// formatValidationError renders one field error with its rule.
func formatValidationError(e validator.FieldError) string {
	field := strings.ToLower(e.Namespace())
	field = strings.TrimPrefix(field, "config.")

	switch e.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %q)", field, e.Param(), e.Value())
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, strings.ToLower(e.Param()))
	default:
		return fmt.Sprintf("%s failed %q validation (got: %v)", field, e.Tag(), e.Value())
	}
}
