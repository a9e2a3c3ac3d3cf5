package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their json names so error messages match
// the request body.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest checks req against its validate tags.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return NewValidationError(verrs)
	}
	return err
}

func fieldMessage(fe validator.FieldError) string {
	field := `"` + fe.Field() + `"`

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " length must be at least " + fe.Param() + " characters long"
	case "max":
		return field + " length must be less than or equal to " + fe.Param() + " characters long"
	case "email":
		return field + " must be a valid email"
	case "url":
		return field + " must be a valid uri"
	default:
		return field + " is invalid"
	}
}
