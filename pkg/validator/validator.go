// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package validator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var (
	hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)
	regionPattern   = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	versionPattern  = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)
)

func init() {
	validate = validator.New()

	// Use JSON tag names for error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Register custom validations
	_ = validate.RegisterValidation("hostnamechars", validateHostnameChars)
	_ = validate.RegisterValidation("regionchars", validateRegionChars)
	_ = validate.RegisterValidation("versionchars", validateVersionChars)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	var msgs []string
	for _, err := range v {
		msgs = append(msgs, err.Field+": "+err.Message)
	}
	return strings.Join(msgs, "; ")
}

// Validate validates a struct
func Validate(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	var errs ValidationErrors
	for _, e := range validationErrors {
		errs = append(errs, ValidationError{
			Field:   e.Field(),
			Message: getErrorMessage(e),
		})
	}

	return errs
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}

func getErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return "must be at least " + e.Param() + " characters"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "uuid":
		return "must be a valid UUID"
	case "hostnamechars":
		return "must contain only letters, digits, '.', and '-'"
	case "regionchars":
		return "must contain only letters and digits"
	case "versionchars":
		return "must contain only letters, digits, '.', and '-'"
	default:
		return "failed validation: " + e.Tag()
	}
}

// validateHostnameChars restricts a field to ASCII alphanumeric, '-', '.' —
// the charset allowed in MC/MH identifiers and hostnames.
func validateHostnameChars(fl validator.FieldLevel) bool {
	return hostnamePattern.MatchString(fl.Field().String())
}

// validateRegionChars restricts a field to alphanumeric region codes.
func validateRegionChars(fl validator.FieldLevel) bool {
	return regionPattern.MatchString(fl.Field().String())
}

// validateVersionChars allows the semver-ish charset used by MC/MH version strings.
func validateVersionChars(fl validator.FieldLevel) bool {
	return versionPattern.MatchString(fl.Field().String())
}
