// Package validators checks request DTOs against their `validate` struct tags.
package validators

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/gatherly/backend/internal/errors"
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	v.RegisterValidation("password", validatePassword)
	v.RegisterValidation("taxid", validateTaxID)
	return v
}

var messages = map[string]string{
	"required": "The field '%s' is required.",
	"email":    "The field '%s' must be a valid email address.",
	"min":      "The field '%s' must be at least %s characters long.",
	"max":      "The field '%s' must be no longer than %s characters.",
	"gte":      "The field '%s' must be greater than or equal to %s.",
	"lte":      "The field '%s' must be less than or equal to %s.",
	"gtfield":  "The field '%s' must be after '%s'.",
	"dive":     "The field '%s' contains an invalid entry.",
	"password": "The field '%s' must be at least 8 characters, at most 72 bytes, and contain an upper-case letter, a lower-case letter and a digit.",
	"taxid":    "The field '%s' must be a 10-digit tax identification number.",
}

func message(e validator.FieldError) string {
	msg, ok := messages[e.Tag()]
	if !ok {
		return fmt.Sprintf("The field '%s' is invalid.", e.Field())
	}
	switch strings.Count(msg, "%s") {
	case 2:
		param := e.Param()
		if e.Tag() == "gtfield" {
			param = lowerFirst(param)
		}
		return fmt.Sprintf(msg, e.Field(), param)
	default:
		return fmt.Sprintf(msg, e.Field())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// Struct validates s and returns a single ValidationError listing every
// failed rule in field order, or nil.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.BadRequest("invalid request")
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, message(e))
	}
	return apperrors.ValidationErrors(msgs)
}

// MaxPasswordBytes is the longest input bcrypt will hash.
const MaxPasswordBytes = 72

// Password reports whether s satisfies the password policy.
func Password(s string) bool {
	if len(s) < 8 || len(s) > MaxPasswordBytes {
		return false
	}
	var upper, lower, digit bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}

func validatePassword(fl validator.FieldLevel) bool {
	return Password(fl.Field().String())
}

// NormalizeTaxID strips spaces and dashes.
func NormalizeTaxID(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, s)
}

func validateTaxID(fl validator.FieldLevel) bool {
	id := NormalizeTaxID(fl.Field().String())
	if len(id) != 10 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
