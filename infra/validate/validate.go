package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/config"
	"github.com/shopspring/decimal"
)

var registerOnce sync.Once

// CustomValidate registers the project validators on the shared validator.
func CustomValidate() *validator.Validate {
	v := config.App().Validator
	registerOnce.Do(func() {
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})

		// decimal amounts validate as float64 so gt/lte tags apply
		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				return d.InexactFloat64()
			}
			return nil
		}, decimal.Decimal{})

		_ = v.RegisterValidation("doc_number", validateDocNumber)
	})
	return v
}

// validateDocNumber accepts an 11 digit CPF or a 14 digit CNPJ, punctuation ignored.
func validateDocNumber(fl validator.FieldLevel) bool {
	digits := 0
	for _, r := range fl.Field().String() {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' || r == '-' || r == '/':
		default:
			return false
		}
	}
	return digits == 11 || digits == 14
}

// Struct validates s and converts failures into a validation error listing
// the offending fields.
func Struct(s any) error {
	err := CustomValidate().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("invalid request: %v", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Field())
	case "gt", "gte", "lt", "lte", "min", "max":
		return fmt.Sprintf("%s must be %s %s", fe.Field(), fe.Tag(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "doc_number":
		return fmt.Sprintf("%s must be a valid CPF or CNPJ", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
