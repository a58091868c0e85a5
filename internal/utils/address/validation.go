package address

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NewValidator reports fields by their json name and adds the cardano_address, keyhash and txhash tags.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("cardano_address", func(fl validator.FieldLevel) bool {
		return ValidateCardanoAddress(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("keyhash", func(fl validator.FieldLevel) bool {
		return ValidateKeyHash(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("txhash", func(fl validator.FieldLevel) bool {
		return IsTxHash(fl.Field().String())
	})
	return v
}

// FirstError describes the first failed field of a validator error.
func FirstError(err error) (field, reason string) {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return "", err.Error()
	}
	fe := errs[0]
	reason = "failed " + fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	return fe.Field(), reason
}
