package utils

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()

	// Custom validations
	v.RegisterValidation("gateway_signature", validateGatewaySignature)

	return &Validator{
		validate: v,
	}
}

func (v *Validator) Struct(s interface{}) error {
	return v.validate.Struct(s)
}

// Message flattens validation errors into one client-facing line.
func Message(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "gateway_signature":
			parts = append(parts, fmt.Sprintf("%s must be a 64 character hex digest", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(parts, "; ")
}

// Gateway signatures are hex HMAC-SHA256 digests.
func validateGatewaySignature(fl validator.FieldLevel) bool {
	sig := fl.Field().String()
	if len(sig) != 64 {
		return false
	}
	_, err := hex.DecodeString(sig)
	return err == nil
}
