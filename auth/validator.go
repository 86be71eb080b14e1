package auth

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func ValidateClaims(claims *Claims) error {
	return validate.Struct(claims)
}
