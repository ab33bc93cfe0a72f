package account

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type credentials struct {
	Username   string `validate:"required,max=50"`
	Credential string `validate:"required,max=256"`
}

// ValidateCredentials checks the shape of a username/credential pair before
// any hashing or storage work is done.
func ValidateCredentials(username, credential string) error {
	if err := validate.Struct(credentials{Username: username, Credential: credential}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	if strings.ContainsAny(username, ": \t") {
		return fmt.Errorf("%w: username must not contain whitespace or ':'", ErrInvalidAccount)
	}
	return nil
}
