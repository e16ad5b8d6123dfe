package sanitize

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/apperror"
)

// validate is a singleton validator instance with the naming tags registered
var validate *validator.Validate

func init() {
	validate = validator.New()
	mustRegister("nodetype", core.TypeNamePattern.MatchString)
	mustRegister("nodecode", core.CodePattern.MatchString)
	mustRegister("identifier", core.IdentifierPattern.MatchString)
	mustRegister("attrname", core.AttributeNamePattern.MatchString)
	mustRegister("reltype", core.RelationshipTypePattern.MatchString)
}

func mustRegister(tag string, match func(string) bool) {
	err := validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return match(fl.Field().String())
	})
	if err != nil {
		panic(err)
	}
}

// Headers are the identity headers every request carries
type Headers struct {
	ClientID  string `validate:"required,identifier"`
	RequestID string `validate:"required,identifier"`
	UserID    string `validate:"omitempty,identifier"`
}

var headerMessages = map[string]string{
	"ClientID":  "Invalid client id",
	"RequestID": "Invalid request id",
	"UserID":    "Invalid client user id",
}

// formatValidationError converts validator errors to the first user-facing
// message
func formatValidationError(err error, messages map[string]string) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}
	for _, e := range validationErrs {
		msg, ok := messages[e.StructField()]
		if !ok {
			msg = "Invalid " + e.Field()
		}
		if e.Tag() == "required" {
			return apperror.Validation("%s: value is required", msg)
		}
		return apperror.Validation("%s: `%v`", msg, e.Value())
	}
	return err
}

func matches(value, tag string) bool {
	return validate.Var(value, tag) == nil
}
