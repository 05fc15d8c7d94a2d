package chat

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

// requestReasons maps "field.tag" of a failed request rule to the message
// shown to the client.
var requestReasons = map[string]string{
	"recipient.required": "Recipient is required",
	"content.required":   "Message content is required",
	"messageType.oneof":  "Message type must be one of text, image, file",
	"userId.required":    "User id is required",
}

// checkRequest runs the struct tags of an inbound request and reports the
// first failure as a ValidationError.
func checkRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	reason, ok := requestReasons[fe.Field()+"."+fe.Tag()]
	if !ok {
		reason = fe.Field() + " is invalid"
	}
	return invalid(fe.Field(), reason)
}
