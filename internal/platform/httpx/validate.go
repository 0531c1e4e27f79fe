package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("ymd", func(fl validator.FieldLevel) bool {
		_, err := ParseDate(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks struct tags and flattens failures into one bad-request error.
func Validate(target any) error {
	err := validate.Struct(target)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrBadRequest, strings.Join(msgs, "; "))
}

// DecodeAndValidate decodes the JSON body into target and validates it.
func DecodeAndValidate(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return err
	}
	return Validate(target)
}
