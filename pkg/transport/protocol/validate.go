package protocol

import (
	stderrors "errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/HMasataka/relay/pkg/domain"
	"github.com/go-playground/validator/v10"
)

// MaxSafeLength bounds identifiers accepted by the safe tag
const MaxSafeLength = 255

var safePattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-_@.]+$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator. Besides the built-in tags it knows
// "safe": alphanumerics, whitespace and -_@. only, at most MaxSafeLength bytes,
// and "chatroom": any room name outside the synthetic order:/product: scopes.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("safe", func(fl validator.FieldLevel) bool {
			return IsSafe(fl.Field().String())
		})
		_ = validate.RegisterValidation("chatroom", func(fl validator.FieldLevel) bool {
			return !domain.IsSyntheticRoom(fl.Field().String())
		})
	})
	return validate
}

// IsSafe reports whether s passes the safe identifier allow-list
func IsSafe(s string) bool {
	return len(s) <= MaxSafeLength && safePattern.MatchString(s)
}

// ValidateStruct validates s and flattens failures into one message such
// as "room: required; status: oneof".
func ValidateStruct(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return err
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+": "+fe.Tag())
	}
	return stderrors.New(strings.Join(parts, "; "))
}
