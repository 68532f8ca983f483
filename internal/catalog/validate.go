package catalog

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared struct validator with the editor's custom tags registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("clipkind", func(fl validator.FieldLevel) bool {
			return ClipKind(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("provider", func(fl validator.FieldLevel) bool {
			return IsKnownProvider(fl.Field().String())
		})
	})
	return validate
}

// ValidateStruct runs tag validation and reports failures as ErrValidation.
func ValidateStruct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return Invalid("%s", strings.Join(parts, "; "))
	}
	return Invalid("%v", err)
}

func IsKnownProvider(p string) bool {
	switch p {
	case ProviderRunway, ProviderKling, ProviderVeo3, ProviderSeadance, ProviderMock:
		return true
	}
	return false
}
