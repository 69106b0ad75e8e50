package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/cloudplan/pkg/engine"
)

var envNamePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Environment names prefix cloud resource names, so they must be DNS labels.
	_ = v.RegisterValidation("envname", func(fl validator.FieldLevel) bool {
		return envNamePattern.MatchString(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// BuildEnvironment converts the resolved environment section into a validated
// engine.Environment.
func BuildEnvironment(c *Canonical) (engine.Environment, error) {
	env := engine.Environment{
		Name:     c.Environment.String(OptName),
		Provider: engine.ProviderKind(strings.ToLower(c.Environment.String(OptProvider))),
		Tier:     engine.Tier(strings.ToLower(c.Environment.String(OptTier))),
		Region:   c.Environment.String(OptRegion),
		Labels:   c.Environment.Map(OptLabels),
	}
	if err := ValidateEnvironment(env); err != nil {
		return engine.Environment{}, err
	}
	return env, nil
}

// ValidateEnvironment checks env against its struct constraints and reports
// the first offending field as a ConfigError.
func ValidateEnvironment(env engine.Environment) error {
	err := validate.Struct(env)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return engine.NewConfigError(EnvironmentSection, err.Error())
	}

	fe := verrs[0]
	field := EnvironmentSection + "." + fe.Field()
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", field)
	case "oneof":
		msg = fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "envname":
		msg = fmt.Sprintf("%s must be a lowercase DNS label, got %q", field, fe.Value())
	case "min", "max":
		msg = fmt.Sprintf("%s must be between 3 and 40 characters, got %q", field, fe.Value())
	default:
		msg = fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
	return engine.NewConfigError(field, msg).WithCode(engine.ErrCodeInvalidValue)
}
