package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("unit_name", func(fl validator.FieldLevel) bool {
			return unit.ValidateName(unit.Name(fl.Field().String())) == nil
		})

		// port 0 asks the kernel for a free port
		_ = v.RegisterValidation("listen_address", func(fl validator.FieldLevel) bool {
			return isListenAddress(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// ValidateConfig checks the whole configuration. Any problem is a ConfigError,
// which is fatal before the supervisor starts.
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewConfigError("configuration cannot be nil", nil)
	}

	if err := validatorInstance().Struct(config); err != nil {
		return convertValidationError(config, err)
	}

	return nil
}

func isListenAddress(address string) bool {
	_, port, err := net.SplitHostPort(address)
	if err != nil || port == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

func convertValidationError(config *Config, err error) error {
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.NewConfigError("invalid configuration", err)
	}

	fe := ves[0]
	field := yamlishFieldName(fe)

	if fe.Tag() == "unit_name" {
		// surface the precise reason
		cause := unit.ValidateName(config.Unit.Name)
		return errors.NewConfigError("invalid unit name", cause).WithContext("field", field)
	}

	message := fmt.Sprintf("%s failed validation for tag '%s'", field, fe.Tag())
	return errors.NewConfigError(message, err).
		WithContext("field", field).
		WithContext("value", fmt.Sprint(fe.Value()))
}

func yamlishFieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		parts[i] = toSnake(part)
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUpper(c) {
			prevLower := i > 0 && !isUpper(s[i-1])
			endOfAcronym := i > 0 && i+1 < len(s) && !isUpper(s[i+1])
			if prevLower || endOfAcronym {
				b.WriteByte('_')
			}
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isUpper(c byte) bool {
	return c >= 'A' && c <= 'Z'
}
