package unit

import (
	"strings"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
)

const maxNameLength = 256

// ValidateName checks that a unit name is safe to pass as a single argv token.
// systemd allows ASCII letters, digits, ":", "-", "_", ".", "\" and "@".
func ValidateName(name Name) error {
	s := string(name)
	if s == "" {
		return errors.NewValidationError("unit name cannot be empty", nil)
	}

	if len(s) > maxNameLength {
		return errors.NewValidationError("unit name cannot exceed 256 characters", nil).WithContext("unit", s)
	}

	if strings.HasPrefix(s, "-") {
		return errors.NewValidationError("unit name cannot start with '-'", nil).WithContext("unit", s)
	}

	for _, char := range s {
		if !isValidNameChar(char) {
			return errors.NewValidationError(
				"unit name contains invalid characters: only letters, numbers, ':', '-', '_', '.', '\\' and '@' are allowed",
				nil,
			).WithContext("unit", s)
		}
	}

	if strings.HasSuffix(s, ".") || strings.HasSuffix(s, "@") {
		return errors.NewValidationError("unit name cannot end with '.' or '@'", nil).WithContext("unit", s)
	}

	return nil
}

func isValidNameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == ':' || char == '-' || char == '_' || char == '.' || char == '\\' || char == '@'
}
