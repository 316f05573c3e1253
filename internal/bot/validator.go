package bot

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidAddress indicates a malformed server address
	ErrInvalidAddress = errors.New("invalid server address")
	// ErrInvalidNickname indicates an invalid server nickname
	ErrInvalidNickname = errors.New("invalid server nickname")
	// ErrNicknameTooLong indicates nickname exceeds maximum length
	ErrNicknameTooLong = errors.New("server nickname too long")
	// ErrInvalidServerType indicates an unrecognized server type option
	ErrInvalidServerType = errors.New("invalid server type")
)

const maxNicknameLength = 50

// InputValidator validates user-supplied command input before it reaches
// the store.
type InputValidator struct {
	hostnameRegex *regexp.Regexp
	controlRegex  *regexp.Regexp
}

// NewInputValidator creates a new input validator
func NewInputValidator() *InputValidator {
	return &InputValidator{
		hostnameRegex: regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9.-]*[a-zA-Z0-9])?$`),
		controlRegex:  regexp.MustCompile(`[\x00-\x1f\x7f]`),
	}
}

// ValidateAddress validates a server hostname or IP address (without port).
func (v *InputValidator) ValidateAddress(address string) error {
	if address == "" {
		return ErrInvalidAddress
	}

	if len(address) > 253 {
		return ErrInvalidAddress
	}

	if !v.hostnameRegex.MatchString(address) {
		return ErrInvalidAddress
	}

	return nil
}

// ValidateNickname validates a server nickname
func (v *InputValidator) ValidateNickname(name string) error {
	if name == "" {
		return nil
	}

	if len(name) > maxNicknameLength {
		return ErrNicknameTooLong
	}

	// Check for potentially dangerous characters
	if strings.ContainsAny(name, "<>\"'&;@`") {
		return ErrInvalidNickname
	}

	return nil
}

// SanitizeInput removes potentially dangerous characters from user input
func (v *InputValidator) SanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = v.controlRegex.ReplaceAllString(input, "")
	return strings.TrimSpace(input)
}
