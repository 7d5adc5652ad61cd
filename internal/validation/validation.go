package validation

import (
	"fmt"
	"strings"
	"unicode"

	"wadeliver/internal/errors"
	"wadeliver/pkg/constants"
)

const (
	individualSuffix = "@c.us"
	groupSuffix      = "@g.us"

	// Group ids are either hyphenated (creator-timestamp) or longer than
	// any international phone number.
	groupIDMinDigits = 18
	maxPhoneDigits   = 15
)

// NormalizeDestination resolves a raw destination identifier into a fully
// qualified routing key, distinguishing individual chats from groups by id
// shape and length.
func NormalizeDestination(raw string) (string, error) {
	dest := strings.TrimSpace(raw)
	if dest == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "destination cannot be empty")
	}
	if len(dest) > constants.MaxDestinationLength {
		return "", errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("destination too long (max %d characters)", constants.MaxDestinationLength))
	}

	// Already qualified: validate the local part only.
	if strings.HasSuffix(dest, individualSuffix) {
		local := strings.TrimSuffix(dest, individualSuffix)
		if err := validatePhone(local); err != nil {
			return "", err
		}
		return strings.TrimPrefix(local, "+") + individualSuffix, nil
	}
	if strings.HasSuffix(dest, groupSuffix) {
		local := strings.TrimSuffix(dest, groupSuffix)
		if err := validateGroupID(local); err != nil {
			return "", err
		}
		return local + groupSuffix, nil
	}

	if strings.Contains(dest, "@") {
		return "", errors.New(errors.ErrCodeInvalidInput, "unrecognized destination suffix")
	}

	// Bare id: route by shape. Hyphenated or very long ids are groups.
	if strings.Contains(dest, "-") || digitCount(dest) >= groupIDMinDigits {
		if err := validateGroupID(dest); err != nil {
			return "", err
		}
		return dest + groupSuffix, nil
	}

	if err := validatePhone(dest); err != nil {
		return "", err
	}
	return strings.TrimPrefix(dest, "+") + individualSuffix, nil
}

// IsGroupDestination reports whether a normalized destination routes to a group.
func IsGroupDestination(dest string) bool {
	return strings.HasSuffix(dest, groupSuffix)
}

func validatePhone(phone string) error {
	cleaned := strings.TrimPrefix(phone, "+")

	if len(cleaned) < constants.MinPhoneNumberLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number must be at least %d digits", constants.MinPhoneNumberLength))
	}
	if len(cleaned) > maxPhoneDigits {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number too long (max %d digits)", maxPhoneDigits))
	}

	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return errors.New(errors.ErrCodeInvalidInput, "phone number must contain only digits")
		}
	}

	return nil
}

func validateGroupID(id string) error {
	if id == "" {
		return errors.New(errors.ErrCodeInvalidInput, "group id cannot be empty")
	}

	for _, char := range id {
		if !unicode.IsDigit(char) && char != '-' {
			return errors.New(errors.ErrCodeInvalidInput, "group id must contain only digits and hyphens")
		}
	}

	if digitCount(id) < constants.MinGroupIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("group id must contain at least %d digits", constants.MinGroupIDLength))
	}

	return nil
}

func digitCount(s string) int {
	count := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			count++
		}
	}
	return count
}

// ValidateMessageID validates message ID format and length
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "message ID cannot be empty")
	}

	if len(messageID) > constants.MaxMessageIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}

	for _, char := range messageID {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.New(errors.ErrCodeInvalidInput, "message ID contains invalid characters")
		}
	}

	return nil
}
