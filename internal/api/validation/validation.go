package validation

import (
	"strconv"

	"github.com/nkkko/idled/internal/api/errors"
)

// MaxSeatLength bounds seat names accepted over HTTP
const MaxSeatLength = 64

// Required validates that a string is not empty
func Required(field, value string) error {
	if value == "" {
		return errors.ValidationError("required_field_missing", field+" is required")
	}
	return nil
}

// MaxLength validates that a string is not longer than the specified max length
func MaxLength(field, value string, maxLen int) error {
	if len(value) > maxLen {
		return errors.ValidationError(
			"max_length_exceeded",
			field+" must be at most "+strconv.Itoa(maxLen)+" characters",
		)
	}
	return nil
}

// SeatName validates a seat name: letters, digits, '.', '_' and '-'
func SeatName(value string) error {
	if err := Required("seat", value); err != nil {
		return err
	}
	if err := MaxLength("seat", value, MaxSeatLength); err != nil {
		return err
	}
	for _, c := range value {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return errors.ValidationError("invalid_seat", "seat may only contain letters, digits, '.', '_' and '-'")
		}
	}
	return nil
}

// Limit parses an optional positive limit, clamping it to max
func Limit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.ValidationError("invalid_limit", "limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
