package validation

import (
	"strings"
	"testing"

	"github.com/nkkko/idled/internal/api/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeatName(t *testing.T) {
	for _, ok := range []string{"seat0", "seat-1", "vt.7", "A_b"} {
		assert.NoError(t, SeatName(ok), ok)
	}

	tests := map[string]string{
		"":                                   "required_field_missing",
		"seat 0":                             "invalid_seat",
		"seat/0":                             "invalid_seat",
		strings.Repeat("s", MaxSeatLength+1): "max_length_exceeded",
	}
	for in, code := range tests {
		err := SeatName(in)
		require.Error(t, err, in)
		var apiErr *errors.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, code, apiErr.Code, in)
	}
}

func TestMaxLengthMessage(t *testing.T) {
	err := MaxLength("reason", "abcdef", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at most 3 characters")
}

func TestLimit(t *testing.T) {
	n, err := Limit("", 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	n, err = Limit("5", 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = Limit("5000", 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)

	for _, bad := range []string{"0", "-1", "ten"} {
		_, err := Limit(bad, 100, 1000)
		assert.Error(t, err, bad)
	}
}
