package seat

import (
	"testing"

	"github.com/nkkko/idled/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry("seat0", "")

	assert.True(t, r.Exists("seat0"))
	assert.False(t, r.Exists(""))
	assert.False(t, r.Exists("seat1"))

	assert.True(t, r.Add("seat1"))
	assert.False(t, r.Add("seat1"), "adding twice reports false")
	assert.False(t, r.Add(""))

	assert.Equal(t, []domain.SeatID{"seat0", "seat1"}, r.List())

	assert.True(t, r.Remove("seat0"))
	assert.False(t, r.Remove("seat0"))
	assert.False(t, r.Exists("seat0"))
	assert.Equal(t, []domain.SeatID{"seat1"}, r.List())
}
