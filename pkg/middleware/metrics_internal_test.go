package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "4xx", statusClass(429))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "5xx", statusClass(0))
	assert.Equal(t, "5xx", statusClass(1000))
}
