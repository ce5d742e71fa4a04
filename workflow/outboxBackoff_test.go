package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffFor(t *testing.T) {
	assert.Equal(t, 5*time.Second, backoffFor(5*time.Second, 1))
	assert.Equal(t, 10*time.Second, backoffFor(5*time.Second, 2))
	assert.Equal(t, 40*time.Second, backoffFor(5*time.Second, 4))
	assert.Equal(t, 10*time.Minute, backoffFor(5*time.Second, 30))
}
