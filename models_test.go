package kpnc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAccountIDValid(t *testing.T) {
	assert.False(t, IsAccountIDValid(""))
	assert.False(t, IsAccountIDValid("   "))
	assert.False(t, IsAccountIDValid("ab"))
	assert.True(t, IsAccountIDValid("abc"))
	assert.True(t, IsAccountIDValid("  user-42  "))
	assert.True(t, IsAccountIDValid(strings.Repeat("a", MaxAccountIDLength)))
	assert.False(t, IsAccountIDValid(strings.Repeat("a", MaxAccountIDLength+1)))
}
