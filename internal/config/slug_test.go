package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSlug(t *testing.T) {
	assert.Equal(t, "platform-nx-team", NormalizeSlug(" Platform NX / Team "))
}

func TestIsValidSlug(t *testing.T) {
	valid := []string{"platform-nx-team", "a", "a1-b2"}
	for _, s := range valid {
		assert.Truef(t, IsValidSlug(s), "expected %q to be valid", s)
	}

	invalid := []string{"platform nx", "Platform-Nx", "platform_nx", "-platform", "platform-"}
	for _, s := range invalid {
		assert.Falsef(t, IsValidSlug(s), "expected %q to be invalid", s)
	}
}
