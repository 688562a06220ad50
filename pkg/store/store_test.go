package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	valid := []string{"report.pdf", "a", ".hidden", "name with spaces.txt", "ünïcødé.bin", strings.Repeat("x", MaxNameLength)}
	for _, name := range valid {
		assert.NoError(t, ValidateName(name), name)
	}

	invalid := []string{"", ".", "..", "../etc/passwd", "dir/file", `dir\file`, "nul\x00byte", "tab\tname", strings.Repeat("x", MaxNameLength+1)}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateName(name), ErrInvalidName, "%q", name)
	}
}
