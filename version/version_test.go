package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionStrings(t *testing.T) {
	assert.NotEmpty(t, Gateway())
	assert.True(t, strings.HasPrefix(Runtime(), "go"))
}
