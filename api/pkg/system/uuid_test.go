package system

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateBrowserID(t *testing.T) {
	a := GenerateBrowserID()
	b := GenerateBrowserID()

	assert.True(t, strings.HasPrefix(a, BrowserPrefix))
	assert.Len(t, a, len(BrowserPrefix)+26)
	assert.NotEqual(t, a, b)
	assert.Equal(t, strings.ToLower(a), a)
}

func TestGenerateAgentConnectionID(t *testing.T) {
	a := GenerateAgentConnectionID()

	assert.True(t, strings.HasPrefix(a, AgentPrefix))
	assert.NotEqual(t, a, GenerateAgentConnectionID())
}
