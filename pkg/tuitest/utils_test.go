package tuitest

import (
	"testing"

	tea "charm.land/bubbletea/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripANSI(t *testing.T) {
	got := StripANSI("\x1b[1mbold\x1b[0m   \nnext  \n\n")
	assert.Equal(t, "bold\nnext", got)
}

func TestType(t *testing.T) {
	msgs := Type("a\nb")
	require.Len(t, msgs, 3)

	first, ok := msgs[0].(tea.KeyPressMsg)
	require.True(t, ok)
	assert.Equal(t, "a", first.Text)

	enter, ok := msgs[1].(tea.KeyPressMsg)
	require.True(t, ok)
	assert.Equal(t, tea.KeyEnter, enter.Code)
}
