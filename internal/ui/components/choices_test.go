package components

import (
	"testing"

	tea "charm.land/bubbletea/v2"
	"github.com/stretchr/testify/assert"
)

func TestChoiceListPreselectsCurrent(t *testing.T) {
	assert.Equal(t, 1, NewChoiceList([]string{"am", "is", "are"}, "is").Selected)
	assert.Equal(t, 2, NewChoiceList([]string{"am", "is", "are"}, "3").Selected)
	assert.Equal(t, 0, NewChoiceList([]string{"am", "is", "are"}, "").Selected)
}

func TestChoiceListDigitPicks(t *testing.T) {
	c := NewChoiceList([]string{"am", "is", "are"}, "")

	c, picked := c.Update(tea.KeyPressMsg{Code: tea.KeyDown})
	assert.False(t, picked)
	assert.Equal(t, "2", c.Value())

	c, picked = c.Update(tea.KeyPressMsg{Code: '3', Text: "3"})
	assert.True(t, picked)
	assert.Equal(t, "3", c.Value())

	_, picked = c.Update(tea.KeyPressMsg{Code: '9', Text: "9"})
	assert.False(t, picked, "out of range digit is ignored")
}
