package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCursorCopiesInput(t *testing.T) {
	in := creatives("a", "b")
	c := NewCursor(in)
	in[0].ID = "mutated"

	cur, ok := c.Current()
	assert.True(t, ok)
	assert.Equal(t, "a", cur.ID)
}

func TestCursorAdvanceWraps(t *testing.T) {
	c := NewCursor(creatives("a", "b", "c"))
	var seen []string
	for i := 0; i < 4; i++ {
		assert.True(t, c.Advance())
		cur, _ := c.Current()
		seen = append(seen, cur.ID)
	}
	assert.Equal(t, []string{"b", "c", "a", "b"}, seen)
}

func TestCursorShortLists(t *testing.T) {
	empty := NewCursor(nil)
	assert.False(t, empty.Advance())
	_, ok := empty.Current()
	assert.False(t, ok)

	one := NewCursor(creatives("x"))
	assert.False(t, one.Advance())
	assert.Equal(t, 0, one.Index())
}
