package rotation

import "github.com/patrickwarner/adrotator/internal/models"

// Cursor walks an ordered creative list, wrapping to the start after the
// last entry.
type Cursor struct {
	items []models.Creative
	index int
}

// NewCursor copies items; later changes to the caller's slice are not seen.
func NewCursor(items []models.Creative) *Cursor {
	cp := make([]models.Creative, len(items))
	copy(cp, items)
	return &Cursor{items: cp}
}

func (c *Cursor) Len() int   { return len(c.items) }
func (c *Cursor) Index() int { return c.index }

// Current returns the creative at the cursor, or false for an empty list.
func (c *Cursor) Current() (models.Creative, bool) {
	if len(c.items) == 0 {
		return models.Creative{}, false
	}
	return c.items[c.index], true
}

// Advance moves to the next creative and reports whether the displayed
// creative changed. Lists of zero or one entries never change.
func (c *Cursor) Advance() bool {
	if len(c.items) <= 1 {
		return false
	}
	c.index = (c.index + 1) % len(c.items)
	return true
}
