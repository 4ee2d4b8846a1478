package domain

// CursorStart is the cursor index before any item has been attempted.
const CursorStart = -1

// Cursor marks the position of the last attempted item in the catalog's
// ordered sequence. Items at or below Index are never reconsidered.
type Cursor struct {
	Index     int  `json:"index"`
	Exhausted bool `json:"exhausted"`
}

// NewCursor returns a cursor positioned before the first catalog entry.
func NewCursor() Cursor {
	return Cursor{Index: CursorStart}
}

// Next returns the catalog index of the next unattempted item.
func (c Cursor) Next() int {
	return c.Index + 1
}

// Advance moves the cursor forward to index. It never moves backwards.
func (c Cursor) Advance(index int) Cursor {
	if index > c.Index {
		c.Index = index
	}
	return c
}

// Remaining reports how many catalog entries are still unattempted.
func (c Cursor) Remaining(catalogSize int) int {
	n := catalogSize - c.Next()
	if n < 0 {
		return 0
	}
	return n
}
