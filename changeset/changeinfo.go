package changeset

// ChangeInfo accumulates the net effect of one transaction on one table.
//
// Rows are erased with swap-remove semantics: the erased row is replaced by
// the table's last row. Moves maps the new index of a moved row to its index
// at the start of the transaction, composed across chained swaps so lookups
// always resolve to the original position.
type ChangeInfo struct {
	// Deletions counts rows erased during the transaction.
	Deletions int

	// Moves maps new-index -> original index for rows relocated by
	// swap-remove.
	Moves map[int]int

	// Changed holds the rows whose columns were mutated, in
	// post-transaction coordinates remapped to original positions for
	// moved rows.
	Changed IndexSet
}

// MarkDirty records a column mutation of row. If the row was relocated by an
// earlier swap-remove, the original index is recorded instead.
func (c *ChangeInfo) MarkDirty(row int) {
	if orig, ok := c.Moves[row]; ok {
		row = orig
	}
	c.Changed.Add(row)
}

// RecordSwapRemove records the erasure of row from a table whose row count
// before the erase was priorRows. The last row takes the erased row's slot.
func (c *ChangeInfo) RecordSwapRemove(row, priorRows int) {
	lastRow := priorRows - 1
	if orig, ok := c.Moves[lastRow]; ok {
		lastRow = orig
	}
	if c.Moves == nil {
		c.Moves = make(map[int]int)
	}
	c.Moves[row] = lastRow
	c.Deletions++
}

// Empty reports whether the transaction left no trace on the table.
func (c *ChangeInfo) Empty() bool {
	return c.Deletions == 0 && len(c.Moves) == 0 && c.Changed.Empty()
}

// Move records one explicit link-list reorder as (original, current).
type Move struct {
	From int
	To   int
}

// LinkListKey identifies an observed link list by position.
type LinkListKey struct {
	Table int
	Row   int
	Col   int
}

// LinkListInfo accumulates the net effect of one transaction on one observed
// link list. Inserts and Changes are kept in final-list coordinates; Deletes
// is kept in original-list coordinates, unshifted through Inserts.
type LinkListInfo struct {
	Key LinkListKey

	Inserts  IndexSet
	Deletes  IndexSet
	Changes  IndexSet
	Moves    []Move
	DidClear bool
}

// Reset drops all accumulated state, marking the list as cleared.
func (l *LinkListInfo) Reset() {
	l.DidClear = true
	l.Inserts.Clear()
	l.Deletes.Clear()
	l.Changes.Clear()
	l.Moves = l.Moves[:0]
}
