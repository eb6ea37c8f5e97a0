package translog

import "errors"

// ErrSchemaMismatch is returned when another process has modified the file's
// schema in a way that invalidates every open handle's view.
var ErrSchemaMismatch = errors.New("schema mismatch detected: another process has modified the database file's schema in an incompatible way")

// Validator checks that a transaction written by another process only
// contains schema changes that are safe to observe at runtime: new tables,
// columns on those new tables, and search index changes. Anything that
// removes or renames existing schema fails with ErrSchemaMismatch.
type Validator struct {
	// Index of the currently selected table.
	currentTable int

	// Tables created within the transaction being processed; these may
	// grow columns without a schema version bump.
	newTables []int
}

// CurrentTable returns the index of the currently selected table.
func (v *Validator) CurrentTable() int {
	return v.currentTable
}

func (v *Validator) errUnlessNewTable() error {
	for _, t := range v.newTables {
		if t == v.currentTable {
			return nil
		}
	}
	return ErrSchemaMismatch
}

// HandleEvent validates a single log event.
func (v *Validator) HandleEvent(ev Event) error {
	switch ev.Kind {
	case KindSelectTable:
		v.currentTable = ev.Table
		return nil

	case KindSelectDescriptor:
		// Sub-tables are unsupported.
		if ev.Levels != 0 {
			return ErrSchemaMismatch
		}
		return nil

	case KindInsertTable:
		// Tables recorded earlier shift up when a new one lands below them.
		for i, t := range v.newTables {
			if t >= ev.Table {
				v.newTables[i]++
			}
		}
		v.newTables = append(v.newTables, ev.Table)
		return nil

	case KindInsertColumn, KindInsertLinkColumn, KindAddPrimaryKey, KindSetLinkType:
		return v.errUnlessNewTable()

	case KindAddSearchIndex, KindRemoveSearchIndex:
		return nil

	case KindEraseTable, KindRenameTable, KindMoveTable,
		KindEraseColumn, KindEraseLinkColumn, KindRenameColumn,
		KindMoveColumn, KindRemovePrimaryKey:
		return ErrSchemaMismatch
	}

	// Data mutations are always allowed.
	return nil
}

// ParseComplete implements Handler.
func (v *Validator) ParseComplete() error {
	return nil
}
