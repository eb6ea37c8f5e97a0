package translog

import (
	"fmt"

	"github.com/burrowdb/burrow/changeset"
)

// Observer condenses a transaction log into per-table change information and
// per-observed-link-list change sets. Schema events are gated through an
// embedded Validator, so a destructive schema delta aborts the advance.
//
// All indices in the produced change set are expressed in post-transaction
// coordinates, except link-list deletes, which stay in original coordinates.
type Observer struct {
	val Validator

	changes   []changeset.ChangeInfo
	linkLists []*changeset.LinkListInfo

	// Change information for the currently selected link list, if observed.
	active *changeset.LinkListInfo
}

// NewObserver creates an Observer with no observed link lists.
func NewObserver() *Observer {
	return &Observer{}
}

// ObserveLinkList registers a link list for change tracking and returns its
// accumulator. Must be called before the events stream through.
func (o *Observer) ObserveLinkList(table, row, col int) *changeset.LinkListInfo {
	info := &changeset.LinkListInfo{Key: changeset.LinkListKey{Table: table, Row: row, Col: col}}
	o.linkLists = append(o.linkLists, info)
	return info
}

// Changes returns the accumulated per-table change info, indexed by table.
func (o *Observer) Changes() []changeset.ChangeInfo {
	return o.changes
}

// LinkLists returns the accumulators for every observed link list.
func (o *Observer) LinkLists() []*changeset.LinkListInfo {
	return o.linkLists
}

func (o *Observer) change(table int) *changeset.ChangeInfo {
	for len(o.changes) <= table {
		o.changes = append(o.changes, changeset.ChangeInfo{})
	}
	return &o.changes[table]
}

func (o *Observer) markDirty(row int) {
	o.change(o.val.CurrentTable()).MarkDirty(row)
}

// HandleEvent implements Handler.
func (o *Observer) HandleEvent(ev Event) error {
	switch ev.Kind {
	case KindInsertEmptyRows:
		// Rows only ever appear at the tail; queries pick them up on re-run.
		return nil

	case KindEraseRows:
		if !ev.Unordered {
			return fmt.Errorf("ordered row erase at row %d is not supported", ev.Row)
		}
		o.change(o.val.CurrentTable()).RecordSwapRemove(ev.Row, ev.PriorSize)
		return nil

	case KindClearTable, KindSwapRows, KindOptimizeTable:
		return nil

	case KindSetInt, KindSetBool, KindSetFloat, KindSetDouble,
		KindSetString, KindSetBinary, KindSetDateTime, KindSetTable,
		KindSetMixed, KindSetLink, KindSetNull, KindNullifyLink,
		KindInsertSubstring, KindEraseSubstring,
		KindSetIntUnique, KindSetStringUnique:
		o.markDirty(ev.Row)
		return nil

	case KindSelectLinkList:
		o.active = nil
		for _, l := range o.linkLists {
			if l.Key.Table == o.val.CurrentTable() && l.Key.Row == ev.Row && l.Key.Col == ev.Col {
				o.active = l
				break
			}
		}
		return nil

	case KindLinkListSet:
		o.linkListSet(ev.Index)
		return nil

	case KindLinkListInsert:
		o.linkListInsert(ev.Index)
		return nil

	case KindLinkListErase, KindLinkListNullify:
		o.linkListErase(ev.Index)
		return nil

	case KindLinkListSwap:
		o.linkListSet(ev.From)
		o.linkListSet(ev.To)
		return nil

	case KindLinkListClear:
		if o.active != nil {
			o.active.Reset()
		}
		return nil

	case KindLinkListMove:
		o.linkListMove(ev.From, ev.To)
		return nil
	}

	// Selection and schema events go through the validator so destructive
	// deltas from other processes still abort the advance.
	return o.val.HandleEvent(ev)
}

func (o *Observer) linkListSet(index int) {
	if o.active == nil {
		return
	}
	// An index inserted in this transaction stays classified as an insert.
	if o.active.Inserts.Contains(index) {
		return
	}
	o.active.Changes.Add(index)
}

func (o *Observer) linkListInsert(index int) {
	l := o.active
	if l == nil {
		return
	}
	l.Changes.ShiftForInsertAt(index)
	l.Inserts.InsertAt(index)

	for i := range l.Moves {
		if l.Moves[i].To >= index {
			l.Moves[i].To++
		}
	}
}

func (o *Observer) linkListErase(index int) {
	l := o.active
	if l == nil {
		return
	}
	wasInsert := l.Inserts.Contains(index)
	l.Changes.EraseAt(index)
	l.Inserts.EraseAt(index)

	// Erasing a row inserted in this same transaction cancels the insert
	// rather than producing a delete of a row the consumer never saw.
	if !wasInsert {
		l.Deletes.AddShifted(l.Inserts.Unshift(index))
	}

	moves := l.Moves[:0]
	for _, m := range l.Moves {
		switch {
		case m.To == index:
			// Moved row erased; the move is moot.
		case m.To > index:
			m.To--
			moves = append(moves, m)
		default:
			moves = append(moves, m)
		}
	}
	l.Moves = moves
}

func (o *Observer) linkListMove(from, to int) {
	l := o.active
	if l == nil || from == to {
		return
	}

	wasInsert := l.Inserts.Contains(from)
	orig := l.Deletes.Unshift(l.Inserts.Unshift(from))

	l.Changes.EraseAt(from)
	l.Inserts.EraseAt(from)

	moves := l.Moves[:0]
	for _, m := range l.Moves {
		if m.To == from {
			// The row being moved again; its entry is superseded below.
			continue
		}
		if m.To > from {
			m.To--
		}
		if m.To >= to {
			m.To++
		}
		moves = append(moves, m)
	}
	l.Moves = moves

	l.Changes.ShiftForInsertAt(to)
	l.Inserts.ShiftForInsertAt(to)

	if wasInsert {
		// Still a same-transaction insert, now at its new slot.
		l.Inserts.Add(to)
	} else {
		l.Deletes.Add(orig)
		l.Moves = append(l.Moves, changeset.Move{From: orig, To: to})
	}
}

// ParseComplete implements Handler.
func (o *Observer) ParseComplete() error {
	return nil
}
