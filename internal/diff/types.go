package diff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OpKind is the closed set of change operations. Apply switches exhaustively
// over it; anything else is a malformed change set.
type OpKind string

const (
	OpSet      OpKind = "set"
	OpRemove   OpKind = "remove"
	OpInsertAt OpKind = "insert_at"
	OpRemoveAt OpKind = "remove_at"
	OpMoveItem OpKind = "move_item"
)

// Op is a single change addressed at a dotted/indexed path, e.g.
// inventory[3].quantity. Index is used by insert_at/remove_at, From/To by
// move_item, Value by set/insert_at.
type Op struct {
	Kind  OpKind `json:"kind"`
	Path  string `json:"path"`
	Index int    `json:"index,omitempty"`
	From  int    `json:"from,omitempty"`
	To    int    `json:"to,omitempty"`
	Value any    `json:"value,omitempty"`
}

// ChangeSet is the ordered list of operations turning one state into another.
type ChangeSet struct {
	Ops []Op `json:"ops"`
}

func (cs ChangeSet) Empty() bool {
	return len(cs.Ops) == 0
}

// Format returns a human-readable rendering of the change set.
func (cs ChangeSet) Format() string {
	var b strings.Builder
	for _, op := range cs.Ops {
		switch op.Kind {
		case OpSet:
			fmt.Fprintf(&b, "set %s = %s\n", op.Path, formatValue(op.Value))
		case OpRemove:
			fmt.Fprintf(&b, "remove %s\n", op.Path)
		case OpInsertAt:
			fmt.Fprintf(&b, "insert %s[%d] = %s\n", op.Path, op.Index, formatValue(op.Value))
		case OpRemoveAt:
			fmt.Fprintf(&b, "remove %s[%d]\n", op.Path, op.Index)
		case OpMoveItem:
			fmt.Fprintf(&b, "move %s[%d] -> [%d]\n", op.Path, op.From, op.To)
		}
	}
	return b.String()
}

func formatValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// EqualOps reports whether two operation lists are identical in kind,
// position and value. Used by the merge engine's value-equality
// short-circuit.
func EqualOps(a, b []Op) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].equal(b[i]) {
			return false
		}
	}
	return true
}

func (op Op) equal(other Op) bool {
	if op.Kind != other.Kind || op.Path != other.Path ||
		op.Index != other.Index || op.From != other.From || op.To != other.To {
		return false
	}
	return valueEqual(op.Value, other.Value)
}
