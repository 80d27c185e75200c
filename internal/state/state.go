// Package state holds the structured entity snapshots the engine versions:
// nested maps, ordered sequences and scalars, shaped like decoded JSON.
package state

import (
	"saga/internal/errors"
)

// State is the full structured snapshot of one entity at one commit.
type State map[string]any

// Clone deep-copies a value so callers can mutate the result freely.
func Clone(v any) any {
	switch val := v.(type) {
	case State:
		return State(cloneMap(val))
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Clone(item)
		}
		return out
	default:
		// Scalars are immutable
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// CloneState deep-copies a state, normalizing nil to an empty state.
func CloneState(s State) State {
	if s == nil {
		return State{}
	}
	return Clone(s).(State)
}

// Equal compares two values structurally. Numbers compare numerically across
// int/float representations so states survive JSON round-trips through
// storage without spurious differences.
func Equal(a, b any) bool {
	if na, ok := asFloat(a); ok {
		nb, ok := asFloat(b)
		return ok && na == nb
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case State:
		return Equal(map[string]any(av), b)
	case map[string]any:
		bv, ok := asMap(b)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, present := bv[k]
			if !present || !Equal(v, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i, v := range av {
			if !Equal(v, bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case State:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Get resolves a path inside s, reporting whether every segment existed.
func Get(s State, p Path) (any, bool) {
	var cur any = map[string]any(s)
	for _, seg := range p {
		next, ok := descend(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func descend(v any, seg Segment) (any, bool) {
	if seg.IsIndex {
		seq, ok := v.([]any)
		if !ok || seg.Index < 0 || seg.Index >= len(seq) {
			return nil, false
		}
		return seq[seg.Index], true
	}
	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	child, ok := m[seg.Key]
	return child, ok
}

// container resolves the parent of p's terminal segment. Every intermediate
// segment must exist; the terminal itself may not.
func container(s State, p Path) (any, error) {
	var cur any = map[string]any(s)
	for _, seg := range p[:len(p)-1] {
		next, ok := descend(cur, seg)
		if !ok {
			return nil, errors.PathNotFound(p.String(), "missing container at %s in path %s", seg, p)
		}
		cur = next
	}
	return cur, nil
}

// Set writes v at path p, creating the terminal map key if needed. A missing
// intermediate container fails with PATH_NOT_FOUND.
func Set(s State, p Path, v any) error {
	parent, err := container(s, p)
	if err != nil {
		return err
	}

	last := p[len(p)-1]
	if last.IsIndex {
		seq, ok := parent.([]any)
		if !ok || last.Index < 0 || last.Index >= len(seq) {
			return errors.PathNotFound(p.String(), "no sequence element at %s", p)
		}
		seq[last.Index] = v
		return nil
	}

	m, ok := asMap(parent)
	if !ok {
		return errors.PathNotFound(p.String(), "parent of %s is not a map", p)
	}
	m[last.Key] = v
	return nil
}

// Remove deletes the value at path p. Removing an already-absent key is a
// no-op; removing a sequence element positionally goes through RemoveAt
// instead.
func Remove(s State, p Path) error {
	last := p[len(p)-1]
	if last.IsIndex {
		return errors.ValidationError("cannot remove a sequence element by path, use remove_at", p.String())
	}

	var cur any = map[string]any(s)
	for _, seg := range p[:len(p)-1] {
		next, ok := descend(cur, seg)
		if !ok {
			return nil // whole subtree absent, nothing to remove
		}
		cur = next
	}

	if m, ok := asMap(cur); ok {
		delete(m, last.Key)
	}
	return nil
}

// Seq resolves the ordered sequence at p.
func Seq(s State, p Path) ([]any, error) {
	v, ok := Get(s, p)
	if !ok {
		return nil, errors.PathNotFound(p.String(), "no sequence at %s", p)
	}
	seq, ok := v.([]any)
	if !ok {
		return nil, errors.PathNotFound(p.String(), "value at %s is not a sequence", p)
	}
	return seq, nil
}

// PutSeq writes a sequence back to the container that holds it. Needed
// because sequence inserts and removals reallocate the slice header.
func PutSeq(s State, p Path, seq []any) error {
	return Set(s, p, seq)
}

func (seg Segment) String() string {
	if seg.IsIndex {
		return Path{seg}.String()
	}
	return seg.Key
}
