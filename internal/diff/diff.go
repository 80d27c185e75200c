// Package diff computes field-level changes between two nested structured
// states and replays them. Diff and Apply are mutual inverses:
// Apply(base, Diff(base, target)) == target for all well-formed states.
package diff

import (
	"sort"

	"saga/internal/state"
)

// Engine provides structural diffing capabilities.
type Engine struct {
	identityKey string
}

// NewEngine creates a diff engine. identityKey names the field that
// identifies ordered-sequence elements (e.g. an inventory item id); sequences
// whose elements all carry it diff by identity, everything else diffs
// positionally. Empty disables identity matching.
func NewEngine(identityKey string) *Engine {
	return &Engine{
		identityKey: identityKey,
	}
}

// Diff computes the change set turning base into target. The result
// addresses each terminal path at most once.
func (e *Engine) Diff(base, target state.State) ChangeSet {
	var ops []Op
	e.diffMap(nil, base, target, &ops)
	return ChangeSet{Ops: ops}
}

func (e *Engine) diffValue(path state.Path, base, target any, ops *[]Op) {
	baseMap, baseIsMap := asMap(base)
	targetMap, targetIsMap := asMap(target)
	if baseIsMap && targetIsMap {
		e.diffMap(path, baseMap, targetMap, ops)
		return
	}

	baseSeq, baseIsSeq := base.([]any)
	targetSeq, targetIsSeq := target.([]any)
	if baseIsSeq && targetIsSeq {
		e.diffSeq(path, baseSeq, targetSeq, ops)
		return
	}

	if !valueEqual(base, target) {
		*ops = append(*ops, Op{Kind: OpSet, Path: path.String(), Value: state.Clone(target)})
	}
}

func (e *Engine) diffMap(path state.Path, base, target map[string]any, ops *[]Op) {
	keys := make([]string, 0, len(base)+len(target))
	seen := make(map[string]bool, len(base)+len(target))
	for k := range base {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range target {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	// Deterministic op order regardless of map iteration
	sort.Strings(keys)

	for _, k := range keys {
		child := path.Child(state.Key(k))
		baseVal, inBase := base[k]
		targetVal, inTarget := target[k]
		switch {
		case inBase && !inTarget:
			*ops = append(*ops, Op{Kind: OpRemove, Path: child.String()})
		case !inBase && inTarget:
			*ops = append(*ops, Op{Kind: OpSet, Path: child.String(), Value: state.Clone(targetVal)})
		default:
			e.diffValue(child, baseVal, targetVal, ops)
		}
	}
}

func (e *Engine) diffSeq(path state.Path, base, target []any, ops *[]Op) {
	baseIDs, baseOK := e.identify(base)
	targetIDs, targetOK := e.identify(target)
	if baseOK && targetOK {
		e.diffSeqByIdentity(path, base, target, baseIDs, targetIDs, ops)
		return
	}
	e.diffSeqPositional(path, base, target, ops)
}

// identify extracts the identity key of every element, reporting false when
// any element lacks one or ids repeat, which forces the positional fallback.
func (e *Engine) identify(seq []any) ([]string, bool) {
	if e.identityKey == "" {
		return nil, false
	}

	ids := make([]string, len(seq))
	seen := make(map[string]bool, len(seq))
	for i, elem := range seq {
		m, ok := asMap(elem)
		if !ok {
			return nil, false
		}
		raw, ok := m[e.identityKey]
		if !ok {
			return nil, false
		}
		id, ok := scalarKey(raw)
		if !ok || seen[id] {
			return nil, false
		}
		seen[id] = true
		ids[i] = id
	}
	return ids, true
}

// diffSeqByIdentity distinguishes reordered elements from replaced ones:
// removals first (descending), then moves into target order, then inserts,
// then recursion into surviving elements at their final positions.
func (e *Engine) diffSeqByIdentity(path state.Path, base, target []any, baseIDs, targetIDs []string, ops *[]Op) {
	inTarget := make(map[string]bool, len(targetIDs))
	for _, id := range targetIDs {
		inTarget[id] = true
	}
	inBase := make(map[string]bool, len(baseIDs))
	baseByID := make(map[string]any, len(baseIDs))
	for i, id := range baseIDs {
		inBase[id] = true
		baseByID[id] = base[i]
	}

	cur := append([]string(nil), baseIDs...)

	for i := len(cur) - 1; i >= 0; i-- {
		if !inTarget[cur[i]] {
			*ops = append(*ops, Op{Kind: OpRemoveAt, Path: path.String(), Index: i})
			cur = append(cur[:i], cur[i+1:]...)
		}
	}

	// Survivors reordered to match the target
	want := make([]string, 0, len(cur))
	for _, id := range targetIDs {
		if inBase[id] {
			want = append(want, id)
		}
	}
	for i := range want {
		if cur[i] == want[i] {
			continue
		}
		j := i + 1
		for ; j < len(cur); j++ {
			if cur[j] == want[i] {
				break
			}
		}
		*ops = append(*ops, Op{Kind: OpMoveItem, Path: path.String(), From: j, To: i})
		moved := cur[j]
		cur = append(cur[:j], cur[j+1:]...)
		cur = append(cur[:i], append([]string{moved}, cur[i:]...)...)
	}

	for i, id := range targetIDs {
		if !inBase[id] {
			*ops = append(*ops, Op{Kind: OpInsertAt, Path: path.String(), Index: i, Value: state.Clone(target[i])})
			cur = append(cur[:i], append([]string{id}, cur[i:]...)...)
		}
	}

	// Element-level changes, addressed at final positions
	for i, id := range targetIDs {
		if inBase[id] {
			e.diffValue(path.Child(state.Index(i)), baseByID[id], target[i], ops)
		}
	}
}

func (e *Engine) diffSeqPositional(path state.Path, base, target []any, ops *[]Op) {
	n := len(base)
	if len(target) < n {
		n = len(target)
	}
	for i := 0; i < n; i++ {
		e.diffValue(path.Child(state.Index(i)), base[i], target[i], ops)
	}
	for i := len(base) - 1; i >= len(target); i-- {
		*ops = append(*ops, Op{Kind: OpRemoveAt, Path: path.String(), Index: i})
	}
	for i := len(base); i < len(target); i++ {
		*ops = append(*ops, Op{Kind: OpInsertAt, Path: path.String(), Index: i, Value: state.Clone(target[i])})
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case state.State:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

func valueEqual(a, b any) bool {
	return state.Equal(a, b)
}

func scalarKey(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, true
	case float64:
		return formatValue(id), true
	case int:
		return formatValue(id), true
	default:
		return "", false
	}
}
