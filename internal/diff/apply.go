package diff

import (
	"saga/internal/errors"
	"saga/internal/state"
)

// Apply replays a change set over base, returning the resulting state. Base
// is never mutated. Removing an absent key is tolerated; any other
// inconsistency between an operation and the state fails with
// PATH_NOT_FOUND, which signals a diff/apply invariant violation upstream.
func Apply(base state.State, cs ChangeSet) (state.State, error) {
	out := state.CloneState(base)

	for _, op := range cs.Ops {
		path, err := state.ParsePath(op.Path)
		if err != nil {
			return nil, err
		}

		switch op.Kind {
		case OpSet:
			if err := state.Set(out, path, state.Clone(op.Value)); err != nil {
				return nil, err
			}

		case OpRemove:
			if err := state.Remove(out, path); err != nil {
				return nil, err
			}

		case OpInsertAt:
			seq, err := state.Seq(out, path)
			if err != nil {
				return nil, err
			}
			if op.Index < 0 || op.Index > len(seq) {
				return nil, errors.PathNotFound(op.Path, "insert index %d out of range at %s (len %d)", op.Index, op.Path, len(seq))
			}
			seq = append(seq[:op.Index], append([]any{state.Clone(op.Value)}, seq[op.Index:]...)...)
			if err := state.PutSeq(out, path, seq); err != nil {
				return nil, err
			}

		case OpRemoveAt:
			seq, err := state.Seq(out, path)
			if err != nil {
				return nil, err
			}
			if op.Index < 0 || op.Index >= len(seq) {
				return nil, errors.PathNotFound(op.Path, "remove index %d out of range at %s (len %d)", op.Index, op.Path, len(seq))
			}
			seq = append(seq[:op.Index], seq[op.Index+1:]...)
			if err := state.PutSeq(out, path, seq); err != nil {
				return nil, err
			}

		case OpMoveItem:
			seq, err := state.Seq(out, path)
			if err != nil {
				return nil, err
			}
			if op.From < 0 || op.From >= len(seq) || op.To < 0 || op.To >= len(seq) {
				return nil, errors.PathNotFound(op.Path, "move %d -> %d out of range at %s (len %d)", op.From, op.To, op.Path, len(seq))
			}
			moved := seq[op.From]
			seq = append(seq[:op.From], seq[op.From+1:]...)
			seq = append(seq[:op.To], append([]any{moved}, seq[op.To:]...)...)
			if err := state.PutSeq(out, path, seq); err != nil {
				return nil, err
			}

		default:
			return nil, errors.ValidationError("unknown change operation kind", string(op.Kind))
		}
	}

	return out, nil
}
