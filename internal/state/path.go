package state

import (
	"fmt"
	"strconv"
	"strings"

	"saga/internal/errors"
)

// Segment is one step into a nested state: either a map key or a sequence
// index, never both.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Path addresses a location in a nested state, e.g. inventory[3].quantity.
type Path []Segment

func Key(k string) Segment { return Segment{Key: k} }
func Index(i int) Segment  { return Segment{Index: i, IsIndex: true} }

// ParsePath parses the dotted/indexed textual form used on the wire and in
// change sets.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, errors.ValidationError("empty path", s)
	}

	var path Path
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return nil, errors.ValidationError(fmt.Sprintf("malformed path: %s", s), s)
		}

		key := part
		var indexes []int
		for {
			open := strings.IndexByte(key, '[')
			if open < 0 {
				break
			}
			closing := strings.IndexByte(key[open:], ']')
			if closing < 0 {
				return nil, errors.ValidationError(fmt.Sprintf("unterminated index in path: %s", s), s)
			}
			idx, err := strconv.Atoi(key[open+1 : open+closing])
			if err != nil || idx < 0 {
				return nil, errors.ValidationError(fmt.Sprintf("invalid index in path: %s", s), s)
			}
			indexes = append(indexes, idx)
			key = key[:open] + key[open+closing+1:]
		}

		if key != "" {
			path = append(path, Key(key))
		} else if len(indexes) == 0 {
			return nil, errors.ValidationError(fmt.Sprintf("malformed path: %s", s), s)
		}
		for _, idx := range indexes {
			path = append(path, Index(idx))
		}
	}

	return path, nil
}

func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if seg.IsIndex {
			fmt.Fprintf(&b, "[%d]", seg.Index)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Key)
	}
	return b.String()
}

// Child extends p with one more segment, returning a new path.
func (p Path) Child(seg Segment) Path {
	child := make(Path, len(p), len(p)+1)
	copy(child, p)
	return append(child, seg)
}

// HasPrefix reports whether prefix addresses p itself or one of its
// ancestors.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, seg := range prefix {
		if seg != p[i] {
			return false
		}
	}
	return true
}
