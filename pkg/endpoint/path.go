package endpoint

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a Path: an object field or a sequence index.
type Segment struct {
	Field   string
	Index   int
	IsIndex bool
}

// FieldSegment returns a segment naming an object field or map key.
func FieldSegment(name string) Segment {
	return Segment{Field: name}
}

// IndexSegment returns a segment naming a sequence position.
func IndexSegment(i int) Segment {
	return Segment{Index: i, IsIndex: true}
}

// Path locates a value inside a decoded document, e.g. items[2].total.
type Path []Segment

// String renders the path as "items[2].total". The empty path renders as ".".
func (p Path) String() string {
	if len(p) == 0 {
		return "."
	}
	var b strings.Builder
	for i, s := range p {
		if s.IsIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.Field)
	}
	return b.String()
}

// ParsePath parses the String form of a path. Bracketed segments that are
// not integers are treated as map keys.
func ParsePath(s string) (Path, error) {
	if s == "" || s == "." {
		return Path{}, nil
	}

	var p Path
	for i := 0; i < len(s); {
		switch s[i] {
		case '.':
			i++
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("parse path %q: unbalanced bracket", s)
			}
			inner := s[i+1 : i+end]
			if n, err := strconv.Atoi(inner); err == nil {
				p = append(p, IndexSegment(n))
			} else {
				p = append(p, FieldSegment(inner))
			}
			i += end + 1
		default:
			end := strings.IndexAny(s[i:], ".[")
			if end < 0 {
				end = len(s) - i
			}
			p = append(p, FieldSegment(s[i:i+end]))
			i += end
		}
	}
	return p, nil
}
