package document

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RootPathString is the serialized form of the empty path, i.e. the whole
// document.
const RootPathString = "__root"

var (
	ErrInvalidPath  = errors.New("invalid path")
	ErrPathNotFound = errors.New("path not found")
	ErrRootPath     = errors.New("operation not allowed on root path")
)

type SegmentKind int

const (
	SegmentField SegmentKind = iota
	SegmentKey
	SegmentIndex
)

// Segment is one step of a Path: an object field, a keyed array element or an
// array index (negative indexes count from the end).
type Segment struct {
	Kind  SegmentKind
	Field string
	Key   string
	Index int
}

func Field(name string) Segment { return Segment{Kind: SegmentField, Field: name} }
func Key(key string) Segment    { return Segment{Kind: SegmentKey, Key: key} }
func Index(i int) Segment       { return Segment{Kind: SegmentIndex, Index: i} }

// IndexIn returns the position the segment selects in arr, or -1.
func (s Segment) IndexIn(arr []any) int {
	switch s.Kind {
	case SegmentIndex:
		idx := s.Index
		if idx < 0 {
			idx += len(arr)
		}
		if idx < 0 || idx >= len(arr) {
			return -1
		}
		return idx
	case SegmentKey:
		for i, item := range arr {
			if m, ok := asMap(item); ok {
				if k, _ := m[KeyKey].(string); k == s.Key {
					return i
				}
			}
		}
	}
	return -1
}

// Path addresses a value inside a document. The empty path is the root.
type Path []Segment

// RootPath returns the path addressing the whole document.
func RootPath() Path { return Path{} }

func (p Path) IsRoot() bool { return len(p) == 0 }

func (p Path) String() string {
	if len(p) == 0 {
		return RootPathString
	}
	var b strings.Builder
	for i, seg := range p {
		switch seg.Kind {
		case SegmentField:
			if isPlainField(seg.Field) {
				if i > 0 {
					b.WriteByte('.')
				}
				b.WriteString(seg.Field)
			} else {
				b.WriteString("[" + strconv.Quote(seg.Field) + "]")
			}
		case SegmentKey:
			b.WriteString("[_key==" + strconv.Quote(seg.Key) + "]")
		case SegmentIndex:
			b.WriteString("[" + strconv.Itoa(seg.Index) + "]")
		}
	}
	return b.String()
}

// Append returns a new path with segs added.
func (p Path) Append(segs ...Segment) Path {
	out := make(Path, 0, len(p)+len(segs))
	out = append(out, p...)
	return append(out, segs...)
}

// Parent returns the path without its last segment.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return p
	}
	return p[:len(p)-1]
}

func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix addresses p or one of its ancestors.
func (p Path) HasPrefix(prefix Path) bool {
	return len(prefix) <= len(p) && p[:len(prefix)].Equal(prefix)
}

// ParsePath parses strings such as `body[_key=="a1"].children[0].text`,
// `seo["og.title"]` or `__root`.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == RootPathString {
		return Path{}, nil
	}

	var out Path
	i := 0
	for i < len(s) {
		switch s[i] {
		case '.':
			if i == 0 || i == len(s)-1 || s[i+1] == '.' || s[i+1] == '[' {
				return nil, fmt.Errorf("%w %q: misplaced '.' at %d", ErrInvalidPath, s, i)
			}
			i++
		case '[':
			end, seg, err := parseBracket(s, i)
			if err != nil {
				return nil, err
			}
			out = append(out, seg)
			i = end
		case ']':
			return nil, fmt.Errorf("%w %q: unexpected ']' at %d", ErrInvalidPath, s, i)
		default:
			start := i
			for i < len(s) && s[i] != '.' && s[i] != '[' && s[i] != ']' {
				i++
			}
			out = append(out, Field(s[start:i]))
		}
	}
	return out, nil
}

// MustParsePath panics on malformed input. For constant paths only.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePaths parses a list of path strings. An empty list means the root.
func ParsePaths(raw []string) ([]Path, error) {
	if len(raw) == 0 {
		return []Path{RootPath()}, nil
	}
	out := make([]Path, 0, len(raw))
	for _, r := range raw {
		p, err := ParsePath(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// PathStrings serializes paths.
func PathStrings(paths []Path) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.String()
	}
	return out
}

func parseBracket(s string, open int) (int, Segment, error) {
	closeIdx := -1
	var quote byte
	for j := open + 1; j < len(s); j++ {
		c := s[j]
		if quote != 0 {
			if c == '\\' {
				j++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			continue
		}
		if c == ']' {
			closeIdx = j
			break
		}
	}
	if closeIdx < 0 {
		return 0, Segment{}, fmt.Errorf("%w %q: unterminated '[' at %d", ErrInvalidPath, s, open)
	}

	body := strings.TrimSpace(s[open+1 : closeIdx])
	next := closeIdx + 1
	switch {
	case body == "":
		return 0, Segment{}, fmt.Errorf("%w %q: empty selector", ErrInvalidPath, s)
	case strings.HasPrefix(body, "_key"):
		rest := strings.TrimSpace(strings.TrimPrefix(body, "_key"))
		if !strings.HasPrefix(rest, "==") {
			return 0, Segment{}, fmt.Errorf("%w %q: expected == in key selector", ErrInvalidPath, s)
		}
		key, err := unquote(strings.TrimSpace(strings.TrimPrefix(rest, "==")))
		if err != nil {
			return 0, Segment{}, fmt.Errorf("%w %q: %v", ErrInvalidPath, s, err)
		}
		return next, Key(key), nil
	case body[0] == '"' || body[0] == '\'':
		name, err := unquote(body)
		if err != nil {
			return 0, Segment{}, fmt.Errorf("%w %q: %v", ErrInvalidPath, s, err)
		}
		return next, Field(name), nil
	default:
		idx, err := strconv.Atoi(body)
		if err != nil {
			return 0, Segment{}, fmt.Errorf("%w %q: bad index %q", ErrInvalidPath, s, body)
		}
		return next, Index(idx), nil
	}
}

func unquote(s string) (string, error) {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1], nil
	}
	return strconv.Unquote(s)
}

func isPlainField(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '$':
		default:
			return false
		}
	}
	return name != RootPathString
}

func asMap(v any) (map[string]any, bool) {
	switch typed := v.(type) {
	case map[string]any:
		return typed, true
	case Document:
		return map[string]any(typed), true
	}
	return nil, false
}

// Get returns the value addressed by p inside v.
func Get(v any, p Path) (any, bool) {
	cur := v
	for _, seg := range p {
		switch seg.Kind {
		case SegmentField:
			m, ok := asMap(cur)
			if !ok {
				return nil, false
			}
			cur, ok = m[seg.Field]
			if !ok {
				return nil, false
			}
		default:
			arr, ok := cur.([]any)
			if !ok {
				return nil, false
			}
			idx := seg.IndexIn(arr)
			if idx < 0 {
				return nil, false
			}
			cur = arr[idx]
		}
	}
	return cur, true
}

// Set stores value at p inside doc, creating missing intermediate objects.
// Array elements must already exist.
func Set(doc map[string]any, p Path, value any) error {
	if len(p) == 0 {
		return ErrRootPath
	}
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrPathNotFound)
	}
	_, err := setIn(doc, p, value, p)
	return err
}

func setIn(cur any, rest Path, value any, full Path) (any, error) {
	if len(rest) == 0 {
		return value, nil
	}
	seg := rest[0]
	if seg.Kind == SegmentField {
		m, ok := asMap(cur)
		if !ok {
			if cur != nil {
				return nil, fmt.Errorf("%w: %s crosses a %T", ErrPathNotFound, full, cur)
			}
			m = map[string]any{}
		}
		next, err := setIn(m[seg.Field], rest[1:], value, full)
		if err != nil {
			return nil, err
		}
		m[seg.Field] = next
		return m, nil
	}

	arr, ok := cur.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, full)
	}
	idx := seg.IndexIn(arr)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, full)
	}
	next, err := setIn(arr[idx], rest[1:], value, full)
	if err != nil {
		return nil, err
	}
	arr[idx] = next
	return arr, nil
}

// Unset removes the value at p. It reports whether anything was removed.
func Unset(doc map[string]any, p Path) bool {
	if len(p) == 0 || doc == nil {
		return false
	}
	_, removed := unsetIn(doc, p)
	return removed
}

func unsetIn(cur any, rest Path) (any, bool) {
	seg := rest[0]
	if seg.Kind == SegmentField {
		m, ok := asMap(cur)
		if !ok {
			return cur, false
		}
		child, exists := m[seg.Field]
		if !exists {
			return cur, false
		}
		if len(rest) == 1 {
			delete(m, seg.Field)
			return m, true
		}
		next, removed := unsetIn(child, rest[1:])
		if removed {
			m[seg.Field] = next
		}
		return m, removed
	}

	arr, ok := cur.([]any)
	if !ok {
		return cur, false
	}
	idx := seg.IndexIn(arr)
	if idx < 0 {
		return cur, false
	}
	if len(rest) == 1 {
		out := make([]any, 0, len(arr)-1)
		out = append(out, arr[:idx]...)
		return append(out, arr[idx+1:]...), true
	}
	next, removed := unsetIn(arr[idx], rest[1:])
	if removed {
		arr[idx] = next
	}
	return arr, removed
}
