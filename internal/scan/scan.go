// Package scan locates the byte span of every field inside a serialized JSON
// value without building a value tree.
//
// The scanner walks the raw bytes in a single forward pass and records, for
// each dot-joined field path, the half-open span of that field's serialized
// value. Spans are byte-exact: slicing the input at a returned span yields
// exactly the serialized sub-value, including its original formatting. Array
// elements are treated like object fields, with the element index as the path
// segment ("pets.0.type").
//
// The root value is recorded under the empty path "".
package scan

import (
	"fmt"
	"strconv"
)

// DefaultMaxDepth bounds nesting depth when no explicit limit is given.
const DefaultMaxDepth = 128

// Span is a half-open byte range [Start, End) within the scanned buffer.
type Span struct {
	Start uint64
	End   uint64
}

// Len returns the length of the span in bytes.
func (s Span) Len() uint64 { return s.End - s.Start }

// SyntaxError reports malformed input at a byte offset.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("json scan: %s at offset %d", e.Msg, e.Offset)
}

type scanner struct {
	data     []byte
	pos      int
	maxDepth int
	out      map[string]Span
}

// Scan walks data and returns the span of every field path plus the root
// value under "". maxDepth bounds nesting; values nested deeper fail the
// scan rather than exhausting the stack. maxDepth <= 0 selects
// DefaultMaxDepth.
//
// A bare scalar is a legal record and produces only the root span. Trailing
// bytes after the top-level value (other than whitespace) are an error, so a
// successful scan guarantees data holds exactly one JSON value.
func Scan(data []byte, maxDepth int) (map[string]Span, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	s := &scanner{
		data:     data,
		maxDepth: maxDepth,
		out:      make(map[string]Span),
	}

	s.skipWhitespace()
	if s.pos >= len(s.data) {
		return nil, s.errf("empty input")
	}

	root, err := s.scanValue("", 0)
	if err != nil {
		return nil, err
	}
	s.skipWhitespace()
	if s.pos != len(s.data) {
		return nil, s.errf("trailing data after top-level value")
	}

	s.out[""] = root
	return s.out, nil
}

func (s *scanner) errf(format string, args ...any) error {
	return &SyntaxError{Offset: s.pos, Msg: fmt.Sprintf(format, args...)}
}

func (s *scanner) peek() (byte, bool) {
	if s.pos >= len(s.data) {
		return 0, false
	}
	return s.data[s.pos], true
}

func (s *scanner) skipWhitespace() {
	for s.pos < len(s.data) {
		switch s.data[s.pos] {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return
		}
	}
}

// scanValue scans one value of any kind and returns its span. Object and
// array members are recorded under prefix-joined paths as a side effect.
func (s *scanner) scanValue(prefix string, depth int) (Span, error) {
	if depth > s.maxDepth {
		return Span{}, s.errf("nesting depth exceeds %d", s.maxDepth)
	}

	c, ok := s.peek()
	if !ok {
		return Span{}, s.errf("unexpected end of input")
	}

	switch {
	case c == '{':
		return s.scanObject(prefix, depth)
	case c == '[':
		return s.scanArray(prefix, depth)
	case c == '"':
		return s.scanString()
	case c == '-' || (c >= '0' && c <= '9'):
		return s.scanNumber()
	case c == 't':
		return s.scanLiteral("true")
	case c == 'f':
		return s.scanLiteral("false")
	case c == 'n':
		return s.scanLiteral("null")
	default:
		return Span{}, s.errf("unexpected character %q", c)
	}
}

func (s *scanner) scanObject(prefix string, depth int) (Span, error) {
	start := s.pos
	s.pos++ // opening brace
	s.skipWhitespace()

	if c, ok := s.peek(); ok && c == '}' {
		s.pos++
		return Span{Start: uint64(start), End: uint64(s.pos)}, nil
	}

	for {
		c, ok := s.peek()
		if !ok {
			return Span{}, s.errf("unterminated object")
		}
		if c != '"' {
			return Span{}, s.errf("expected object key, got %q", c)
		}
		keySpan, err := s.scanString()
		if err != nil {
			return Span{}, err
		}
		// Key text is taken verbatim from between the quotes; escape
		// sequences are not decoded, matching how paths are later looked up.
		key := string(s.data[keySpan.Start+1 : keySpan.End-1])

		s.skipWhitespace()
		if c, ok := s.peek(); !ok || c != ':' {
			return Span{}, s.errf("expected ':' after object key")
		}
		s.pos++
		s.skipWhitespace()

		childPath := joinPath(prefix, key)
		childSpan, err := s.scanValue(childPath, depth+1)
		if err != nil {
			return Span{}, err
		}
		// Duplicate keys: last occurrence wins.
		s.out[childPath] = childSpan

		s.skipWhitespace()
		c, ok = s.peek()
		switch {
		case ok && c == ',':
			s.pos++
			s.skipWhitespace()
		case ok && c == '}':
			s.pos++
			return Span{Start: uint64(start), End: uint64(s.pos)}, nil
		default:
			return Span{}, s.errf("expected ',' or '}' in object")
		}
	}
}

func (s *scanner) scanArray(prefix string, depth int) (Span, error) {
	start := s.pos
	s.pos++ // opening bracket
	s.skipWhitespace()

	if c, ok := s.peek(); ok && c == ']' {
		s.pos++
		return Span{Start: uint64(start), End: uint64(s.pos)}, nil
	}

	for index := 0; ; index++ {
		childPath := joinPath(prefix, strconv.Itoa(index))
		childSpan, err := s.scanValue(childPath, depth+1)
		if err != nil {
			return Span{}, err
		}
		s.out[childPath] = childSpan

		s.skipWhitespace()
		c, ok := s.peek()
		switch {
		case ok && c == ',':
			s.pos++
			s.skipWhitespace()
		case ok && c == ']':
			s.pos++
			return Span{Start: uint64(start), End: uint64(s.pos)}, nil
		default:
			return Span{}, s.errf("expected ',' or ']' in array")
		}
	}
}

func (s *scanner) scanString() (Span, error) {
	start := s.pos
	s.pos++ // opening quote
	for s.pos < len(s.data) {
		switch s.data[s.pos] {
		case '\\':
			s.pos += 2
		case '"':
			s.pos++
			return Span{Start: uint64(start), End: uint64(s.pos)}, nil
		default:
			s.pos++
		}
	}
	s.pos = start
	return Span{}, s.errf("unterminated string")
}

// scanNumber follows the JSON number grammar: an optional minus, an integer
// part without leading zeros, then optional fraction and exponent parts.
func (s *scanner) scanNumber() (Span, error) {
	start := s.pos
	if c, ok := s.peek(); ok && c == '-' {
		s.pos++
	}

	c, ok := s.peek()
	if !ok || c < '0' || c > '9' {
		return Span{}, s.errf("malformed number")
	}
	if c == '0' {
		s.pos++
	} else {
		s.scanDigits()
	}

	if c, ok := s.peek(); ok && c == '.' {
		s.pos++
		if s.scanDigits() == 0 {
			return Span{}, s.errf("malformed number: no digits after decimal point")
		}
	}
	if c, ok := s.peek(); ok && (c == 'e' || c == 'E') {
		s.pos++
		if c, ok := s.peek(); ok && (c == '+' || c == '-') {
			s.pos++
		}
		if s.scanDigits() == 0 {
			return Span{}, s.errf("malformed number: no digits in exponent")
		}
	}
	return Span{Start: uint64(start), End: uint64(s.pos)}, nil
}

func (s *scanner) scanDigits() int {
	n := 0
	for s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '9' {
		s.pos++
		n++
	}
	return n
}

func (s *scanner) scanLiteral(lit string) (Span, error) {
	start := s.pos
	if s.pos+len(lit) > len(s.data) || string(s.data[s.pos:s.pos+len(lit)]) != lit {
		return Span{}, s.errf("expected %q", lit)
	}
	s.pos += len(lit)
	return Span{Start: uint64(start), End: uint64(s.pos)}, nil
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}
