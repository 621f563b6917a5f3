package fieldindex

import (
	"fmt"
	"hash/fnv"
	"strings"
)

const maxNameLen = 180

// FileName maps a field path to a filesystem-safe base name. Characters
// outside [A-Za-z0-9._-] are percent-encoded so distinct paths never collide;
// overly long names are truncated with an FNV-64a suffix to stay inside
// filesystem name limits.
func FileName(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	name := b.String()
	if len(name) <= maxNameLen {
		return name
	}
	h := fnv.New64a()
	h.Write([]byte(path))
	return fmt.Sprintf("%s-%016x", name[:maxNameLen], h.Sum64())
}

// PathFromFileName reverses FileName. ok is false for names FileName could
// not have produced and for truncated long names, which drop bytes of the
// original path and cannot be decoded.
func PathFromFileName(name string) (string, bool) {
	if len(name) > maxNameLen {
		return "", false
	}
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+3 > len(name) {
			return "", false
		}
		hi, ok1 := unhex(name[i+1])
		lo, ok2 := unhex(name[i+2])
		if !ok1 || !ok2 {
			return "", false
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), true
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
