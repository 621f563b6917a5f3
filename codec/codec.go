// Package codec centralizes record serialization.
//
// The store calls Marshal exactly once per appended record and never decodes
// a stored span itself; retrieval hands back raw bytes. Changing codecs
// changes the bytes the field scanner sees, so codec selection is a
// compatibility boundary for a store's lifetime.
package codec

import "fmt"

// Codec encodes values to the serialized form stored in the data log.
// Implementations must be safe for concurrent use and must produce a single
// JSON value per call, since the field scanner walks JSON lexically.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	default:
		return nil, false
	}
}

// MustMarshal is a helper for tests and examples.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
