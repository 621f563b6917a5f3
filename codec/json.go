package codec

import "encoding/json"

// JSON is the standard-library JSON codec.
//
// json.Marshal emits compact output with no insignificant whitespace, which
// keeps stored records small; the scanner tolerates whitespace either way,
// so pre-serialized records from other producers also index correctly.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used when none is configured.
var Default Codec = JSON{}
