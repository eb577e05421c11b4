package codec

import "encoding/json"

// JSON serializes values as JSON. Numbers decode as float64 per
// encoding/json convention.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Decode(b []byte) (any, error) {
	var v any
	err := json.Unmarshal(b, &v)
	return v, err
}
