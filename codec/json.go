package codec

import (
	"github.com/segmentio/encoding/json"
)

// JSONCodec is the reference Codec implementation, backed by
// github.com/segmentio/encoding/json rather than the standard library
// encoding/json for a drop-in faster Marshal/Unmarshal on the per-element
// hot path.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (JSONCodec) Unmarshal(data string, v interface{}) error {
	return json.Unmarshal([]byte(data), v)
}

func init() {
	Register(JSONCodec{})
}
