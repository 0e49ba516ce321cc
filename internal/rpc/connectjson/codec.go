// Package connectjson lets Connect handlers stream plain Go structs as JSON.
package connectjson

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bufbuild/connect-go"
)

// Codec encodes messages as JSON without HTML escaping, so markers such as
// <run_command> reach clients verbatim. Unknown fields are ignored on decode.
type Codec struct{}

var _ connect.Codec = Codec{}

func (Codec) Name() string {
	return "json"
}

func (Codec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("connectjson: marshal %T: %w", v, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("connectjson: unmarshal %T: %w", v, err)
	}
	return nil
}
