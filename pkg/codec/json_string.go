package codec

import (
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/webapi-kit/pkg/endpoint"
)

// JSONString holds a value that the API transmits as a JSON document
// embedded in a string, e.g. {"meta": "{\"id\":1}"}.
//
// Decode failures inside the embedded document keep their location, so a
// bad field is reported as meta.id rather than meta.
type JSONString[T any] struct {
	Value T
}

// MarshalJSON encodes Value and wraps the result in a JSON string.
func (j JSONString[T]) MarshalJSON() ([]byte, error) {
	inner, err := json.Marshal(j.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal embedded JSON: %w", err)
	}
	return json.Marshal(string(inner))
}

// UnmarshalJSON expects a JSON string and decodes its contents into Value.
func (j *JSONString[T]) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return endpoint.NewDecodeError(nil, "invalid type: expected a string containing JSON")
	}
	var v T
	if err := endpoint.DecodeJSON([]byte(s), &v); err != nil {
		return err
	}
	j.Value = v
	return nil
}
