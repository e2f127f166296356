package profilesync

import (
	"encoding/json"
)

// Marshal create a single point of change if the encoding changes.
func Marshal[T any](t *T) ([]byte, error) {
	return json.Marshal(t)
}

// Unmarshal is the inverse of Marshal.
func Unmarshal[T any](b []byte, t *T) error {
	return json.Unmarshal(b, t)
}
