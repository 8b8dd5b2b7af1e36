package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// MarshalSorted encodes v with object keys in alphabetical order at every level.
// Output is cosmetic; equality checks must never depend on it.
func MarshalSorted(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// SameContent reports whether two records are equal once store-managed
// timestamps are dropped. Nil and empty lists compare equal because every
// list field is omitted when empty.
func SameContent[T Record[T]](a, b T) bool {
	left, err := json.Marshal(a.WithTimestamps(time.Time{}, time.Time{}))
	if err != nil {
		return false
	}
	right, err := json.Marshal(b.WithTimestamps(time.Time{}, time.Time{}))
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}
