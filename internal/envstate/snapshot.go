package envstate

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Snapshot is an ordered attribute name to value mapping. Values are nil,
// bool, int, string, [2]float64 or [4]int.
type Snapshot struct {
	keys   []string
	values map[string]interface{}
}

func newSnapshot(capacity int) *Snapshot {
	return &Snapshot{
		keys:   make([]string, 0, capacity),
		values: make(map[string]interface{}, capacity),
	}
}

// set adds key unless already present, so the first position wins
func (s *Snapshot) set(key string, value interface{}) {
	if _, ok := s.values[key]; ok {
		return
	}
	s.keys = append(s.keys, key)
	s.values[key] = value
}

// Keys returns the attribute names in publish order
func (s *Snapshot) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Get returns the value of key and whether it is part of the snapshot
func (s *Snapshot) Get(key string) (interface{}, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of attributes
func (s *Snapshot) Len() int {
	return len(s.keys)
}

// MarshalJSON writes the attributes as one object, preserving order
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s.values[key])
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
