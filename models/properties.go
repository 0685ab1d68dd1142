package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
)

// Properties is an insertion ordered map of scalar attribute values.
// Values are string, float64, bool or nil.
type Properties struct {
	keys   []string
	values map[string]interface{}
}

func NewProperties() *Properties {
	return &Properties{values: make(map[string]interface{})}
}

func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

func (p *Properties) Get(key string) (interface{}, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Set stores a value, keeping the original position of an existing key.
func (p *Properties) Set(key string, value interface{}) {
	if p.values == nil {
		p.values = make(map[string]interface{})
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = normalizeScalar(value)
}

// Delete removes key and returns the value it held.
func (p *Properties) Delete(key string) (interface{}, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	if !ok {
		return nil, false
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
	return v, true
}

func (p *Properties) Clone() *Properties {
	c := NewProperties()
	if p == nil {
		return c
	}
	for _, k := range p.keys {
		c.Set(k, p.values[k])
	}
	return c
}

// Merge writes incoming on top of p. Incoming values win on conflict and
// new keys are appended in incoming order.
func (p *Properties) Merge(incoming *Properties) {
	if incoming == nil {
		return
	}
	for _, k := range incoming.keys {
		p.Set(k, incoming.values[k])
	}
}

// Equal compares keys and values, ignoring order. jsonb does not keep key
// order, so a stored map read back may list the same keys differently.
func (p *Properties) Equal(other *Properties) bool {
	if p.Len() != other.Len() {
		return false
	}
	for _, k := range p.Keys() {
		v, ok := other.Get(k)
		if !ok || v != p.values[k] {
			return false
		}
	}
	return true
}

// Sanitize replaces NaN and infinite floats with nil.
func (p *Properties) Sanitize() {
	if p == nil {
		return
	}
	for k, v := range p.values {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			p.values[k] = nil
		}
	}
}

func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		v := p.values[k]
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			v = nil
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Properties) UnmarshalJSON(data []byte) error {
	p.keys = nil
	p.values = make(map[string]interface{})

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("properties: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("properties: unexpected key %v", tok)
		}
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return err
		}
		p.Set(key, value)
	}
	_, err = dec.Token()
	return err
}

func (p Properties) Value() (driver.Value, error) {
	if p.keys == nil {
		return nil, nil
	}
	data, err := p.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (p *Properties) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		p.keys, p.values = nil, make(map[string]interface{})
		return nil
	case []byte:
		return p.UnmarshalJSON(v)
	case string:
		return p.UnmarshalJSON([]byte(v))
	}
	return fmt.Errorf("properties: unsupported value %T", value)
}

func (Properties) GormDataType() string {
	return "jsonb"
}

// normalizeScalar folds numeric kinds into float64 and anything non scalar
// into its JSON text, so stored values always round trip through jsonb.
func normalizeScalar(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
