package bpio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// FeatureAttributes describes one feature behind a device command.
type FeatureAttributes struct {
	FeatureDescriptor string   `json:"FeatureDescriptor"`
	StepCount         *int     `json:"StepCount,omitempty"`
	ActuatorType      string   `json:"ActuatorType,omitempty"`
	SensorType        string   `json:"SensorType,omitempty"`
	SensorRange       [][]int  `json:"SensorRange,omitempty"`
	Endpoints         []string `json:"Endpoints,omitempty"`
}

// Features maps each command a device accepts to its features. A nil entry
// means the command takes no attributes and travels as {}.
type Features map[string][]FeatureAttributes

// MarshalJSON writes commands in name order. A RawWriteCmd with a single
// feature is written as a bare object, which buttplug.js expects.
func (f Features) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	slices.Sort(names)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		attrs := f[name]
		var value any = attrs
		switch {
		case attrs == nil:
			value = struct{}{}
		case name == "RawWriteCmd" && len(attrs) == 1:
			value = attrs[0]
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts each command's features as an array, a single
// object, or an empty object meaning no attributes.
func (f *Features) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Features, len(raw))
	for name, body := range raw {
		body = bytes.TrimSpace(body)
		switch {
		case len(body) > 0 && body[0] == '[':
			attrs := []FeatureAttributes{}
			if err := json.Unmarshal(body, &attrs); err != nil {
				return fmt.Errorf("bpio: features of %s: %w", name, err)
			}
			out[name] = attrs
		case len(body) > 0 && body[0] == '{':
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(body, &fields); err != nil {
				return fmt.Errorf("bpio: features of %s: %w", name, err)
			}
			if len(fields) == 0 {
				out[name] = nil
				continue
			}
			var attr FeatureAttributes
			if err := json.Unmarshal(body, &attr); err != nil {
				return fmt.Errorf("bpio: features of %s: %w", name, err)
			}
			out[name] = []FeatureAttributes{attr}
		default:
			out[name] = nil
		}
	}
	*f = out
	return nil
}

// Accepts reports whether the device lists command name.
func (f Features) Accepts(name string) bool {
	_, ok := f[name]
	return ok
}
