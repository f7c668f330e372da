package bpio

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFeaturesUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Features
	}{
		{
			name: "array",
			in:   `{"foo":[{"FeatureDescriptor":"bar"}]}`,
			want: Features{"foo": {{FeatureDescriptor: "bar"}}},
		},
		{
			name: "single object",
			in:   `{"foo":{"FeatureDescriptor":"bar"}}`,
			want: Features{"foo": {{FeatureDescriptor: "bar"}}},
		},
		{
			name: "empty object",
			in:   `{"foo":{}}`,
			want: Features{"foo": nil},
		},
		{
			name: "empty array",
			in:   `{"foo":[]}`,
			want: Features{"foo": {}},
		},
		{
			name: "null",
			in:   `{"StopDeviceCmd":null}`,
			want: Features{"StopDeviceCmd": nil},
		},
		{
			name: "scalar attributes",
			in:   `{"ScalarCmd":[{"FeatureDescriptor":"vibe","StepCount":20,"ActuatorType":"Vibrate"}]}`,
			want: Features{"ScalarCmd": {{FeatureDescriptor: "vibe", StepCount: ptr(20), ActuatorType: "Vibrate"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Features
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Unmarshal() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFeaturesUnmarshalError(t *testing.T) {
	var f Features
	if err := json.Unmarshal([]byte(`{"foo":[{"StepCount":"many"}]}`), &f); err == nil {
		t.Error("Unmarshal() should fail on a bad attribute")
	}
}

func TestFeaturesMarshal(t *testing.T) {
	tests := []struct {
		name string
		in   Features
		want string
	}{
		{
			name: "nil map",
			in:   nil,
			want: `{}`,
		},
		{
			name: "sorted with empty entry",
			in: Features{
				"StopDeviceCmd": nil,
				"ScalarCmd":     {{FeatureDescriptor: "vibe", ActuatorType: "Vibrate"}},
			},
			want: `{"ScalarCmd":[{"FeatureDescriptor":"vibe","ActuatorType":"Vibrate"}],"StopDeviceCmd":{}}`,
		},
		{
			name: "single raw write is a bare object",
			in:   Features{"RawWriteCmd": {{FeatureDescriptor: "E-Stim", Endpoints: []string{"shock"}}}},
			want: `{"RawWriteCmd":{"FeatureDescriptor":"E-Stim","Endpoints":["shock"]}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFeaturesAccepts(t *testing.T) {
	f := Features{"RawWriteCmd": nil}
	if !f.Accepts("RawWriteCmd") {
		t.Error("Accepts(RawWriteCmd) = false, want true")
	}
	if f.Accepts("ScalarCmd") {
		t.Error("Accepts(ScalarCmd) = true, want false")
	}
}

func ptr[T any](v T) *T { return &v }
