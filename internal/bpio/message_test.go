package bpio

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncode(t *testing.T) {
	raw := &RawWriteCmd{Endpoint: "shock", Data: ByteArray{1, 255}}
	raw.ID = 7
	raw.DeviceIndex = 2

	tests := []struct {
		name string
		msgs []Message
		want string
	}{
		{
			name: "ok",
			msgs: []Message{&Ok{Header{ID: 5}}},
			want: `[{"Ok":{"Id":5}}]`,
		},
		{
			name: "error",
			msgs: []Message{&Error{Header: Header{ID: 1}, ErrorMessage: "boom", ErrorCode: ErrorDevice}},
			want: `[{"Error":{"Id":1,"ErrorMessage":"boom","ErrorCode":4}}]`,
		},
		{
			name: "raw write data as numbers",
			msgs: []Message{raw},
			want: `[{"RawWriteCmd":{"Id":7,"DeviceIndex":2,"Endpoint":"shock","Data":[1,255],"WriteWithResponse":false}}]`,
		},
		{
			name: "several messages in one frame",
			msgs: []Message{&Ok{Header{ID: 1}}, &ScanningFinished{}},
			want: `[{"Ok":{"Id":1}},{"ScanningFinished":{"Id":0}}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.msgs...)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Encode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeRejectsUnknown(t *testing.T) {
	if _, err := Encode(&Unknown{Type: "FleshlightLaunchFW12Cmd"}); err == nil {
		t.Error("Encode(*Unknown) should fail")
	}
}

func TestDecode(t *testing.T) {
	raw := &RawWriteCmd{Endpoint: "shock", Data: ByteArray{'{', '}'}}
	raw.ID = 1
	raw.DeviceIndex = 2

	tests := []struct {
		name  string
		frame string
		want  []Message
	}{
		{
			name:  "array",
			frame: `[{"Ping":{"Id":1}},{"RequestDeviceList":{"Id":2}}]`,
			want:  []Message{&Ping{Header{ID: 1}}, &RequestDeviceList{Header{ID: 2}}},
		},
		{
			name:  "bare object",
			frame: ` {"Ping":{"Id":3}}`,
			want:  []Message{&Ping{Header{ID: 3}}},
		},
		{
			name:  "empty frame",
			frame: `[]`,
			want:  []Message{},
		},
		{
			name:  "raw write",
			frame: `[{"RawWriteCmd":{"Id":1,"DeviceIndex":2,"Endpoint":"shock","Data":[123,125],"WriteWithResponse":false}}]`,
			want:  []Message{raw},
		},
		{
			name:  "unimplemented type",
			frame: `[{"FleshlightLaunchFW12Cmd":{"Id":4,"DeviceIndex":0,"Position":50}}]`,
			want:  []Message{&Unknown{Header: Header{ID: 4}, Type: "FleshlightLaunchFW12Cmd"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr string
	}{
		{"not json", `hello`, "decode frame"},
		{"two type keys", `[{"Ping":{"Id":1},"Ok":{"Id":1}}]`, "2 type keys"},
		{"no type key", `[{}]`, "0 type keys"},
		{"bad body", `[{"Ping":{"Id":"one"}}]`, "decode Ping"},
		{"byte out of range", `[{"RawWriteCmd":{"Id":1,"DeviceIndex":0,"Endpoint":"shock","Data":[256]}}]`, "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			if err == nil {
				t.Fatalf("Decode(%s) expected error containing %q, got nil", tt.frame, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Decode() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{&StopDeviceCmd{}, "StopDeviceCmd"},
		{&SensorReading{}, "SensorReading"},
		{&Unknown{Type: "KiirooCmd"}, "KiirooCmd"},
	}
	for _, tt := range tests {
		if got := TypeName(tt.msg); got != tt.want {
			t.Errorf("TypeName(%T) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

func TestRemoteError(t *testing.T) {
	err := &RemoteError{Code: ErrorDevice, Message: "no device with index 9"}
	if got := err.Error(); !strings.Contains(got, "no device with index 9") {
		t.Errorf("Error() = %q, want it to contain the message", got)
	}
}
