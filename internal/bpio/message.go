// Package bpio speaks the Buttplug intimate-hardware protocol (message
// version 3) over websockets. It publishes D-LAB ESTIM units to Buttplug
// clients and can proxy the devices of an upstream Buttplug server such as
// Intiface.
package bpio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// MessageVersion is the protocol version this package implements.
const MessageVersion = 3

// Message is one protocol message. ID 0 is reserved for messages the server
// sends unprompted.
type Message interface {
	MessageID() uint32
	SetMessageID(id uint32)
}

// DeviceMessage is a message addressed to one device.
type DeviceMessage interface {
	Message
	Device() uint32
	SetDevice(index uint32)
}

// Header carries the message ID.
type Header struct {
	ID uint32 `json:"Id"`
}

func (h *Header) MessageID() uint32      { return h.ID }
func (h *Header) SetMessageID(id uint32) { h.ID = id }

// DeviceHeader carries the message ID and target device index.
type DeviceHeader struct {
	Header
	DeviceIndex uint32 `json:"DeviceIndex"`
}

func (h *DeviceHeader) Device() uint32         { return h.DeviceIndex }
func (h *DeviceHeader) SetDevice(index uint32) { h.DeviceIndex = index }

// ErrorCode classifies an Error message.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota
	ErrorInit
	ErrorPing
	ErrorMessage
	ErrorDevice
)

type (
	Ok struct {
		Header
	}

	Error struct {
		Header
		ErrorMessage string    `json:"ErrorMessage"`
		ErrorCode    ErrorCode `json:"ErrorCode"`
	}

	Ping struct {
		Header
	}

	RequestServerInfo struct {
		Header
		ClientName     string `json:"ClientName"`
		MessageVersion int    `json:"MessageVersion"`
	}

	ServerInfo struct {
		Header
		ServerName     string `json:"ServerName"`
		MajorVersion   int    `json:"MajorVersion,omitempty"`
		MinorVersion   int    `json:"MinorVersion,omitempty"`
		BuildVersion   int    `json:"BuildVersion,omitempty"`
		MessageVersion int    `json:"MessageVersion"`
		MaxPingTime    int    `json:"MaxPingTime"`
	}

	StartScanning struct {
		Header
	}

	StopScanning struct {
		Header
	}

	ScanningFinished struct {
		Header
	}

	RequestDeviceList struct {
		Header
	}

	DeviceList struct {
		Header
		Devices []DeviceInfo `json:"Devices"`
	}

	DeviceAdded struct {
		DeviceHeader
		DeviceName             string   `json:"DeviceName"`
		DeviceMessageTimingGap *int     `json:"DeviceMessageTimingGap,omitempty"`
		DeviceDisplayName      string   `json:"DeviceDisplayName,omitempty"`
		DeviceMessages         Features `json:"DeviceMessages"`
	}

	DeviceRemoved struct {
		DeviceHeader
	}

	StopDeviceCmd struct {
		DeviceHeader
	}

	StopAllDevices struct {
		Header
	}

	ScalarCmd struct {
		DeviceHeader
		Scalars []Scalar `json:"Scalars"`
	}

	VibrateCmd struct {
		DeviceHeader
		Speeds []Speed `json:"Speeds"`
	}

	LinearCmd struct {
		DeviceHeader
		Vectors []Vector `json:"Vectors"`
	}

	RotateCmd struct {
		DeviceHeader
		Rotations []Rotation `json:"Rotations"`
	}

	SensorReadCmd struct {
		DeviceHeader
		SensorIndex int    `json:"SensorIndex"`
		SensorType  string `json:"SensorType"`
	}

	SensorReading struct {
		DeviceHeader
		SensorIndex int    `json:"SensorIndex"`
		SensorType  string `json:"SensorType"`
		Data        []int  `json:"Data"`
	}

	SensorSubscribeCmd struct {
		DeviceHeader
		SensorIndex int    `json:"SensorIndex"`
		SensorType  string `json:"SensorType"`
	}

	SensorUnsubscribeCmd struct {
		DeviceHeader
		SensorIndex int    `json:"SensorIndex"`
		SensorType  string `json:"SensorType"`
	}

	RawWriteCmd struct {
		DeviceHeader
		Endpoint          string    `json:"Endpoint"`
		Data              ByteArray `json:"Data"`
		WriteWithResponse bool      `json:"WriteWithResponse"`
	}
)

// DeviceInfo is one entry of a DeviceList.
type DeviceInfo struct {
	DeviceName             string   `json:"DeviceName"`
	DeviceIndex            uint32   `json:"DeviceIndex"`
	DeviceMessageTimingGap *int     `json:"DeviceMessageTimingGap,omitempty"`
	DeviceDisplayName      string   `json:"DeviceDisplayName,omitempty"`
	DeviceMessages         Features `json:"DeviceMessages"`
}

type Scalar struct {
	Index        int     `json:"Index"`
	Scalar       float64 `json:"Scalar"`
	ActuatorType string  `json:"ActuatorType"`
}

type Speed struct {
	Index int     `json:"Index"`
	Speed float64 `json:"Speed"`
}

type Vector struct {
	Index    int     `json:"Index"`
	Duration int     `json:"Duration"` // ms
	Position float64 `json:"Position"`
}

type Rotation struct {
	Index     int     `json:"Index"`
	Speed     float64 `json:"Speed"`
	Clockwise bool    `json:"Clockwise"`
}

// ByteArray is raw endpoint data. It travels as an array of numbers rather
// than base64.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make(ByteArray, len(ints))
	for i, v := range ints {
		if v < 0 || v > 0xff {
			return fmt.Errorf("bpio: byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Unknown stands in for a message type this package does not implement.
// It is produced by Decode and never encoded.
type Unknown struct {
	Header
	Type string `json:"-"`
}

var messageTypes = map[string]func() Message{
	"Ok":                   func() Message { return new(Ok) },
	"Error":                func() Message { return new(Error) },
	"Ping":                 func() Message { return new(Ping) },
	"RequestServerInfo":    func() Message { return new(RequestServerInfo) },
	"ServerInfo":           func() Message { return new(ServerInfo) },
	"StartScanning":        func() Message { return new(StartScanning) },
	"StopScanning":         func() Message { return new(StopScanning) },
	"ScanningFinished":     func() Message { return new(ScanningFinished) },
	"RequestDeviceList":    func() Message { return new(RequestDeviceList) },
	"DeviceList":           func() Message { return new(DeviceList) },
	"DeviceAdded":          func() Message { return new(DeviceAdded) },
	"DeviceRemoved":        func() Message { return new(DeviceRemoved) },
	"StopDeviceCmd":        func() Message { return new(StopDeviceCmd) },
	"StopAllDevices":       func() Message { return new(StopAllDevices) },
	"ScalarCmd":            func() Message { return new(ScalarCmd) },
	"VibrateCmd":           func() Message { return new(VibrateCmd) },
	"LinearCmd":            func() Message { return new(LinearCmd) },
	"RotateCmd":            func() Message { return new(RotateCmd) },
	"SensorReadCmd":        func() Message { return new(SensorReadCmd) },
	"SensorReading":        func() Message { return new(SensorReading) },
	"SensorSubscribeCmd":   func() Message { return new(SensorSubscribeCmd) },
	"SensorUnsubscribeCmd": func() Message { return new(SensorUnsubscribeCmd) },
	"RawWriteCmd":          func() Message { return new(RawWriteCmd) },
}

var typeNames = func() map[reflect.Type]string {
	names := make(map[reflect.Type]string, len(messageTypes))
	for name, newMsg := range messageTypes {
		names[reflect.TypeOf(newMsg())] = name
	}
	return names
}()

// TypeName returns the wire name of msg's type.
func TypeName(msg Message) string {
	if u, ok := msg.(*Unknown); ok {
		return u.Type
	}
	if name, ok := typeNames[reflect.TypeOf(msg)]; ok {
		return name
	}
	return fmt.Sprintf("%T", msg)
}

// Encode serializes msgs as one protocol frame: an array of single-key
// objects naming each message's type.
func Encode(msgs ...Message) ([]byte, error) {
	frame := make([]map[string]Message, len(msgs))
	for i, msg := range msgs {
		name, ok := typeNames[reflect.TypeOf(msg)]
		if !ok {
			return nil, fmt.Errorf("bpio: encode %T: not a protocol message", msg)
		}
		frame[i] = map[string]Message{name: msg}
	}
	return json.Marshal(frame)
}

// Decode parses one protocol frame. A bare object is accepted as a
// one-message frame. Unimplemented message types decode to *Unknown.
func Decode(data []byte) ([]Message, error) {
	data = bytes.TrimSpace(data)
	var frame []map[string]json.RawMessage
	if len(data) > 0 && data[0] == '{' {
		var single map[string]json.RawMessage
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("bpio: decode frame: %w", err)
		}
		frame = append(frame, single)
	} else if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("bpio: decode frame: %w", err)
	}

	msgs := make([]Message, 0, len(frame))
	for i, envelope := range frame {
		if len(envelope) != 1 {
			return nil, fmt.Errorf("bpio: decode frame: message %d has %d type keys, want 1", i, len(envelope))
		}
		for name, body := range envelope {
			newMsg, ok := messageTypes[name]
			var msg Message
			if ok {
				msg = newMsg()
			} else {
				msg = &Unknown{Type: name}
			}
			if err := json.Unmarshal(body, msg); err != nil {
				return nil, fmt.Errorf("bpio: decode %s: %w", name, err)
			}
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// RemoteError is an Error message received in reply to a request.
type RemoteError struct {
	Code    ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bpio: remote error %d: %s", e.Code, e.Message)
}

func errorReply(id uint32, code ErrorCode, err error) *Error {
	return &Error{Header: Header{ID: id}, ErrorMessage: err.Error(), ErrorCode: code}
}
