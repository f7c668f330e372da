// Package estim drives D-LAB ESTIM units through a connector: GATT
// constants, the 3-byte power and pattern frames, and safety-limited
// device control.
package estim

import "github.com/google/uuid"

// D-LAB ESTIM GATT UUIDs
var (
	ServiceBattery        = uuid.MustParse("955a180a-0fe2-f5aa-a094-84b8d4f3e8ad")
	CharacteristicBattery = uuid.MustParse("955a1500-0fe2-f5aa-a094-84b8d4f3e8ad")

	ServicePWM              = uuid.MustParse("955a180b-0fe2-f5aa-a094-84b8d4f3e8ad")
	CharacteristicPower     = uuid.MustParse("955a1504-0fe2-f5aa-a094-84b8d4f3e8ad")
	CharacteristicPatternA  = uuid.MustParse("955a1505-0fe2-f5aa-a094-84b8d4f3e8ad")
	CharacteristicPatternB  = uuid.MustParse("955a1506-0fe2-f5aa-a094-84b8d4f3e8ad")
	CharacteristicPWMConfig = uuid.MustParse("955a1507-0fe2-f5aa-a094-84b8d4f3e8ad")
)

// Safety limits applied to every frame sent to a device.
const (
	SafetyLimitPower     = 768
	SafetyLimitAmplitude = 10
	SafetyLimitPulse     = 768
)

// Pattern is one pulse/pause cycle on a channel.
type Pattern struct {
	PulseMs   int // pulse width, 5 bits on the wire
	PauseMs   int // pause after the pulse, 10 bits on the wire
	Amplitude int // 5 bits on the wire
}

// DurationMs is the length of one cycle.
func (p Pattern) DurationMs() int {
	return p.PulseMs + p.PauseMs
}

// EncodePower packs the channel A and B power levels (0-2047 each) into a
// power frame:
//
//	bits 0-10:  power B
//	bits 11-21: power A
func EncodePower(powerA, powerB int) []byte {
	combined := (powerB & 0x7ff) | (powerA&0x7ff)<<11
	return tripleLE(combined)
}

// EncodePattern packs a pattern into a pattern frame:
//
//	bits 0-4:   pulse
//	bits 5-14:  pause
//	bits 15-19: amplitude
func EncodePattern(p Pattern) []byte {
	combined := (p.PulseMs & 0x1f) |
		(p.PauseMs&0x3ff)<<5 |
		(p.Amplitude&0x1f)<<15
	return tripleLE(combined)
}

// tripleLE returns the low 24 bits of v, little-endian.
func tripleLE(v int) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
