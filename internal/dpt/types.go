package dpt

import (
	"fmt"
	"math"
)

const (
	// float16Min and float16Max bound DPT 9 values.
	float16Min = -671088.64
	float16Max = 670433.28

	// float16Invalid is the DPT 9 "no value" marker.
	float16Invalid = 0x7FFF

	float16MaxExponent = 15
	float16MantissaMin = -2048
	float16MantissaMax = 2047

	sceneMask = 0x3F
	learnBit  = 0x80
)

func need(data []byte, n int, name string) error {
	if len(data) < n {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrDecode, name, n, len(data))
	}
	return nil
}

// EncodeBool encodes DPT 1 (switch, enable, up/down, ...).
func EncodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeBool decodes DPT 1. Only bit 0 is significant.
func DecodeBool(data []byte) (bool, error) {
	if err := need(data, 1, "DPT 1"); err != nil {
		return false, err
	}
	return data[0]&0x01 == 1, nil
}

// Step is a DPT 3 relative dimming or blind control. Steps 0 means stop;
// otherwise the interval is divided into 2^(Steps-1) parts.
type Step struct {
	Increase bool  `json:"increase"`
	Steps    uint8 `json:"steps"`
}

// EncodeStep encodes DPT 3. Steps above 7 are rejected.
func EncodeStep(s Step) ([]byte, error) {
	if s.Steps > 7 { //nolint:mnd // 3-bit step code
		return nil, fmt.Errorf("%w: DPT 3 step code %d exceeds 7", ErrEncode, s.Steps)
	}
	b := s.Steps
	if s.Increase {
		b |= 0x08
	}
	return []byte{b}, nil
}

// DecodeStep decodes DPT 3.
func DecodeStep(data []byte) (Step, error) {
	if err := need(data, 1, "DPT 3"); err != nil {
		return Step{}, err
	}
	return Step{Increase: data[0]&0x08 != 0, Steps: data[0] & 0x07}, nil
}

// scale maps v in [0, limit] onto a byte, clamping out-of-range input.
func scale(v, limit float64) byte {
	v = math.Max(0, math.Min(limit, v))
	return byte(math.Round(v * math.MaxUint8 / limit))
}

// EncodeScaling encodes DPT 5.001, a percentage.
func EncodeScaling(percent float64) []byte {
	return []byte{scale(percent, 100)} //nolint:mnd // percent
}

// DecodeScaling decodes DPT 5.001.
func DecodeScaling(data []byte) (float64, error) {
	if err := need(data, 1, "DPT 5.001"); err != nil {
		return 0, err
	}
	return float64(data[0]) * 100 / math.MaxUint8, nil
}

// EncodeAngle encodes DPT 5.003, degrees.
func EncodeAngle(degrees float64) []byte {
	return []byte{scale(degrees, 360)} //nolint:mnd // degrees
}

// DecodeAngle decodes DPT 5.003.
func DecodeAngle(data []byte) (float64, error) {
	if err := need(data, 1, "DPT 5.003"); err != nil {
		return 0, err
	}
	return float64(data[0]) * 360 / math.MaxUint8, nil
}

// EncodeFloat16 encodes DPT 9, the KNX 2-byte float:
//
//	MEEEEMMM MMMMMMMM    value = 0.01 * M * 2^E
//
// M is a 12-bit two's complement mantissa whose sign is the top bit.
func EncodeFloat16(v float64) ([]byte, error) {
	if math.IsNaN(v) || v < float16Min || v > float16Max {
		return nil, fmt.Errorf("%w: DPT 9 value %g outside %g..%g", ErrEncode, v, float16Min, float16Max)
	}

	m := v * 100 //nolint:mnd // hundredths
	exp := 0
	mant := int(math.Round(m))
	for mant < float16MantissaMin || mant > float16MantissaMax {
		m /= 2
		exp++
		mant = int(math.Round(m))
	}
	if exp > float16MaxExponent {
		return nil, fmt.Errorf("%w: DPT 9 exponent overflow for %g", ErrEncode, v)
	}

	raw := uint16(exp)<<11 | uint16(int16(mant))&0x07FF //nolint:gosec // mantissa and exponent bounded above
	if mant < 0 {
		raw |= 0x8000
	}
	return []byte{byte(raw >> 8), byte(raw)}, nil
}

// DecodeFloat16 decodes DPT 9. The 0x7FFF marker returns ErrDecode.
func DecodeFloat16(data []byte) (float64, error) {
	if err := need(data, 2, "DPT 9"); err != nil {
		return 0, err
	}
	raw := uint16(data[0])<<8 | uint16(data[1])
	if raw == float16Invalid {
		return 0, fmt.Errorf("%w: DPT 9 invalid value marker", ErrDecode)
	}

	mant := int(raw & 0x07FF)
	if raw&0x8000 != 0 {
		mant -= 2048
	}
	exp := int(raw>>11) & 0x0F
	return math.Round(float64(mant)*math.Ldexp(1, exp)) / 100, nil //nolint:mnd // hundredths
}

// EncodeScene encodes DPT 17.001, a scene number 0-63.
func EncodeScene(scene uint8) ([]byte, error) {
	if scene > sceneMask {
		return nil, fmt.Errorf("%w: scene %d exceeds 63", ErrEncode, scene)
	}
	return []byte{scene}, nil
}

// DecodeScene decodes DPT 17.001.
func DecodeScene(data []byte) (uint8, error) {
	if err := need(data, 1, "DPT 17"); err != nil {
		return 0, err
	}
	return data[0] & sceneMask, nil
}

// SceneControl is DPT 18.001: recall or learn a scene.
type SceneControl struct {
	Scene uint8 `json:"scene"`
	Learn bool  `json:"learn"`
}

// EncodeSceneControl encodes DPT 18.001.
func EncodeSceneControl(s SceneControl) ([]byte, error) {
	b, err := EncodeScene(s.Scene)
	if err != nil {
		return nil, err
	}
	if s.Learn {
		b[0] |= learnBit
	}
	return b, nil
}

// DecodeSceneControl decodes DPT 18.001.
func DecodeSceneControl(data []byte) (SceneControl, error) {
	if err := need(data, 1, "DPT 18"); err != nil {
		return SceneControl{}, err
	}
	return SceneControl{Scene: data[0] & sceneMask, Learn: data[0]&learnBit != 0}, nil
}

// RGB is DPT 232.600.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// String formats the colour as #RRGGBB.
func (c RGB) String() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// EncodeRGB encodes DPT 232.600.
func EncodeRGB(c RGB) []byte {
	return []byte{c.R, c.G, c.B}
}

// DecodeRGB decodes DPT 232.600.
func DecodeRGB(data []byte) (RGB, error) {
	if err := need(data, 3, "DPT 232"); err != nil { //nolint:mnd // R, G, B
		return RGB{}, err
	}
	return RGB{R: data[0], G: data[1], B: data[2]}, nil
}
