package dpt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Converter encodes and decodes one datapoint type.
type Converter struct {
	// Name describes the type, e.g. "2-byte float".
	Name string

	// Short is true for types of six bits or less, which are sent inside
	// the APCI word rather than appended.
	Short bool

	Encode func(v any) ([]byte, error)
	Decode func(data []byte) (any, error)
}

// converters is keyed by full ID ("5.003") or main number ("5"). A full ID
// wins over its main number.
var converters = map[string]Converter{
	"1": {
		Name:  "boolean",
		Short: true,
		Encode: func(v any) ([]byte, error) {
			b, err := toBool(v)
			if err != nil {
				return nil, err
			}
			return EncodeBool(b), nil
		},
		Decode: func(data []byte) (any, error) { return DecodeBool(data) },
	},
	"3": {
		Name:  "step control",
		Short: true,
		Encode: func(v any) ([]byte, error) {
			var s Step
			if err := toStruct(v, &s); err != nil {
				return nil, err
			}
			return EncodeStep(s)
		},
		Decode: func(data []byte) (any, error) { return DecodeStep(data) },
	},
	"5": {
		Name: "unsigned 8-bit",
		Encode: func(v any) ([]byte, error) {
			n, err := toUint(v, 0xFF) //nolint:mnd // one byte
			if err != nil {
				return nil, err
			}
			return []byte{byte(n)}, nil
		},
		Decode: func(data []byte) (any, error) {
			if err := need(data, 1, "DPT 5"); err != nil {
				return nil, err
			}
			return data[0], nil
		},
	},
	"5.001": {
		Name: "scaling",
		Encode: func(v any) ([]byte, error) {
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			return EncodeScaling(f), nil
		},
		Decode: func(data []byte) (any, error) { return DecodeScaling(data) },
	},
	"5.003": {
		Name: "angle",
		Encode: func(v any) ([]byte, error) {
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			return EncodeAngle(f), nil
		},
		Decode: func(data []byte) (any, error) { return DecodeAngle(data) },
	},
	"9": {
		Name: "2-byte float",
		Encode: func(v any) ([]byte, error) {
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			return EncodeFloat16(f)
		},
		Decode: func(data []byte) (any, error) { return DecodeFloat16(data) },
	},
	"17": {
		Name: "scene number",
		Encode: func(v any) ([]byte, error) {
			n, err := toUint(v, sceneMask)
			if err != nil {
				return nil, err
			}
			return EncodeScene(uint8(n)) //nolint:gosec // bounded by toUint
		},
		Decode: func(data []byte) (any, error) { return DecodeScene(data) },
	},
	"18": {
		Name: "scene control",
		Encode: func(v any) ([]byte, error) {
			var s SceneControl
			if err := toStruct(v, &s); err != nil {
				return nil, err
			}
			return EncodeSceneControl(s)
		},
		Decode: func(data []byte) (any, error) { return DecodeSceneControl(data) },
	},
	"232": {
		Name: "RGB colour",
		Encode: func(v any) ([]byte, error) {
			c, err := toRGB(v)
			if err != nil {
				return nil, err
			}
			return EncodeRGB(c), nil
		},
		Decode: func(data []byte) (any, error) { return DecodeRGB(data) },
	},
}

// Normalize strips "DPT"/"DPST-" prefixes and converts the ETS "DPST-9-1"
// form, returning "9.001" style IDs. A bare main number is kept as is.
func Normalize(id string) string {
	s := strings.ToUpper(strings.TrimSpace(id))
	s = strings.TrimPrefix(s, "DPST-")
	s = strings.TrimPrefix(s, "DPT-")
	s = strings.TrimPrefix(s, "DPT")
	s = strings.TrimSpace(s)

	main, sub, found := strings.Cut(strings.ReplaceAll(s, "-", "."), ".")
	if !found {
		return main
	}
	if n, err := strconv.Atoi(sub); err == nil {
		sub = fmt.Sprintf("%03d", n)
	}
	return main + "." + sub
}

// Lookup returns the converter for a datapoint ID.
func Lookup(id string) (Converter, error) {
	norm := Normalize(id)
	if c, ok := converters[norm]; ok {
		return c, nil
	}
	main, _, _ := strings.Cut(norm, ".")
	if c, ok := converters[main]; ok {
		return c, nil
	}
	return Converter{}, fmt.Errorf("%w: %q", ErrUnknownType, id)
}

// Encode converts v to the wire form of datapoint type id.
func Encode(id string, v any) ([]byte, error) {
	c, err := Lookup(id)
	if err != nil {
		return nil, err
	}
	data, err := c.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("DPT %s: %w", id, err)
	}
	return data, nil
}

// Decode converts wire data of datapoint type id to a Go value.
func Decode(id string, data []byte) (any, error) {
	c, err := Lookup(id)
	if err != nil {
		return nil, err
	}
	return c.Decode(data)
}

// Short reports whether id is carried inside the APCI word. Unknown IDs
// report false.
func Short(id string) bool {
	c, err := Lookup(id)
	return err == nil && c.Short
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "on", "yes", "up", "start", "enable":
			return true, nil
		case "0", "false", "off", "no", "down", "stop", "disable":
			return false, nil
		}
		return false, fmt.Errorf("%w: %q is not a boolean", ErrEncode, x)
	default:
		f, err := toFloat(v)
		if err != nil {
			return false, err
		}
		return f != 0, nil
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrEncode, x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrEncode, v)
	}
}

func toUint(v any, limit uint64) (uint64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > float64(limit) || f != float64(uint64(f)) {
		return 0, fmt.Errorf("%w: %v is not an integer in 0..%d", ErrEncode, v, limit)
	}
	return uint64(f), nil
}

// toStruct accepts the struct itself or any JSON-shaped value (maps from
// decoded JSON, or a JSON string).
func toStruct[T any](v any, out *T) error {
	switch x := v.(type) {
	case T:
		*out = x
		return nil
	case string:
		if err := json.Unmarshal([]byte(x), out); err != nil {
			return fmt.Errorf("%w: %v", ErrEncode, err)
		}
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return nil
}

// toRGB accepts an RGB, "#RRGGBB" or a {"r","g","b"} object.
func toRGB(v any) (RGB, error) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(strings.TrimSpace(s), "#") {
		var c RGB
		err := toStruct(v, &c)
		return c, err
	}

	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil || len(hex) != 6 { //nolint:mnd // RRGGBB
		return RGB{}, fmt.Errorf("%w: %q is not #RRGGBB", ErrEncode, s)
	}
	return RGB{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n)}, nil //nolint:gosec // 24-bit value
}
