package meter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// decode turns raw register bytes into the point's engineering value.
func decode(p Point, data []byte) (float64, error) {
	var raw float64
	switch dt := p.dataType(); dt {
	case "uint16":
		if len(data) < 2 {
			return 0, errors.New("insufficient data for uint16")
		}
		raw = float64(binary.BigEndian.Uint16(data[:2]))
	case "int16":
		if len(data) < 2 {
			return 0, errors.New("insufficient data for int16")
		}
		raw = float64(int16(binary.BigEndian.Uint16(data[:2])))
	case "float32", "uint32", "int32":
		if len(data) < 4 {
			return 0, fmt.Errorf("insufficient data for %s", dt)
		}
		u := binary.BigEndian.Uint32(reorder32(data[:4], p.ByteOrder))
		switch dt {
		case "float32":
			raw = float64(math.Float32frombits(u))
		case "uint32":
			raw = float64(u)
		default:
			raw = float64(int32(u))
		}
	default:
		return 0, fmt.Errorf("unsupported data type: %s", dt)
	}
	return raw*p.scale() + p.Offset, nil
}

// encode is the inverse of decode, used by the simulator.
func encode(p Point, v float64) ([]uint16, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("invalid value for %s", p.Field)
	}
	raw := (v - p.Offset) / p.scale()
	var b [4]byte
	switch dt := p.dataType(); dt {
	case "uint16":
		r := math.Round(raw)
		if r < 0 || r > math.MaxUint16 {
			return nil, fmt.Errorf("value %f out of range for uint16", v)
		}
		return []uint16{uint16(r)}, nil
	case "int16":
		r := math.Round(raw)
		if r < math.MinInt16 || r > math.MaxInt16 {
			return nil, fmt.Errorf("value %f out of range for int16", v)
		}
		return []uint16{uint16(int16(r))}, nil
	case "float32":
		f := float32(raw)
		if math.IsInf(float64(f), 0) {
			return nil, fmt.Errorf("value %f overflows float32", v)
		}
		binary.BigEndian.PutUint32(b[:], math.Float32bits(f))
	case "uint32":
		r := math.Round(raw)
		if r < 0 || r > math.MaxUint32 {
			return nil, fmt.Errorf("value %f out of range for uint32", v)
		}
		binary.BigEndian.PutUint32(b[:], uint32(r))
	case "int32":
		r := math.Round(raw)
		if r < math.MinInt32 || r > math.MaxInt32 {
			return nil, fmt.Errorf("value %f out of range for int32", v)
		}
		binary.BigEndian.PutUint32(b[:], uint32(int32(r)))
	default:
		return nil, fmt.Errorf("unsupported data type: %s", dt)
	}
	w := reorder32(b[:], p.ByteOrder)
	return []uint16{binary.BigEndian.Uint16(w[0:2]), binary.BigEndian.Uint16(w[2:4])}, nil
}

// reorder32 returns a 4-byte slice reordered per byte-order string.
// Supported orders: "ABCD" (default), "DCBA", "BADC" (byte swap within
// words), "CDAB" (word swap). Each reordering is its own inverse.
func reorder32(in []byte, order string) []byte {
	var out [4]byte
	if len(in) < 4 {
		return append([]byte{}, in...)
	}
	switch strings.ToUpper(strings.TrimSpace(order)) {
	case "DCBA":
		out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	case "BADC":
		out[0], out[1], out[2], out[3] = in[1], in[0], in[3], in[2]
	case "CDAB":
		out[0], out[1], out[2], out[3] = in[2], in[3], in[0], in[1]
	default:
		copy(out[:], in[:4])
	}
	return out[:]
}

func round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
