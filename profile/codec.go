package profile

import (
	"strconv"

	"github.com/andreyvit/tinyjson"
)

// marshal hand-builds the flat JSON object. The map is tiny and flat, so the
// writer stays allocation-frugal instead of pulling in a reflection encoder.
func marshal(values map[Key]any) []byte {
	out := make([]byte, 0, 160)
	out = append(out, '{')
	first := true
	// Emit in key order so the blob is stable across writes.
	for k := Key(1); k <= KeyModel; k++ {
		v, ok := values[k]
		if !ok {
			continue
		}
		if !first {
			out = append(out, ',')
		}
		first = false
		out = strconv.AppendQuote(out, keyName(k))
		out = append(out, ':')
		out = appendValue(out, v)
	}
	out = append(out, '}')
	return out
}

func appendValue(out []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(out, "null"...)
	case bool:
		if x {
			return append(out, "true"...)
		}
		return append(out, "false"...)
	case int:
		return strconv.AppendInt(out, int64(x), 10)
	case float32:
		return strconv.AppendFloat(out, float64(x), 'g', -1, 32)
	case string:
		return strconv.AppendQuote(out, x)
	default:
		return append(out, "null"...)
	}
}

// parse decodes the stored blob back into native values through the type
// table. Malformed blobs report !ok and the caller falls back to defaults.
func parse(raw []byte) (vals map[Key]any, ok bool) {
	defer func() {
		if recover() != nil {
			vals, ok = nil, false
		}
	}()

	r := tinyjson.Raw(raw)
	val := r.Value()
	r.EnsureEOF()

	m, isMap := val.(map[string]any)
	if !isMap {
		return nil, false
	}

	vals = make(map[Key]any, len(m))
	for name, v := range m {
		k, err := parseKeyName(name)
		if err != nil {
			continue
		}
		t, known := keyTypes[k]
		if !known {
			continue
		}
		switch t {
		case TypeBool:
			if b, isBool := v.(bool); isBool {
				vals[k] = b
			}
		case TypeInt8, TypeInt32:
			if f, isNum := v.(float64); isNum {
				vals[k] = int(f)
			}
		case TypeFloat32:
			if f, isNum := v.(float64); isNum {
				vals[k] = float32(f)
			}
		case TypeString:
			if s, isStr := v.(string); isStr {
				vals[k] = s
			}
		}
	}
	return vals, true
}

func parseKeyName(name string) (Key, error) {
	n, err := strconv.ParseUint(name, 0, 8)
	if err != nil {
		return 0, err
	}
	return Key(n), nil
}
