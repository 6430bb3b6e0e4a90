// Package cast converts the untyped any values produced by the bencode
// decoder into the concrete Go types metainfo and tracker-response parsing
// expect.
package cast

import "fmt"

// TypeError reports that a decoded bencode value did not hold the Go type
// a caller asked for.
type TypeError struct {
	Want string
	Got  any
}

func (e TypeError) Error() string {
	return fmt.Sprintf("cast: want %s, got %T", e.Want, e.Got)
}

// ToString coerces a bencoded string or byte string into a Go string.
func ToString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		return "", TypeError{Want: "string", Got: v}
	}
}

// ToBytes coerces a bencoded string or byte string into a []byte.
func ToBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, TypeError{Want: "[]byte", Got: v}
	}
}

// ToInt coerces any decoded integer variant into an int64.
func ToInt(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	default:
		return 0, TypeError{Want: "int", Got: v}
	}
}

// ToStringSlice coerces a bencoded list of strings into a []string. Any
// non-list, or element that doesn't coerce via ToString, is an error.
func ToStringSlice(v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, TypeError{Want: "[]any", Got: v}
	}

	out := make([]string, 0, len(list))
	for i, e := range list {
		s, err := ToString(e)
		if err != nil {
			return nil, fmt.Errorf("cast: element %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ToTieredStrings coerces a bencoded list-of-lists-of-strings, the shape of
// a multi-tier announce-list, rejecting any tier that is empty or malformed.
func ToTieredStrings(v any) ([][]string, error) {
	tiers, ok := v.([]any)
	if !ok {
		return nil, TypeError{Want: "[]any", Got: v}
	}

	out := make([][]string, 0, len(tiers))
	for i, t := range tiers {
		ss, err := ToStringSlice(t)
		if err != nil {
			return nil, fmt.Errorf("cast: tier %d: %w", i, err)
		}
		if len(ss) == 0 {
			return nil, fmt.Errorf("cast: tier %d: empty", i)
		}
		out = append(out, ss)
	}
	return out, nil
}
