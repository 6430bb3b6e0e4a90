package bencode

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Marshal encodes v as bencoded bytes. See Encoder.Encode for the set of
// supported Go types.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encoder writes bencoded values to an underlying io.Writer. Once a write
// fails, every subsequent method is a no-op returning that same error.
type Encoder struct {
	w   io.Writer
	err error
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v in bencoded form. Supported types: string, []byte, bool,
// every sized int/uint variant, []any, and map[string]any.
func (e *Encoder) Encode(v any) error {
	switch x := v.(type) {
	case string:
		e.putString(x)
	case []byte:
		e.putString(string(x))
	case bool:
		n := int64(0)
		if x {
			n = 1
		}
		e.putSigned(n)
	case int:
		e.putSigned(int64(x))
	case int8:
		e.putSigned(int64(x))
	case int16:
		e.putSigned(int64(x))
	case int32:
		e.putSigned(int64(x))
	case int64:
		e.putSigned(x)
	case uint:
		e.putUnsigned(uint64(x))
	case uint8:
		e.putUnsigned(uint64(x))
	case uint16:
		e.putUnsigned(uint64(x))
	case uint32:
		e.putUnsigned(uint64(x))
	case uint64:
		e.putUnsigned(x)
	case []any:
		e.putList(x)
	case map[string]any:
		e.putDict(x)
	default:
		e.fail(fmt.Errorf("bencode: unsupported datatype %T", v))
	}
	return e.err
}

// fail records the first error seen; later calls are ignored.
func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	if _, err := e.w.Write(p); err != nil {
		e.fail(err)
	}
}

func (e *Encoder) putSigned(n int64) {
	var buf [32]byte
	b := append(buf[:0], TokenInteger.Byte())
	b = strconv.AppendInt(b, n, 10)
	b = append(b, TokenEnding.Byte())
	e.write(b)
}

func (e *Encoder) putUnsigned(n uint64) {
	var buf [32]byte
	b := append(buf[:0], TokenInteger.Byte())
	b = strconv.AppendUint(b, n, 10)
	b = append(b, TokenEnding.Byte())
	e.write(b)
}

func (e *Encoder) putString(s string) {
	var buf [24]byte
	b := strconv.AppendInt(buf[:0], int64(len(s)), 10)
	b = append(b, TokenStringSeparator.Byte())
	e.write(b)
	e.write([]byte(s))
}

func (e *Encoder) putList(xs []any) {
	e.write([]byte{TokenList.Byte()})
	for _, v := range xs {
		if e.err != nil {
			return
		}
		e.fail(e.Encode(v))
	}
	e.write([]byte{TokenEnding.Byte()})
}

// putDict writes keys in sorted order, which bencode requires for
// dictionaries to have a single canonical encoding.
func (e *Encoder) putDict(m map[string]any) {
	e.write([]byte{TokenDict.Byte()})

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if e.err != nil {
			return
		}
		e.putString(k)
		e.fail(e.Encode(m[k]))
	}
	e.write([]byte{TokenEnding.Byte()})
}
