package bencode

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Token identifies a syntactic marker in the bencode grammar.
type Token byte

func (t Token) Byte() byte { return byte(t) }

const (
	TokenDict            Token = 'd'
	TokenInteger         Token = 'i'
	TokenEnding          Token = 'e'
	TokenList            Token = 'l'
	TokenStringSeparator Token = ':'
)

const (
	defaultMaxDepth  = 2048
	defaultMaxStrLen = 16 << 20 // 16 MiB
	defaultMaxDigits = 19       // first int64 range
)

// Option configures a Decoder's resource limits.
type Option func(*Decoder)

// WithMaxDepth bounds how deeply lists and dicts may nest.
func WithMaxDepth(depth int) Option {
	return func(d *Decoder) { d.maxDepth = depth }
}

// WithMaxStringLen bounds the byte length of any single bencoded string.
func WithMaxStringLen(n int64) Option {
	return func(d *Decoder) { d.maxStrLen = n }
}

// Decoder reads a sequence of bencoded values from an in-memory byte slice,
// enforcing conservative limits against pathological input.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	r         *bufio.Reader
	maxDepth  int
	maxStrLen int64
	maxDigits int
}

// NewDecoder returns a Decoder reading from data, which it does not retain
// or mutate after construction. Options override the default limits.
func NewDecoder(data []byte, opts ...Option) *Decoder {
	d := &Decoder{
		r:         bufio.NewReader(bytes.NewReader(data)),
		maxDepth:  defaultMaxDepth,
		maxStrLen: defaultMaxStrLen,
		maxDigits: defaultMaxDigits,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Unmarshal parses the single bencoded value in data and reports an error
// if data holds anything other than exactly one complete value.
func Unmarshal(data []byte, opts ...Option) (any, error) {
	d := NewDecoder(data, opts...)

	v, err := d.Decode()
	if err != nil {
		return nil, err
	}

	switch _, err := d.r.Peek(1); {
	case err == nil:
		return nil, fmt.Errorf("bencoding: trailing data after first value")
	case !errors.Is(err, io.EOF):
		return nil, err
	}

	return v, nil
}

// Decode reads and returns the next bencoded value: one of int64, string,
// []any, or map[string]any.
func (d *Decoder) Decode() (any, error) { return d.value(0) }

// value dispatches on the next byte's token to the matching grammar rule.
// depth tracks nesting against d.maxDepth.
func (d *Decoder) value(depth int) (any, error) {
	if depth > d.maxDepth {
		return nil, errors.New("bencoding: max nesting depth exceeded")
	}

	lead, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch Token(lead) {
	case TokenDict:
		return d.dict(depth + 1)
	case TokenList:
		return d.list(depth + 1)
	case TokenInteger:
		return d.integer()
	default:
		if err := d.r.UnreadByte(); err != nil {
			return nil, err
		}
		return d.byteString()
	}
}

// dict consumes a 'd' ... 'e' run of alternating string keys and values.
func (d *Decoder) dict(depth int) (map[string]any, error) {
	dict := make(map[string]any, 8)

	for {
		done, err := d.consumeEnding()
		if err != nil {
			return nil, err
		}
		if done {
			return dict, nil
		}

		k, err := d.byteString()
		if err != nil {
			return nil, err
		}
		v, err := d.value(depth)
		if err != nil {
			return nil, err
		}
		dict[k] = v
	}
}

// list consumes an 'l' ... 'e' run of values.
func (d *Decoder) list(depth int) ([]any, error) {
	var list []any

	for {
		done, err := d.consumeEnding()
		if err != nil {
			return nil, err
		}
		if done {
			return list, nil
		}

		v, err := d.value(depth)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
}

// consumeEnding peeks for a terminating 'e' and, if present, consumes it.
func (d *Decoder) consumeEnding() (bool, error) {
	next, err := d.r.Peek(1)
	if err != nil {
		return false, err
	}
	if Token(next[0]) != TokenEnding {
		return false, nil
	}
	_, err = d.r.ReadByte()
	return true, err
}

func (d *Decoder) integer() (int64, error) {
	return d.digits(TokenEnding)
}

// byteString parses <len> ':' <bytes> and returns the bytes as a string.
func (d *Decoder) byteString() (string, error) {
	n, err := d.digits(TokenStringSeparator)
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("bencoding: string length %d is negative", n)
	}
	if n > d.maxStrLen {
		return "", fmt.Errorf("bencoding: string length %d exceeds limit %d", n, d.maxStrLen)
	}
	if n == 0 {
		return "", nil
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", fmt.Errorf("bencoding: read string body: %w", err)
	}
	return string(buf), nil
}

// digits reads a base-10, optionally signed run of digits terminated by
// delim (TokenStringSeparator for string lengths, TokenEnding for integers),
// checking canonical form: no leading zeros, no "-0", no bare sign.
func (d *Decoder) digits(delim Token) (int64, error) {
	buf, err := d.r.ReadSlice(delim.Byte())
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return 0, errors.New("bencoding: integer exceeds buffer size")
		}
		return 0, err
	}

	s := buf[:len(buf)-1] // drop delim
	if len(s) == 0 {
		return 0, errors.New("bencoding: empty integer")
	}

	neg := s[0] == '-'
	digits := s
	if neg {
		digits = s[1:]
	}
	switch {
	case len(digits) == 0:
		return 0, errors.New("bencoding: lone sign with no digits")
	case neg && digits[0] == '0':
		return 0, fmt.Errorf("bencoding: negative zero %q is not canonical", s)
	case !neg && digits[0] == '0' && len(digits) > 1:
		return 0, fmt.Errorf("bencoding: leading zero in %q", s)
	case len(digits) > d.maxDigits:
		return 0, fmt.Errorf("bencoding: %d digits exceeds limit %d", len(digits), d.maxDigits)
	}

	v, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bencoding: invalid integer %q: %w", s, err)
	}
	return v, nil
}
