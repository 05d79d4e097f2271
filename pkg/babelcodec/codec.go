// Package babelcodec implements the Babel Storage Protocol page codec:
// a reversible transform between arbitrary bytes and 3200-symbol pages
// over the 29-symbol Babel alphabet.
//
// A page carries a versioned, length-prefixed envelope around the
// payload. Writing always produces the v5 envelope; the markers of the
// historical v1-v3 envelopes are recognized read-only so that old
// records stay retrievable.
package babelcodec

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// Alphabet is the 29-symbol Babel alphabet in its fixed order. The
// ordering is part of the wire format; changing it breaks every
// existing record.
const Alphabet = "abcdefghijklmnopqrstuvwxyz .,"

const (
	// Base is the radix of the page encoding.
	Base = 29

	// PageSize is the exact length of every encoded page.
	PageSize = 3200

	// LenWidth is the fixed symbol width of the v5 length field.
	// 29^8 > 5e11, far beyond any payload a page can hold.
	LenWidth = 8

	// EnvelopeOverhead is the symbol count consumed by the v5
	// envelope: one version marker plus the length field.
	EnvelopeOverhead = 1 + LenWidth

	// MaxPayload is the conservative payload ceiling used for chunk
	// planning. The page could hold a little more (~1937 bytes); the
	// margin is reserved for future envelope growth.
	MaxPayload = 1850

	// zeroSymbol is the alphabet symbol with value zero, used for
	// left-padding numbers and for page padding.
	zeroSymbol = 'a'
)

// EncodingName identifies the envelope written by Encode in record
// metadata.
const EncodingName = "base29-v5"

// EncodingOverhead is the expansion factor from bytes to symbols:
// 8 / log2(29), about 1.6468 symbols per byte.
var EncodingOverhead = 8 / math.Log2(Base)

var (
	// ErrBadAlphabet reports a symbol outside the Babel alphabet.
	ErrBadAlphabet = errors.New("babelcodec: symbol outside babel alphabet")
	// ErrBadVersion reports an unrecognized envelope version marker.
	ErrBadVersion = errors.New("babelcodec: unknown envelope version marker")
	// ErrBadLength reports a declared payload length that the page
	// cannot hold, or a payload that does not fit its declared length.
	ErrBadLength = errors.New("babelcodec: bad payload length")
)

// Version tags an envelope generation. Decoding dispatches on the
// page's version marker; encoding always uses V5.
type Version uint8

const (
	V1 Version = 1
	V2 Version = 2
	V3 Version = 3
	V4 Version = 4
	V5 Version = 5
)

// Marker returns the page symbol reserved for the version. V4 changed
// the metadata format only and kept the v3 page envelope, so it shares
// the v3 marker.
func (v Version) Marker() byte {
	switch v {
	case V1:
		return 'a'
	case V2:
		return 'b'
	case V3, V4:
		return 'c'
	default:
		return 'd'
	}
}

// envelope is the per-version wire rule. Encoding is only defined for
// the current version; historical envelopes implement decode only.
type envelope interface {
	version() Version
	decode(body string) ([]byte, error)
}

// markerEnvelopes maps a page's first symbol to its envelope rule.
var markerEnvelopes = map[byte]envelope{
	'a': legacyEnvelope{V1},
	'b': legacyEnvelope{V2},
	'c': legacyEnvelope{V3},
	'd': v5Envelope{},
}

// symbolValues maps an alphabet symbol to its numeric value, -1 for
// everything else.
var symbolValues = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		t[Alphabet[i]] = int8(i)
	}
	return t
}()

// bigDigits is the digit set math/big uses for base-29 text. Position
// i in this string and position i in Alphabet denote the same value,
// which makes the two representations a straight per-symbol swap.
const bigDigits = "0123456789abcdefghijklmnopqrs"

var (
	bigToBabel = func() [256]byte {
		var t [256]byte
		for i := 0; i < Base; i++ {
			t[bigDigits[i]] = Alphabet[i]
		}
		return t
	}()
	babelToBig = func() [256]byte {
		var t [256]byte
		for i := 0; i < Base; i++ {
			t[Alphabet[i]] = bigDigits[i]
		}
		return t
	}()
)

// BodyWidth returns the exact symbol count of the base-29 body for a
// payload of n bytes: ceil(8n / log2 29).
func BodyWidth(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(float64(8*n) / math.Log2(Base)))
}

// MaxDeclarable is the largest payload length whose v5 envelope still
// fits in a page. Anything larger is structurally invalid.
var MaxDeclarable = func() int {
	n := 0
	for BodyWidth(n+1)+EnvelopeOverhead <= PageSize {
		n++
	}
	return n
}()

// Encode wraps b in the v5 envelope and returns exactly PageSize
// symbols. The payload may be empty; it must not exceed MaxPayload.
func Encode(b []byte) (string, error) {
	if len(b) > MaxPayload {
		return "", fmt.Errorf("%w: payload %d bytes exceeds %d", ErrBadLength, len(b), MaxPayload)
	}

	var sb strings.Builder
	sb.Grow(PageSize)
	sb.WriteByte(V5.Marker())
	sb.WriteString(encodeFixedInt(uint64(len(b)), LenWidth))

	width := BodyWidth(len(b))
	if width > 0 {
		body := new(big.Int).SetBytes(b).Text(Base)
		for pad := width - len(body); pad > 0; pad-- {
			sb.WriteByte(zeroSymbol)
		}
		for i := 0; i < len(body); i++ {
			sb.WriteByte(bigToBabel[body[i]])
		}
	}

	for sb.Len() < PageSize {
		sb.WriteByte(zeroSymbol)
	}
	return sb.String(), nil
}

// Decode reverses Encode for any recognized envelope version. Trailing
// padding beyond the declared body is ignored. Every symbol of the
// page must lie in the alphabet; any structural violation is fatal to
// the whole page.
func Decode(page string) ([]byte, error) {
	if page == "" {
		return nil, fmt.Errorf("%w: empty page", ErrBadLength)
	}
	for i := 0; i < len(page); i++ {
		if symbolValues[page[i]] < 0 {
			return nil, fmt.Errorf("%w: %q at offset %d", ErrBadAlphabet, page[i], i)
		}
	}

	env, ok := markerEnvelopes[page[0]]
	if !ok {
		return nil, fmt.Errorf("%w: marker %q", ErrBadVersion, page[0])
	}
	return env.decode(page[1:])
}

// DecodeVersion reports which envelope version produced the page.
func DecodeVersion(page string) (Version, error) {
	if page == "" {
		return 0, fmt.Errorf("%w: empty page", ErrBadLength)
	}
	env, ok := markerEnvelopes[page[0]]
	if !ok {
		return 0, fmt.Errorf("%w: marker %q", ErrBadVersion, page[0])
	}
	return env.version(), nil
}

// v5Envelope: fixed-width length field, zero-padded base-29 body.
type v5Envelope struct{}

func (v5Envelope) version() Version { return V5 }

func (v5Envelope) decode(body string) ([]byte, error) {
	if len(body) < LenWidth {
		return nil, fmt.Errorf("%w: truncated length field", ErrBadLength)
	}
	n := 0
	for i := 0; i < LenWidth; i++ {
		n = n*Base + int(symbolValues[body[i]])
		if n > MaxDeclarable {
			return nil, fmt.Errorf("%w: declared length exceeds page capacity", ErrBadLength)
		}
	}
	width := BodyWidth(n)
	if LenWidth+width > len(body) {
		return nil, fmt.Errorf("%w: truncated body", ErrBadLength)
	}
	return renderBytes(body[LenWidth:LenWidth+width], n)
}

// legacyEnvelope: the variable-width prefix shared by the v1-v3 page
// formats: [byte-len size][byte-len][body-len size][body-len][body].
type legacyEnvelope struct{ v Version }

func (l legacyEnvelope) version() Version { return l.v }

func (legacyEnvelope) decode(body string) ([]byte, error) {
	pos := 0
	readField := func(name string) (int, error) {
		if pos >= len(body) {
			return 0, fmt.Errorf("%w: missing %s size", ErrBadLength, name)
		}
		size := int(symbolValues[body[pos]])
		pos++
		if pos+size > len(body) {
			return 0, fmt.Errorf("%w: truncated %s", ErrBadLength, name)
		}
		n := 0
		for _, c := range []byte(body[pos : pos+size]) {
			n = n*Base + int(symbolValues[c])
			if n > PageSize*8 {
				return 0, fmt.Errorf("%w: %s out of range", ErrBadLength, name)
			}
		}
		pos += size
		return n, nil
	}

	byteLen, err := readField("byte length")
	if err != nil {
		return nil, err
	}
	if byteLen > MaxDeclarable {
		return nil, fmt.Errorf("%w: declared length exceeds page capacity", ErrBadLength)
	}
	bodyLen, err := readField("body length")
	if err != nil {
		return nil, err
	}
	if pos+bodyLen > len(body) {
		return nil, fmt.Errorf("%w: truncated body", ErrBadLength)
	}
	return renderBytes(body[pos:pos+bodyLen], byteLen)
}

// renderBytes interprets symbols as a base-29 integer and renders it
// big-endian into exactly byteLen bytes.
func renderBytes(symbols string, byteLen int) ([]byte, error) {
	if byteLen == 0 {
		return []byte{}, nil
	}
	digits := make([]byte, len(symbols))
	for i := 0; i < len(symbols); i++ {
		digits[i] = babelToBig[symbols[i]]
	}
	value := new(big.Int)
	if len(digits) > 0 {
		var ok bool
		value, ok = value.SetString(string(digits), Base)
		if !ok {
			return nil, fmt.Errorf("%w: malformed base-29 body", ErrBadLength)
		}
	}
	if value.BitLen() > byteLen*8 {
		return nil, fmt.Errorf("%w: body does not fit declared length of %d bytes", ErrBadLength, byteLen)
	}
	out := make([]byte, byteLen)
	value.FillBytes(out)
	return out, nil
}

// encodeFixedInt renders v as exactly width base-29 symbols,
// left-padded with the zero symbol.
func encodeFixedInt(v uint64, width int) string {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = Alphabet[v%Base]
		v /= Base
	}
	return string(buf)
}

// ValidatePage checks that text is a structurally plausible page:
// exactly PageSize symbols, all within the alphabet.
func ValidatePage(text string) error {
	if len(text) != PageSize {
		return fmt.Errorf("%w: page is %d symbols, want %d", ErrBadLength, len(text), PageSize)
	}
	for i := 0; i < len(text); i++ {
		if symbolValues[text[i]] < 0 {
			return fmt.Errorf("%w: %q at offset %d", ErrBadAlphabet, text[i], i)
		}
	}
	return nil
}
