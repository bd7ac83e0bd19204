// Package textenc converts stream text between Go strings and the byte
// encodings commonly found in compound file streams.
package textenc

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

const Default = "ascii"

// asciiOnly replaces every rune outside of 7-bit ASCII with '?'.
var asciiOnly = runes.Map(func(r rune) rune {
	if r > 0x7f {
		return '?'
	}
	return r
})

type asciiEncoding struct{}

func (asciiEncoding) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: asciiOnly}
}

func (asciiEncoding) NewEncoder() *encoding.Encoder {
	return &encoding.Encoder{Transformer: asciiOnly}
}

var encodings = map[string]encoding.Encoding{
	"ascii":       asciiEncoding{},
	"utf8":        unicode.UTF8,
	"unicode":     unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	"utf16le":     unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	"utf16be":     unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
	"utf32":       utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM),
	"latin1":      charmap.ISO8859_1,
	"windows1252": charmap.Windows1252,
}

// Lookup returns the encoding registered under name. Names are matched
// case-insensitively and may contain dashes.
func Lookup(name string) (encoding.Encoding, error) {
	key := strings.ReplaceAll(strings.ToLower(name), "-", "")
	if key == "" {
		key = Default
	}
	enc, ok := encodings[key]
	if !ok {
		return nil, errors.Errorf("unknown encoding %q", name)
	}
	return enc, nil
}

func Encode(name, s string) ([]byte, error) {
	enc, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	b, _, err := transform.Bytes(enc.NewEncoder(), []byte(s))
	if err != nil {
		return nil, errors.Wrapf(err, "encode as %s", name)
	}
	return b, nil
}

func Decode(name string, b []byte) (string, error) {
	enc, err := Lookup(name)
	if err != nil {
		return "", err
	}
	s, _, err := transform.Bytes(enc.NewDecoder(), b)
	if err != nil {
		return "", errors.Wrapf(err, "decode as %s", name)
	}
	return string(s), nil
}

// Names lists the registered encodings in sorted order.
func Names() []string {
	names := make([]string, 0, len(encodings))
	for name := range encodings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
