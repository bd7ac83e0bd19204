package cfbstore

import (
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf16"
)

const MAX_NAME_LEN int = 31

type Ordering int

const (
	OrderLess Ordering = iota
	OrderEqual
	OrderGreater
)

func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", ErrorInvalidName)
	}

	if strings.ContainsAny(name, "/\\:!") {
		return fmt.Errorf("name contains one of /\\:! characters: %v: %w", name, ErrorInvalidName)
	}

	if n := len(utf16.Encode([]rune(name))); n > MAX_NAME_LEN {
		return fmt.Errorf("name %q has %v UTF-16 units, at most %v allowed: %w", name, n, MAX_NAME_LEN, ErrorInvalidName)
	}

	return nil
}

// CompareNames orders sibling names the way the directory tree does:
// shorter UTF-16 names first, then unit by unit after upper-casing.
func CompareNames(nameLeft, nameRight string) Ordering {
	left := utf16.Encode([]rune(nameLeft))
	right := utf16.Encode([]rune(nameRight))

	if len(left) != len(right) {
		if len(left) < len(right) {
			return OrderLess
		}
		return OrderGreater
	}

	for i := range left {
		l, r := upperUnit(left[i]), upperUnit(right[i])
		if l < r {
			return OrderLess
		}
		if l > r {
			return OrderGreater
		}
	}

	return OrderEqual
}

func upperUnit(u uint16) uint16 {
	if utf16.IsSurrogate(rune(u)) {
		return u
	}
	upper := unicode.ToUpper(rune(u))
	if upper > 0xffff {
		return u
	}
	return uint16(upper)
}

func NameChainFromPath(s string) []string {
	s = path.Clean(s)
	if s == "" || s == "." {
		return []string{}
	}

	if s[0] == '/' {
		s = s[1:]
	}

	if s == "" {
		return []string{}
	}

	if strings.HasPrefix(s, "..") {
		return []string{}
	}

	return strings.Split(s, "/")
}

func PathFromNameChain(names []string) string {
	return "/" + strings.Join(names, "/")
}
