package cfbstore

// Color is the red-black node color stored in each directory entry.
type Color int

const (
	Red Color = iota
	Black
)

func (c Color) AsByte() byte {
	if c == Red {
		return COLOR_RED
	}
	return COLOR_BLACK
}

func (c Color) String() string {
	if c == Red {
		return "red"
	}
	return "black"
}

// ColorFromByte reports false for bytes that name no color.
func ColorFromByte(b byte) (Color, bool) {
	switch b {
	case COLOR_RED:
		return Red, true
	case COLOR_BLACK:
		return Black, true
	default:
		return Black, false
	}
}
