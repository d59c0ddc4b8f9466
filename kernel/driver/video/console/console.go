package console

// Attr defines a color attribute.
type Attr uint16

// The set of attributes that can be passed to Write().
const (
	Black Attr = iota
	Blue
	Green
	Cyan
	Red
	Magenta
	Brown
	LightGrey
	Grey
	LightBlue
	LightGreen
	LightCyan
	LightRed
	LightMagenta
	LightBrown
	White
)

// Foreground returns the low nibble of the attribute, the color Write()
// renders the glyph itself in.
func (a Attr) Foreground() Attr {
	return a & 0xF
}

// Background returns the high nibble of the attribute, the color a backend
// uses to paint a cleared or blanked cell.
func (a Attr) Background() Attr {
	return (a >> 4) & 0xF
}

// MakeAttr packs a foreground/background color pair into a single Attr the
// way Write() and the palette-indexed backends expect: background in the
// high nibble, foreground in the low nibble.
func MakeAttr(fg, bg Attr) Attr {
	return (bg << 4) | (fg & 0xF)
}

// ScrollDir defines a scroll direction.
type ScrollDir uint8

// The supported list of scroll directions for the console Scroll() calls.
const (
	Up ScrollDir = iota
	Down
)

// ClearAttr is the color new console backends default their clear/blank
// cells to until a caller picks a different one via SetClearAttr.
var ClearAttr Attr = Black

// ClearChar is the glyph text-mode backends (Ega) fill cleared cells with.
const ClearChar = byte(' ')

// The Console interface is implemented by objects that can function as physical consoles.
type Console interface {
	// Dimensions returns the width and height of the console in characters.
	Dimensions() (uint16, uint16)

	// Clear clears the specified rectangular region
	Clear(x, y, width, height uint16)

	// Scroll a particular number of lines to the specified direction.
	Scroll(dir ScrollDir, lines uint16)

	// Write a char to the specified location.
	Write(ch byte, attr Attr, x, y uint16)

	// SetClearAttr overrides the color Clear() fills blanked cells with.
	SetClearAttr(attr Attr)
}
