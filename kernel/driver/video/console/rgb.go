package console

import (
	"image"
	"image/color"
	"reflect"
	"unsafe"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// glyphWidth/glyphHeight are the fixed bitmap cell size of the face used to
// render each character, in pixels.
const (
	glyphWidth  = 7
	glyphHeight = 13
)

// palette maps the 16 VGA-style Attr values Ega already uses onto RGB
// colors, so Write() callers don't need to know which console backend is
// active.
var palette = [16]color.RGBA{
	Black:        {0, 0, 0, 255},
	Blue:         {0, 0, 170, 255},
	Green:        {0, 170, 0, 255},
	Cyan:         {0, 170, 170, 255},
	Red:          {170, 0, 0, 255},
	Magenta:      {170, 0, 170, 255},
	Brown:        {170, 85, 0, 255},
	LightGrey:    {170, 170, 170, 255},
	Grey:         {85, 85, 85, 255},
	LightBlue:    {85, 85, 255, 255},
	LightGreen:   {85, 255, 85, 255},
	LightCyan:    {85, 255, 255, 255},
	LightRed:     {255, 85, 85, 255},
	LightMagenta: {255, 85, 255, 255},
	LightBrown:   {255, 255, 85, 255},
	White:        {255, 255, 255, 255},
}

// RGB implements a direct-color console over a linear VBE/Bochs framebuffer.
// It draws into an in-memory RGBA backbuffer with gg (glyphs rasterized via
// a fixed-width bitmap face) and flushes only the pixel rectangle a
// Write/Clear/Scroll touched out to the physical framebuffer, converting
// gg's RGBA layout to whatever channel order the hardware buffer uses.
type RGB struct {
	width, height       uint16 // dimensions in character cells
	pixWidth, pixHeight int
	bytesPerPixel       int
	physAddr            uintptr
	clearAttr           Attr
	fb                  []byte // raw physical framebuffer memory

	back *gg.Context
	face font.Face
}

// Init sets up the console against a linear framebuffer. width/height are
// the framebuffer's pixel dimensions, bpp its bits per pixel (24 or 32),
// fbPhysAddr its physical base address.
func (cons *RGB) Init(width, height uint16, bpp uint8, fbPhysAddr uintptr) {
	cons.pixWidth = int(width)
	cons.pixHeight = int(height)
	cons.bytesPerPixel = int(bpp+7) / 8
	cons.physAddr = fbPhysAddr
	cons.width = width / glyphWidth
	cons.height = height / glyphHeight
	cons.face = basicfont.Face7x13
	cons.clearAttr = ClearAttr

	fbLen := cons.pixWidth * cons.pixHeight * cons.bytesPerPixel
	cons.fb = *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  fbLen,
		Cap:  fbLen,
		Data: fbPhysAddr,
	}))

	cons.back = gg.NewContext(cons.pixWidth, cons.pixHeight)
	cons.back.SetColor(palette[cons.clearAttr])
	cons.back.Clear()
	cons.flush(0, 0, cons.pixWidth, cons.pixHeight)
}

// SetClearAttr overrides the color Clear() fills blanked cells with.
func (cons *RGB) SetClearAttr(attr Attr) {
	cons.clearAttr = attr
}

// Dimensions returns the console width and height in character cells.
func (cons *RGB) Dimensions() (uint16, uint16) {
	return cons.width, cons.height
}

// Clear clears the specified rectangular region of character cells.
func (cons *RGB) Clear(x, y, width, height uint16) {
	if x >= cons.width {
		x = cons.width
	}
	if y >= cons.height {
		y = cons.height
	}
	if x+width > cons.width {
		width = cons.width - x
	}
	if y+height > cons.height {
		height = cons.height - y
	}
	if width == 0 || height == 0 {
		return
	}

	px, py := int(x)*glyphWidth, int(y)*glyphHeight
	pw, ph := int(width)*glyphWidth, int(height)*glyphHeight

	cons.back.SetColor(palette[cons.clearAttr])
	cons.back.DrawRectangle(float64(px), float64(py), float64(pw), float64(ph))
	cons.back.Fill()

	cons.flush(px, py, pw, ph)
}

// Scroll a particular number of character rows to the specified direction.
func (cons *RGB) Scroll(dir ScrollDir, lines uint16) {
	if lines == 0 || lines > cons.height {
		return
	}

	im, ok := cons.back.Image().(*image.RGBA)
	if !ok {
		return
	}

	rowPixels := int(lines) * glyphHeight * im.Stride
	total := cons.pixHeight * im.Stride

	switch dir {
	case Up:
		copy(im.Pix[:total-rowPixels], im.Pix[rowPixels:total])
		blank := im.Pix[total-rowPixels : total]
		for i := range blank {
			blank[i] = 0
		}
	case Down:
		copy(im.Pix[rowPixels:total], im.Pix[:total-rowPixels])
		blank := im.Pix[:rowPixels]
		for i := range blank {
			blank[i] = 0
		}
	}

	cons.flush(0, 0, cons.pixWidth, cons.pixHeight)
}

// Write a char to the specified character cell.
func (cons *RGB) Write(ch byte, attr Attr, x, y uint16) {
	if x >= cons.width || y >= cons.height {
		return
	}

	px, py := int(x)*glyphWidth, int(y)*glyphHeight

	bg := palette[cons.clearAttr]
	cons.back.SetColor(bg)
	cons.back.DrawRectangle(float64(px), float64(py), float64(glyphWidth), float64(glyphHeight))
	cons.back.Fill()

	fg := palette[attr.Foreground()]
	d := &font.Drawer{
		Dst:  cons.back.Image().(*image.RGBA),
		Src:  image.NewUniform(fg),
		Face: cons.face,
		Dot:  fixed.P(px, py+glyphHeight-4),
	}
	d.DrawString(string(ch))

	cons.flush(px, py, glyphWidth, glyphHeight)
}

// SetPixel paints one pixel directly, bypassing the character-cell grid.
func (cons *RGB) SetPixel(x, y int, r, g, b uint8) {
	if x < 0 || y < 0 || x >= cons.pixWidth || y >= cons.pixHeight {
		return
	}

	im, ok := cons.back.Image().(*image.RGBA)
	if !ok {
		return
	}

	off := y*im.Stride + x*4
	im.Pix[off+0], im.Pix[off+1], im.Pix[off+2], im.Pix[off+3] = r, g, b, 255

	cons.flush(x, y, 1, 1)
}

// flush copies the pixel rectangle [x0,y0,x0+w)x[y0,y0+h) from the gg RGBA
// backbuffer into the physical framebuffer, translating channel order/width.
func (cons *RGB) flush(x0, y0, w, h int) {
	im, ok := cons.back.Image().(*image.RGBA)
	if !ok {
		return
	}

	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x0+w > cons.pixWidth {
		w = cons.pixWidth - x0
	}
	if y0+h > cons.pixHeight {
		h = cons.pixHeight - y0
	}
	if w <= 0 || h <= 0 {
		return
	}

	pitch := cons.pixWidth * cons.bytesPerPixel
	bpp := cons.bytesPerPixel

	for row := 0; row < h; row++ {
		srcOff := (y0+row)*im.Stride + x0*4
		dstOff := (y0+row)*pitch + x0*bpp
		for col := 0; col < w; col++ {
			r := im.Pix[srcOff+col*4+0]
			g := im.Pix[srcOff+col*4+1]
			b := im.Pix[srcOff+col*4+2]

			d := dstOff + col*bpp
			// Framebuffer is little-endian BGR(X), matching the
			// standard VBE/Bochs linear-framebuffer convention.
			cons.fb[d+0] = b
			cons.fb[d+1] = g
			cons.fb[d+2] = r
			if bpp == 4 {
				cons.fb[d+3] = 0
			}
		}
	}
}
