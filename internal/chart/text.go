package chart

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// Align positions a label horizontally relative to its anchor.
type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// Segment is a run of text in one colour. A legend is a sequence of them.
type Segment struct {
	Text  string
	Color color.Color
}

// Text draws a single-colour label with its baseline at y.
func (c *Canvas) Text(face font.Face, fnt *sfnt.Font, s string, x, y int, align Align, col color.Color) error {
	return c.Segments(face, fnt, []Segment{{Text: s, Color: col}}, x, y, align)
}

// Segments draws consecutive coloured runs as one label. Every rune is
// checked against the font first; the label box is shifted to stay inside
// the canvas.
func (c *Canvas) Segments(face font.Face, fnt *sfnt.Font, segs []Segment, x, y int, align Align) error {
	if err := c.require(StageLabels, "label"); err != nil {
		return err
	}

	var full string
	for _, seg := range segs {
		full += seg.Text
	}
	if r := missingGlyph(fnt, full); r >= 0 {
		return &RenderError{Op: "label", Err: fmt.Errorf("%w for %q (U+%04X) in %q", ErrMissingGlyph, r, r, full)}
	}

	pen, err := c.placeLabel(face, full, x, y, align)
	if err != nil {
		return err
	}

	d := &font.Drawer{
		Dst:  c.img,
		Face: face,
		Dot:  fixed.P(pen.X, pen.Y),
	}
	for _, seg := range segs {
		d.Src = image.NewUniform(seg.Color)
		d.DrawString(seg.Text)
	}
	return nil
}

// placeLabel computes the label's pixel box for the requested anchor, moves
// it inside the canvas and returns the resulting pen position (left edge and
// baseline).
func (c *Canvas) placeLabel(face font.Face, s string, x, y int, align Align) (image.Point, error) {
	bounds, advance := font.BoundString(face, s)
	w := advance.Ceil()
	top := y + bounds.Min.Y.Floor()
	bottom := y + bounds.Max.Y.Ceil()

	switch align {
	case AlignCenter:
		x -= w / 2
	case AlignRight:
		x -= w
	}
	box := image.Rect(x, top, x+w, bottom)

	canvas := c.img.Bounds()
	if box.Dx() > canvas.Dx() || box.Dy() > canvas.Dy() {
		return image.Point{}, &RenderError{Op: "label", Err: fmt.Errorf("%w: %q is %dx%d", ErrLabelTooLarge, s, box.Dx(), box.Dy())}
	}

	var shift image.Point
	if box.Min.X < canvas.Min.X {
		shift.X = canvas.Min.X - box.Min.X
	} else if box.Max.X > canvas.Max.X {
		shift.X = canvas.Max.X - box.Max.X
	}
	if box.Min.Y < canvas.Min.Y {
		shift.Y = canvas.Min.Y - box.Min.Y
	} else if box.Max.Y > canvas.Max.Y {
		shift.Y = canvas.Max.Y - box.Max.Y
	}
	return image.Pt(x, y).Add(shift), nil
}
