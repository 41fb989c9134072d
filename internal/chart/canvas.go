package chart

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

// Stage is a canvas drawing layer. Stages only move forward.
type Stage int

const (
	StageBackground Stage = iota
	StageGrid
	StageCurves
	StageLabels
	StageFinalized
)

func (s Stage) String() string {
	switch s {
	case StageBackground:
		return "background"
	case StageGrid:
		return "grid"
	case StageCurves:
		return "curves"
	case StageLabels:
		return "labels"
	case StageFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Point is a sub-pixel canvas position.
type Point struct {
	X, Y float64
}

// Canvas is an RGBA buffer owned by a single render call.
type Canvas struct {
	img   *image.RGBA
	stage Stage
}

// NewCanvas allocates a canvas filled with bg.
func NewCanvas(width, height int, bg color.Color) (*Canvas, error) {
	if width <= 0 || height <= 0 {
		return nil, &RenderError{Op: "new canvas", Err: fmt.Errorf("invalid size %dx%d", width, height)}
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	return &Canvas{img: img, stage: StageBackground}, nil
}

func (c *Canvas) Bounds() image.Rectangle {
	return c.img.Bounds()
}

func (c *Canvas) Stage() Stage {
	return c.stage
}

// Image exposes the pixels. Callers must not modify them.
func (c *Canvas) Image() *image.RGBA {
	return c.img
}

// Advance moves the canvas to a later stage.
func (c *Canvas) Advance(to Stage) error {
	if c.stage == StageFinalized || to < c.stage {
		return &RenderError{Op: "advance", Err: fmt.Errorf("%w: %s after %s", ErrStage, to, c.stage)}
	}
	c.stage = to
	return nil
}

func (c *Canvas) require(s Stage, op string) error {
	if c.stage != s {
		return &RenderError{Op: op, Err: fmt.Errorf("%w: needs %s, canvas is at %s", ErrStage, s, c.stage)}
	}
	return nil
}

// HLine draws a one pixel horizontal gridline at row y.
func (c *Canvas) HLine(x0, x1, y int, col color.Color) error {
	if err := c.require(StageGrid, "gridline"); err != nil {
		return err
	}
	c.fill(image.Rect(x0, y, x1, y+1), col)
	return nil
}

// VLine draws a one pixel vertical gridline at column x.
func (c *Canvas) VLine(x, y0, y1 int, col color.Color) error {
	if err := c.require(StageGrid, "gridline"); err != nil {
		return err
	}
	c.fill(image.Rect(x, y0, x+1, y1), col)
	return nil
}

// Bar fills r, clipped to clip.
func (c *Canvas) Bar(r, clip image.Rectangle, col color.Color) error {
	if err := c.require(StageCurves, "bar"); err != nil {
		return err
	}
	c.fill(r.Intersect(clip), col)
	return nil
}

func (c *Canvas) fill(r image.Rectangle, col color.Color) {
	r = r.Intersect(c.img.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Over)
}

// Polyline strokes connected segments of the given width with round joins
// and caps, anti-aliased and clipped to clip. Pixels outside the stroke are
// left untouched.
func (c *Canvas) Polyline(pts []Point, width float64, clip image.Rectangle, col color.Color) error {
	if err := c.require(StageCurves, "polyline"); err != nil {
		return err
	}
	clip = clip.Intersect(c.img.Bounds())
	if clip.Empty() || len(pts) == 0 {
		return nil
	}

	z := vector.NewRasterizer(clip.Dx(), clip.Dy())
	z.DrawOp = draw.Over
	hw := width / 2
	ox, oy := float64(clip.Min.X), float64(clip.Min.Y)

	for i, p := range pts {
		dot(z, p.X-ox, p.Y-oy, hw)
		if i == 0 {
			continue
		}
		q := pts[i-1]
		segment(z, q.X-ox, q.Y-oy, p.X-ox, p.Y-oy, hw)
	}

	z.Draw(c.img, clip, image.NewUniform(col), image.Point{})
	return nil
}

// segment adds the rectangle around (x0,y0)-(x1,y1). All shapes share one
// winding direction so overlapping coverage saturates instead of cancelling.
func segment(z *vector.Rasterizer, x0, y0, x1, y1, hw float64) {
	dx, dy := x1-x0, y1-y0
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	nx, ny := -dy/length*hw, dx/length*hw

	z.MoveTo(float32(x0+nx), float32(y0+ny))
	z.LineTo(float32(x1+nx), float32(y1+ny))
	z.LineTo(float32(x1-nx), float32(y1-ny))
	z.LineTo(float32(x0-nx), float32(y0-ny))
	z.ClosePath()
}

const joinSides = 12

// dot adds a polygonal disc of radius r, wound like segment.
func dot(z *vector.Rasterizer, x, y, r float64) {
	for i := 0; i <= joinSides; i++ {
		a := -2 * math.Pi * float64(i) / joinSides
		px, py := float32(x+r*math.Cos(a)), float32(y+r*math.Sin(a))
		if i == 0 {
			z.MoveTo(px, py)
		} else {
			z.LineTo(px, py)
		}
	}
	z.ClosePath()
}

// EncodePNG finalizes the canvas and returns it as PNG bytes.
func (c *Canvas) EncodePNG() ([]byte, error) {
	if c.stage == StageFinalized {
		return nil, &RenderError{Op: "encode", Err: fmt.Errorf("%w: canvas already finalized", ErrStage)}
	}
	c.stage = StageFinalized

	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return nil, &RenderError{Op: "encode", Err: err}
	}
	return buf.Bytes(), nil
}
