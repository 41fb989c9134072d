package chart

import (
	"errors"
	"fmt"
	"image/color"
)

var (
	ErrMissingGlyph    = errors.New("font has no glyph")
	ErrLabelTooLarge   = errors.New("label larger than canvas")
	ErrMalformedSeries = errors.New("malformed series")
	ErrStage           = errors.New("canvas stage violation")
	ErrUnknownKind     = errors.New("unknown chart kind")
)

// RenderError is returned when a chart cannot be produced at all. An empty
// series is not a RenderError; it renders as axes only.
type RenderError struct {
	Op  string
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render: %s: %v", e.Op, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Theme is the fixed palette of a chart.
type Theme struct {
	Background color.RGBA
	Grid       color.RGBA
	GridMajor  color.RGBA
	Axis       color.RGBA
	Text       color.RGBA
	Muted      color.RGBA
}

// Config controls chart geometry and typography.
type Config struct {
	Width           int     `yaml:"width" validate:"gte=200,lte=4000"`
	PanelHeight     int     `yaml:"panel_height" validate:"gte=80,lte=1000"`
	LabelSize       float64 `yaml:"label_size" validate:"gt=4,lte=72"`
	TitleSize       float64 `yaml:"title_size" validate:"gt=4,lte=96"`
	LineWidth       float64 `yaml:"line_width" validate:"gt=0,lte=10"`
	MinTickSpacing  int     `yaml:"min_tick_spacing" validate:"gte=8"`
	TemperatureSpan float64 `yaml:"temperature_span" validate:"gte=0"`
	Padding         int     `yaml:"padding" validate:"gte=0"`

	Theme Theme `yaml:"-" ignored:"true"`
}

func DefaultConfig() Config {
	return Config{
		Width:           800,
		PanelHeight:     170,
		LabelSize:       13,
		TitleSize:       15,
		LineWidth:       2,
		MinTickSpacing:  18,
		TemperatureSpan: 8,
		Padding:         10,
		Theme: Theme{
			Background: color.RGBA{24, 25, 28, 255},
			Grid:       color.RGBA{56, 58, 64, 255},
			GridMajor:  color.RGBA{110, 112, 120, 255},
			Axis:       color.RGBA{150, 152, 160, 255},
			Text:       color.RGBA{230, 230, 230, 255},
			Muted:      color.RGBA{160, 160, 168, 255},
		},
	}
}
