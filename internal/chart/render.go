package chart

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"github.com/lox/forecastbot/internal/models"
)

// Renderer draws forecast charts. It is safe for concurrent use: the parsed
// fonts are shared read-only and every call owns its own faces and canvas.
type Renderer struct {
	fonts *Fonts
	cfg   Config
}

func NewRenderer(fonts *Fonts, cfg Config) *Renderer {
	return &Renderer{fonts: fonts, cfg: cfg}
}

func (r *Renderer) Config() Config {
	return r.cfg
}

// Fonts returns the shared typefaces.
func (r *Renderer) Fonts() *Fonts {
	return r.fonts
}

// Options are per-chart settings.
type Options struct {
	// Title is drawn above the panels when non-empty.
	Title string
}

// PlotSeries is one downsampled channel ready for drawing.
type PlotSeries struct {
	Spec     SeriesSpec
	Color    color.RGBA
	Buckets  []Bucket
	Min, Max float64
	HasData  bool
	// Samples is the number of input samples, for bar widths.
	Samples int
}

// PanelPlot is a panel with its fitted axis and pixel rectangle.
type PanelPlot struct {
	Spec   PanelSpec
	Rect   image.Rectangle
	Axis   ValueAxis
	Series []PlotSeries
}

// Row maps v to a pixel row inside the panel.
func (p *PanelPlot) Row(v float64) float64 {
	return p.Axis.Y(v, p.Rect.Min.Y, p.Rect.Dy()-1)
}

// Plot is the render-ready form of a forecast. It is derived per call and
// discarded after drawing.
type Plot struct {
	Kind          Kind
	Title         string
	Width, Height int
	Start, End    time.Time
	Zone          *time.Location
	Columns       int
	// Centered places each sample in the middle of its step rather than at
	// its start, for daily charts.
	Centered  bool
	TickHours int
	TimeTicks []TimeTick
	Panels    []PanelPlot
}

func (p *Plot) Horizon() time.Duration {
	return p.End.Sub(p.Start)
}

// RenderForecast turns series into PNG bytes.
func (r *Renderer) RenderForecast(series *models.ForecastSeries, kind Kind, opts Options) ([]byte, error) {
	plot, err := r.Plan(series, kind, opts)
	if err != nil {
		return nil, err
	}
	canvas, err := r.Draw(plot)
	if err != nil {
		return nil, err
	}
	return canvas.EncodePNG()
}

// Plan lays out the chart and transforms every channel into plot series.
func (r *Renderer) Plan(series *models.ForecastSeries, kind Kind, opts Options) (*Plot, error) {
	if series == nil {
		series = &models.ForecastSeries{}
	}
	if err := series.Check(); err != nil {
		return nil, &RenderError{Op: "plan", Err: fmt.Errorf("%w: %v", ErrMalformedSeries, err)}
	}
	specs, err := panelsFor(kind, r.cfg)
	if err != nil {
		return nil, &RenderError{Op: "plan", Err: err}
	}

	faces, err := r.fonts.newFaces(r.cfg)
	if err != nil {
		return nil, &RenderError{Op: "plan", Err: err}
	}
	defer faces.close()

	cfg := r.cfg
	g := r.geometry(faces, opts)
	if g.plotHeight < 2*cfg.MinTickSpacing {
		return nil, &RenderError{Op: "plan", Err: fmt.Errorf("panel height %d leaves %dpx to plot", cfg.PanelHeight, g.plotHeight)}
	}
	maxTicks := g.plotHeight/cfg.MinTickSpacing + 1

	panels := make([]PanelPlot, len(specs))
	for i, spec := range specs {
		p := PanelPlot{Spec: spec}
		lo, hi, has := math.Inf(1), math.Inf(-1), false
		for _, ss := range spec.Series {
			ps := PlotSeries{Spec: ss, Color: ChannelColor(ss.Channel), Samples: series.Len()}
			if ch, ok := series.Channel(ss.Channel); ok {
				if l, h, ok := models.Range(ch.Values); ok {
					ps.Min, ps.Max, ps.HasData = l, h, true
					lo, hi, has = math.Min(lo, l), math.Max(hi, h), true
				}
			}
			p.Series = append(p.Series, ps)
		}
		p.Axis = FitAxis(lo, hi, has, spec.Axis, maxTicks)
		panels[i] = p
	}

	labelWidth := 0
	for _, p := range panels {
		for _, t := range p.Axis.Ticks {
			labelWidth = max(labelWidth, textWidth(faces.label, formatTick(t, p.Axis.Step)))
		}
	}
	left := cfg.Padding + labelWidth + 6
	right := cfg.Width - cfg.Padding
	columns := right - left
	if columns < 16 {
		return nil, &RenderError{Op: "plan", Err: fmt.Errorf("width %d leaves %dpx to plot", cfg.Width, columns)}
	}

	start, end := series.Start, series.End()
	for i := range panels {
		top := g.header + cfg.Padding + i*cfg.PanelHeight + g.legend
		panels[i].Rect = image.Rect(left, top, right, top+g.plotHeight)
		for j := range panels[i].Series {
			ps := &panels[i].Series[j]
			ch, ok := series.Channel(ps.Spec.Channel)
			if !ok {
				continue
			}
			ps.Buckets = Downsample(series.Times, ch.Values, start, end, columns, ps.Spec.Agg)
		}
	}

	plot := &Plot{
		Kind:     kind,
		Title:    opts.Title,
		Width:    cfg.Width,
		Height:   g.header + 2*cfg.Padding + len(specs)*cfg.PanelHeight,
		Start:    start,
		End:      end,
		Zone:     series.Location(),
		Columns:  columns,
		Centered: kind.Daily(),
		Panels:   panels,
	}
	if kind.Daily() {
		plot.TickHours = 24
		plot.TimeTicks = DailyTicks(start, end, series.Location())
	} else {
		plot.TickHours = tickInterval(series.Horizon(), columns, textWidth(faces.label, "00")+8)
		plot.TimeTicks = TimeTicks(start, end, series.Location(), plot.TickHours)
	}
	return plot, nil
}

type geometry struct {
	header     int
	legend     int
	axisLabels int
	plotHeight int
}

func (r *Renderer) geometry(faces *faceSet, opts Options) geometry {
	labelHeight := lineHeight(faces.label)
	g := geometry{
		legend:     labelHeight + 6,
		axisLabels: 2*labelHeight + 6,
	}
	if opts.Title != "" {
		g.header = lineHeight(faces.title) + r.cfg.Padding
	}
	g.plotHeight = r.cfg.PanelHeight - g.legend - g.axisLabels
	return g
}

// Draw paints plot onto a fresh canvas, layer by layer.
func (r *Renderer) Draw(plot *Plot) (*Canvas, error) {
	faces, err := r.fonts.newFaces(r.cfg)
	if err != nil {
		return nil, &RenderError{Op: "draw", Err: err}
	}
	defer faces.close()

	theme := r.cfg.Theme
	canvas, err := NewCanvas(plot.Width, plot.Height, theme.Background)
	if err != nil {
		return nil, err
	}

	if err := canvas.Advance(StageGrid); err != nil {
		return nil, err
	}
	for i := range plot.Panels {
		if err := r.drawGrid(canvas, plot, &plot.Panels[i]); err != nil {
			return nil, err
		}
	}

	if err := canvas.Advance(StageCurves); err != nil {
		return nil, err
	}
	for i := range plot.Panels {
		if err := r.drawSeries(canvas, plot, &plot.Panels[i]); err != nil {
			return nil, err
		}
	}

	if err := canvas.Advance(StageLabels); err != nil {
		return nil, err
	}
	if plot.Title != "" {
		baseline := r.cfg.Padding + faces.title.Metrics().Ascent.Ceil()
		if err := canvas.Text(faces.title, faces.titleFont, plot.Title, plot.Width/2, baseline, AlignCenter, theme.Text); err != nil {
			return nil, err
		}
	}
	for i := range plot.Panels {
		if err := r.drawLabels(canvas, faces, plot, &plot.Panels[i]); err != nil {
			return nil, err
		}
	}
	return canvas, nil
}

func tickX(plot *Plot, p *PanelPlot, tick TimeTick) int {
	return p.Rect.Min.X + int(tick.Frac*float64(plot.Columns))
}

func (r *Renderer) drawGrid(c *Canvas, plot *Plot, p *PanelPlot) error {
	theme := r.cfg.Theme
	rect := p.Rect

	for _, v := range p.Axis.Ticks {
		y := int(math.Round(p.Row(v)))
		if err := c.HLine(rect.Min.X, rect.Max.X, y, theme.Grid); err != nil {
			return err
		}
	}
	for _, tick := range plot.TimeTicks {
		col := theme.Grid
		if tick.Major {
			col = theme.GridMajor
		}
		if err := c.VLine(tickX(plot, p, tick), rect.Min.Y, rect.Max.Y, col); err != nil {
			return err
		}
	}

	if err := c.VLine(rect.Min.X-1, rect.Min.Y, rect.Max.Y+1, theme.Axis); err != nil {
		return err
	}
	return c.HLine(rect.Min.X-1, rect.Max.X, rect.Max.Y, theme.Axis)
}

func (r *Renderer) drawSeries(c *Canvas, plot *Plot, p *PanelPlot) error {
	// Bars go first so lines sharing the panel stay visible on top.
	for _, style := range []Style{StyleBars, StyleLine} {
		for _, ps := range p.Series {
			if ps.Spec.Style != style || !ps.HasData {
				continue
			}
			var err error
			if style == StyleBars {
				err = r.drawBars(c, plot, p, ps)
			} else {
				err = r.drawLine(c, plot, p, ps)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// slotWidth is the pixel width of one input sample's step.
func slotWidth(p *PanelPlot, ps PlotSeries) float64 {
	if ps.Samples == 0 {
		return 1
	}
	return float64(p.Rect.Dx()) / float64(ps.Samples)
}

func (r *Renderer) drawLine(c *Canvas, plot *Plot, p *PanelPlot, ps PlotSeries) error {
	offset := 0.5
	if plot.Centered {
		offset = slotWidth(p, ps) / 2
	}

	var run []Point
	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		err := c.Polyline(run, r.cfg.LineWidth, p.Rect, ps.Color)
		run = run[:0]
		return err
	}

	for _, b := range ps.Buckets {
		if b.Count == 0 {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		run = append(run, Point{
			X: float64(p.Rect.Min.X+b.Column) + offset,
			Y: p.Row(b.Value),
		})
	}
	return flush()
}

func (r *Renderer) drawBars(c *Canvas, plot *Plot, p *PanelPlot, ps PlotSeries) error {
	slot := slotWidth(p, ps)
	width := max(1, int(slot*0.8))
	shift := 0
	if plot.Centered {
		shift = int((slot - float64(width)) / 2)
	}
	base := math.Max(p.Axis.Min, math.Min(0, p.Axis.Max))
	baseRow := int(math.Round(p.Row(base)))

	for _, b := range ps.Buckets {
		if b.Count == 0 {
			continue
		}
		row := int(math.Round(p.Row(b.Value)))
		y0, y1 := min(row, baseRow), max(row, baseRow)+1
		x0 := p.Rect.Min.X + b.Column + shift
		bar := image.Rect(x0, y0, x0+width, y1)
		if err := c.Bar(bar, p.Rect, ps.Color); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) drawLabels(c *Canvas, faces *faceSet, plot *Plot, p *PanelPlot) error {
	theme := r.cfg.Theme
	rect := p.Rect
	metrics := faces.label.Metrics()
	ascent := metrics.Ascent.Ceil()
	labelHeight := lineHeight(faces.label)

	title := p.Spec.Title
	if p.Spec.Axis.Unit != "" {
		title += " (" + p.Spec.Axis.Unit + ")"
	}
	legend := []Segment{{Text: title + "   ", Color: theme.Text}}
	for _, ps := range p.Series {
		legend = append(legend, Segment{Text: ps.Spec.Label + "  ", Color: ps.Color})
	}
	if err := c.Segments(faces.label, faces.labelFont, legend, rect.Min.X, rect.Min.Y-6-metrics.Descent.Ceil(), AlignLeft); err != nil {
		return err
	}

	mid := metrics.CapHeight.Ceil() / 2
	for _, v := range p.Axis.Ticks {
		y := int(math.Round(p.Row(v))) + mid
		if err := c.Text(faces.label, faces.labelFont, formatTick(v, p.Axis.Step), rect.Min.X-6, y, AlignRight, theme.Muted); err != nil {
			return err
		}
	}

	hourBaseline := rect.Max.Y + 3 + ascent
	dayBaseline := hourBaseline + labelHeight
	perDay := 24 * float64(plot.Columns) / plot.Horizon().Hours()
	dayWidth := 0
	for _, tick := range plot.TimeTicks {
		dayWidth = max(dayWidth, textWidth(faces.label, tick.Day))
	}
	dayStride := 1
	for perDay*float64(dayStride) < float64(dayWidth+8) && dayStride < 7 {
		dayStride++
	}

	days := 0
	for _, tick := range plot.TimeTicks {
		x := rect.Min.X + int(tick.LabelFrac*float64(plot.Columns))
		if err := c.Text(faces.label, faces.labelFont, tick.Label, x, hourBaseline, AlignCenter, theme.Muted); err != nil {
			return err
		}
		if tick.Day == "" {
			continue
		}
		if days%dayStride == 0 {
			if err := c.Text(faces.label, faces.labelFont, tick.Day, x, dayBaseline, AlignCenter, theme.Text); err != nil {
				return err
			}
		}
		days++
	}
	return nil
}
