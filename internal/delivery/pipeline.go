package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lox/forecastbot/internal/chart"
	"github.com/lox/forecastbot/internal/metrics"
	"github.com/lox/forecastbot/internal/models"
	"github.com/lox/forecastbot/internal/store"
)

// LocationStore resolves an identity to its registered location.
type LocationStore interface {
	GetLocation(ctx context.Context, domain, owner string) (*models.Location, error)
}

// Fetcher retrieves hourly or daily forecasts. Any retry policy lives
// behind it.
type Fetcher interface {
	FetchHourly(ctx context.Context, coords models.Coordinates, hours int) (*models.ForecastSeries, error)
	FetchDaily(ctx context.Context, coords models.Coordinates, days int) (*models.ForecastSeries, error)
}

// Sender hands a finished chart to a chat channel or other target.
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// Captioner writes the text that accompanies a chart.
type Captioner interface {
	Caption(ctx context.Context, kind chart.Kind, loc models.Location, series *models.ForecastSeries) string
}

// RunRecorder persists an audit row per pipeline run.
type RunRecorder interface {
	StartRun(ctx context.Context, run *store.DeliveryRun) error
	CompleteRun(ctx context.Context, run *store.DeliveryRun) error
}

// Reporter forwards unexpected failures to error tracking.
type Reporter interface {
	Report(err error, tags map[string]string)
}

// Request asks for one chart for one identity.
type Request struct {
	Domain string
	Owner  string
	Kind   chart.Kind
	// Location, when set, is used instead of the stored location.
	Location *models.Location
	// Target is where Deliver sends the chart, e.g. "discord:123" or "ftp:/charts/a.png".
	Target string
	// Trigger names what started the run: "command", "schedule", "http" or "cli".
	Trigger string
}

// Delivery is what a Sender receives.
type Delivery struct {
	Target   string
	FileName string
	Image    []byte
	Caption  string
}

// Chart is a rendered forecast chart.
type Chart struct {
	Location models.Location
	Kind     chart.Kind
	Image    []byte
	FileName string
	Caption  string
	Start    time.Time
	End      time.Time
}

// Result describes a delivered chart.
type Result struct {
	RunID  string
	Target string
	Chart  *Chart
}

// Pipeline runs ResolveLocation, FetchForecast, Transform, Render and
// optionally Deliver for a single request. Stages run in order with no
// retries between them; the context is checked at every boundary and
// intermediate values are dropped on failure.
type Pipeline struct {
	locations LocationStore
	fetcher   Fetcher
	renderer  *chart.Renderer
	sender    Sender
	captioner Captioner
	runs      RunRecorder
	reporter  Reporter
	log       *zap.Logger
}

func NewPipeline(locations LocationStore, fetcher Fetcher, renderer *chart.Renderer, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		locations: locations,
		fetcher:   fetcher,
		renderer:  renderer,
		log:       log,
	}
}

// SetSender configures where Deliver sends charts.
func (p *Pipeline) SetSender(s Sender) {
	p.sender = s
}

// SetCaptioner replaces the default caption.
func (p *Pipeline) SetCaptioner(c Captioner) {
	p.captioner = c
}

// SetRunRecorder enables the delivery run audit log.
func (p *Pipeline) SetRunRecorder(r RunRecorder) {
	p.runs = r
}

// SetReporter enables error tracking of unexpected failures.
func (p *Pipeline) SetReporter(r Reporter) {
	p.reporter = r
}

// Render produces a chart without delivering it.
func (p *Pipeline) Render(ctx context.Context, req Request) (*Chart, error) {
	run := p.startRun(ctx, req)
	ch, err := p.produce(ctx, req, run)
	p.finishRun(ctx, req, run, ch, err)
	return ch, err
}

// Deliver produces a chart and sends it to req.Target.
func (p *Pipeline) Deliver(ctx context.Context, req Request) (*Result, error) {
	run := p.startRun(ctx, req)
	ch, err := p.produce(ctx, req, run)
	if err == nil {
		err = p.send(ctx, req, run, ch)
	}
	p.finishRun(ctx, req, run, ch, err)
	if err != nil {
		return nil, err
	}
	return &Result{RunID: run.ID, Target: req.Target, Chart: ch}, nil
}

func enter(ctx context.Context, run *store.DeliveryRun, s Stage) error {
	run.Stage = s.String()
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: s, Err: err}
	}
	return nil
}

func (p *Pipeline) fetch(ctx context.Context, kind chart.Kind, coords models.Coordinates) (*models.ForecastSeries, error) {
	if kind.Daily() {
		return p.fetcher.FetchDaily(ctx, coords, kind.Days())
	}
	return p.fetcher.FetchHourly(ctx, coords, kind.Hours())
}

func (p *Pipeline) produce(ctx context.Context, req Request, run *store.DeliveryRun) (*Chart, error) {
	if err := enter(ctx, run, StageResolveLocation); err != nil {
		return nil, err
	}
	loc, err := p.resolve(ctx, req)
	if err != nil {
		return nil, &StageError{Stage: StageResolveLocation, Err: err}
	}

	if err := enter(ctx, run, StageFetchForecast); err != nil {
		return nil, err
	}
	series, err := p.fetch(ctx, req.Kind, loc.Coordinates)
	if err != nil {
		return nil, &StageError{Stage: StageFetchForecast, Err: &FetchError{Coordinates: loc.Coordinates, Err: err}}
	}

	if err := enter(ctx, run, StageTransform); err != nil {
		return nil, err
	}
	started := time.Now()
	plot, err := p.renderer.Plan(series, req.Kind, chart.Options{Title: p.title(loc)})
	if err != nil {
		return nil, &StageError{Stage: StageTransform, Err: err}
	}

	if err := enter(ctx, run, StageRender); err != nil {
		return nil, err
	}
	canvas, err := p.renderer.Draw(plot)
	if err != nil {
		return nil, &StageError{Stage: StageRender, Err: err}
	}
	image, err := canvas.EncodePNG()
	if err != nil {
		return nil, &StageError{Stage: StageRender, Err: err}
	}
	metrics.RenderDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(started).Seconds())
	metrics.ChartBytes.Observe(float64(len(image)))

	return &Chart{
		Location: *loc,
		Kind:     req.Kind,
		Image:    image,
		FileName: string(req.Kind) + ".png",
		Caption:  p.caption(ctx, req.Kind, *loc, series),
		Start:    plot.Start,
		End:      plot.End,
	}, nil
}

func (p *Pipeline) resolve(ctx context.Context, req Request) (*models.Location, error) {
	if req.Location != nil {
		loc := *req.Location
		return &loc, nil
	}
	loc, err := p.locations.GetLocation(ctx, req.Domain, req.Owner)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, ErrNoLocationSet
	}
	return loc, nil
}

// title prefers the place label but falls back to coordinates when the
// chart font cannot draw the place name.
func (p *Pipeline) title(loc *models.Location) string {
	label := loc.Label()
	if fonts := p.renderer.Fonts(); fonts != nil && !fonts.Covers(label) {
		return loc.Coordinates.String()
	}
	return label
}

func (p *Pipeline) caption(ctx context.Context, kind chart.Kind, loc models.Location, series *models.ForecastSeries) string {
	if p.captioner != nil {
		return p.captioner.Caption(ctx, kind, loc, series)
	}
	return fmt.Sprintf("%s forecast for %s", kind, loc.Label())
}

func (p *Pipeline) send(ctx context.Context, req Request, run *store.DeliveryRun, ch *Chart) error {
	if err := enter(ctx, run, StageDeliver); err != nil {
		return err
	}
	if p.sender == nil {
		return &StageError{Stage: StageDeliver, Err: &DeliveryError{Target: req.Target, Err: ErrNoSender}}
	}

	err := p.sender.Send(ctx, Delivery{
		Target:   req.Target,
		FileName: ch.FileName,
		Image:    ch.Image,
		Caption:  ch.Caption,
	})
	if err != nil {
		var de *DeliveryError
		if !errors.As(err, &de) {
			err = &DeliveryError{Target: req.Target, Err: err}
		}
		return &StageError{Stage: StageDeliver, Err: err}
	}
	return nil
}

func (p *Pipeline) startRun(ctx context.Context, req Request) *store.DeliveryRun {
	run := &store.DeliveryRun{
		ID:      uuid.NewString(),
		Trigger: req.Trigger,
		Kind:    string(req.Kind),
		Domain:  req.Domain,
		Owner:   req.Owner,
		Target:  sql.NullString{String: req.Target, Valid: req.Target != ""},
		Stage:   StageResolveLocation.String(),
	}
	if run.Trigger == "" {
		run.Trigger = "unknown"
	}
	if p.runs != nil {
		if err := p.runs.StartRun(context.WithoutCancel(ctx), run); err != nil {
			p.log.Warn("delivery: failed to record run start", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	return run
}

func (p *Pipeline) finishRun(ctx context.Context, req Request, run *store.DeliveryRun, ch *Chart, err error) {
	kind := ErrorKind(err)
	outcome := "success"
	run.Success = err == nil
	if err != nil {
		outcome = kind
		run.ErrorKind = sql.NullString{String: kind, Valid: true}
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		if stage, ok := FailedStage(err); ok {
			metrics.StageFailures.WithLabelValues(stage.String()).Inc()
		}
	}
	if ch != nil {
		run.ImageBytes = sql.NullInt64{Int64: int64(len(ch.Image)), Valid: true}
	}
	metrics.DeliveriesTotal.WithLabelValues(run.Trigger, run.Kind, outcome).Inc()

	fields := []zap.Field{
		zap.String("run_id", run.ID),
		zap.String("trigger", run.Trigger),
		zap.String("kind", run.Kind),
		zap.String("domain", req.Domain),
		zap.String("owner", req.Owner),
		zap.String("stage", run.Stage),
	}
	switch {
	case err == nil:
		p.log.Info("delivery: run complete", append(fields, zap.Int64("image_bytes", run.ImageBytes.Int64))...)
	case Generic(err):
		p.log.Error("delivery: run failed", append(fields, zap.String("error_kind", kind), zap.Error(err))...)
		if p.reporter != nil {
			p.reporter.Report(err, map[string]string{"stage": run.Stage, "trigger": run.Trigger, "kind": run.Kind})
		}
	default:
		p.log.Info("delivery: run failed", append(fields, zap.String("error_kind", kind), zap.Error(err))...)
	}

	if p.runs != nil {
		if err := p.runs.CompleteRun(context.WithoutCancel(ctx), run); err != nil {
			p.log.Warn("delivery: failed to record run completion", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
}
