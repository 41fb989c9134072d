package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/lox/forecastbot/internal/chart"
	"github.com/lox/forecastbot/internal/models"
	"github.com/lox/forecastbot/internal/store"
)

// Stage is a step of the per-request pipeline.
type Stage int

const (
	StageResolveLocation Stage = iota
	StageFetchForecast
	StageTransform
	StageRender
	StageDeliver
)

func (s Stage) String() string {
	switch s {
	case StageResolveLocation:
		return "resolve_location"
	case StageFetchForecast:
		return "fetch_forecast"
	case StageTransform:
		return "transform"
	case StageRender:
		return "render"
	case StageDeliver:
		return "deliver"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// ErrNoLocationSet means the identity has no stored location and the request
// did not name one.
var ErrNoLocationSet = errors.New("no location set")

// ErrNoSender is returned by Deliver when the pipeline has nowhere to send.
var ErrNoSender = errors.New("no sender configured")

// FetchError wraps a forecast fetch failure. The pipeline does not retry it.
type FetchError struct {
	Coordinates models.Coordinates
	Err         error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch forecast for %s: %v", e.Coordinates, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DeliveryError wraps a failure to hand the image to its target.
type DeliveryError struct {
	Target string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// StageError records which stage a request failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage err came from, if known.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return 0, false
}

// ErrorKind classifies err for run logs and metrics.
func ErrorKind(err error) string {
	var (
		fetchErr    *FetchError
		storageErr  *store.StorageError
		renderErr   *chart.RenderError
		deliveryErr *DeliveryError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoLocationSet):
		return "no_location"
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &storageErr):
		return "storage"
	case errors.As(err, &renderErr):
		return "render"
	case errors.As(err, &deliveryErr):
		return "delivery"
	default:
		return "internal"
	}
}

// Generic reports whether err is an unexpected failure worth reporting to
// error tracking, as opposed to a user or upstream condition.
func Generic(err error) bool {
	switch ErrorKind(err) {
	case "", "no_location", "canceled", "fetch":
		return false
	default:
		return true
	}
}

// UserMessage is the text shown to a chat user for err.
func UserMessage(err error) string {
	switch ErrorKind(err) {
	case "":
		return ""
	case "no_location":
		return "You haven't set a location yet. Use /set_location or /set_coords, or pass a place to this command."
	case "fetch":
		return "Couldn't fetch the forecast right now. The weather service may be down, please try again in a few minutes."
	default:
		return "Something went wrong while preparing your forecast."
	}
}
