package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lox/forecastbot/internal/httputil"
	"github.com/lox/forecastbot/internal/metrics"
	"github.com/lox/forecastbot/internal/models"
)

// MaxForecastDays is the longest horizon Open-Meteo serves.
const MaxForecastDays = 16

const MaxForecastHours = MaxForecastDays * 24

const maxResponseBytes = 8 << 20

var (
	ErrRateLimited = errors.New("rate limited")
	ErrServerError = errors.New("server error")
	ErrCircuitOpen = errors.New("circuit breaker open")
	ErrBadHorizon  = errors.New("forecast hours out of range")
)

// Config controls the Open-Meteo client.
type Config struct {
	ForecastURL       string        `yaml:"forecast_url" validate:"required,url"`
	GeocodeURL        string        `yaml:"geocode_url" validate:"required,url"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int           `yaml:"burst" validate:"gte=1"`
	MaxRetries        uint64        `yaml:"max_retries"`
	MaxElapsed        time.Duration `yaml:"max_elapsed"`
}

func DefaultConfig() Config {
	return Config{
		ForecastURL:       "https://api.open-meteo.com/v1/forecast",
		GeocodeURL:        "https://geocoding-api.open-meteo.com/v1/search",
		RequestsPerSecond: 5,
		Burst:             5,
		MaxRetries:        3,
		MaxElapsed:        30 * time.Second,
	}
}

// Archive keeps raw API responses for later inspection.
type Archive interface {
	ArchivePayload(ctx context.Context, endpoint string, payload []byte) (int64, error)
}

// Client talks to the Open-Meteo forecast and geocoding APIs. Requests are
// rate limited, retried with exponential backoff on 429, 5xx and transport
// errors, and short-circuited while the upstream is failing.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	archive Archive
	log     *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		cfg:     cfg,
		client:  httputil.NewClient(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1)),
		log:     log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openmeteo",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("openmeteo: circuit breaker state change",
				zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	return c
}

// SetArchive stores every successful response body in a.
func (c *Client) SetArchive(a Archive) {
	c.archive = a
}

// WithHTTPClient replaces the underlying HTTP client, for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

var hourlyVariables = []string{
	"temperature_2m",
	"apparent_temperature",
	"relative_humidity_2m",
	"precipitation_probability",
	"precipitation",
	"wind_speed_10m",
	"wind_gusts_10m",
	"uv_index",
	"uv_index_clear_sky",
	"soil_moisture_0_to_1cm",
	"soil_moisture_1_to_3cm",
	"soil_moisture_3_to_9cm",
	"soil_moisture_9_to_27cm",
	"soil_moisture_27_to_81cm",
}

var dailyVariables = []string{
	"temperature_2m_max",
	"temperature_2m_min",
	"apparent_temperature_max",
	"apparent_temperature_min",
	"precipitation_sum",
	"precipitation_probability_min",
	"precipitation_probability_mean",
	"precipitation_probability_max",
	"wind_speed_10m_max",
	"wind_gusts_10m_max",
	"uv_index_max",
	"uv_index_clear_sky_max",
}

// soilVariables are volumetric fractions (m³/m³) upstream and percent here.
var soilVariables = map[string]models.ChannelKind{
	"soil_moisture_0_to_1cm":   models.ChannelSoilMoisture0To1,
	"soil_moisture_1_to_3cm":   models.ChannelSoilMoisture1To3,
	"soil_moisture_3_to_9cm":   models.ChannelSoilMoisture3To9,
	"soil_moisture_9_to_27cm":  models.ChannelSoilMoisture9To27,
	"soil_moisture_27_to_81cm": models.ChannelSoilMoisture27To81,
}

var dailyChannels = map[string]models.ChannelKind{
	"temperature_2m_max":             models.ChannelTemperatureMax,
	"temperature_2m_min":             models.ChannelTemperatureMin,
	"apparent_temperature_max":       models.ChannelApparentMax,
	"apparent_temperature_min":       models.ChannelApparentMin,
	"precipitation_sum":              models.ChannelPrecipitationSum,
	"precipitation_probability_min":  models.ChannelPrecipProbabilityMin,
	"precipitation_probability_mean": models.ChannelPrecipProbabilityMean,
	"precipitation_probability_max":  models.ChannelPrecipProbabilityMax,
	"wind_speed_10m_max":             models.ChannelWindSpeedMax,
	"wind_gusts_10m_max":             models.ChannelWindGustMax,
	"uv_index_max":                   models.ChannelUVMax,
	"uv_index_clear_sky_max":         models.ChannelUVClearSkyMax,
}

// block is one of the hourly or daily sections of a forecast response.
// Every variable is decoded into Values keyed by its API name.
type block struct {
	Time   []int64
	Values map[string][]*float64
}

func (b *block) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Values = make(map[string][]*float64, len(raw))
	for key, msg := range raw {
		if key == "time" {
			if err := json.Unmarshal(msg, &b.Time); err != nil {
				return fmt.Errorf("time: %w", err)
			}
			continue
		}
		var values []*float64
		if err := json.Unmarshal(msg, &values); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		b.Values[key] = values
	}
	return nil
}

type forecastResponse struct {
	Latitude             float64           `json:"latitude"`
	Longitude            float64           `json:"longitude"`
	UTCOffsetSeconds     int               `json:"utc_offset_seconds"`
	Timezone             string            `json:"timezone"`
	TimezoneAbbreviation string            `json:"timezone_abbreviation"`
	HourlyUnits          map[string]string `json:"hourly_units"`
	Hourly               block             `json:"hourly"`
	DailyUnits           map[string]string `json:"daily_units"`
	Daily                block             `json:"daily"`
}

// FetchHourly returns the next hours of hourly forecast for coords. Labels
// use the location's own UTC offset as reported by the API.
func (c *Client) FetchHourly(ctx context.Context, coords models.Coordinates, hours int) (*models.ForecastSeries, error) {
	if hours <= 0 || hours > MaxForecastHours {
		return nil, fmt.Errorf("%w: %d hours", ErrBadHorizon, hours)
	}

	q := forecastQuery(coords)
	q.Set("hourly", strings.Join(hourlyVariables, ","))
	q.Set("forecast_hours", strconv.Itoa(hours))

	var data forecastResponse
	if err := c.getJSON(ctx, "forecast", c.cfg.ForecastURL, q, &data); err != nil {
		return nil, fmt.Errorf("fetch forecast for %s: %w", coords, err)
	}

	series, err := data.hourlySeries()
	if err != nil {
		return nil, fmt.Errorf("fetch forecast for %s: %w", coords, err)
	}
	c.log.Debug("openmeteo: fetched forecast",
		zap.Stringer("coords", coords), zap.Int("samples", series.Len()), zap.String("timezone", data.Timezone))
	return series, nil
}

// FetchDaily returns days of daily aggregates for coords, starting today in
// the location's own timezone.
func (c *Client) FetchDaily(ctx context.Context, coords models.Coordinates, days int) (*models.ForecastSeries, error) {
	if days <= 0 || days > MaxForecastDays {
		return nil, fmt.Errorf("%w: %d days", ErrBadHorizon, days)
	}

	q := forecastQuery(coords)
	q.Set("daily", strings.Join(dailyVariables, ","))
	q.Set("forecast_days", strconv.Itoa(days))

	var data forecastResponse
	if err := c.getJSON(ctx, "forecast_daily", c.cfg.ForecastURL, q, &data); err != nil {
		return nil, fmt.Errorf("fetch daily forecast for %s: %w", coords, err)
	}

	series, err := data.dailySeries()
	if err != nil {
		return nil, fmt.Errorf("fetch daily forecast for %s: %w", coords, err)
	}
	c.log.Debug("openmeteo: fetched daily forecast",
		zap.Stringer("coords", coords), zap.Int("days", series.Len()), zap.String("timezone", data.Timezone))
	return series, nil
}

func forecastQuery(coords models.Coordinates) url.Values {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(coords.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(coords.Longitude, 'f', -1, 64))
	q.Set("timeformat", "unixtime")
	q.Set("timezone", "auto")
	q.Set("wind_speed_unit", "ms")
	return q
}

func (r *forecastResponse) zone() *time.Location {
	name := r.TimezoneAbbreviation
	if name == "" {
		name = r.Timezone
	}
	return time.FixedZone(name, r.UTCOffsetSeconds)
}

// newSeries lays out timestamps. step is used when there are fewer than two
// samples to infer it from.
func newSeries(times []int64, zone *time.Location, step time.Duration) *models.ForecastSeries {
	s := &models.ForecastSeries{Step: step, Zone: zone}
	for _, ts := range times {
		s.Times = append(s.Times, time.Unix(ts, 0).In(zone))
	}
	if len(s.Times) > 0 {
		s.Start = s.Times[0]
	}
	if len(s.Times) > 1 {
		s.Step = s.Times[1].Sub(s.Times[0])
	}
	return s
}

func (r *forecastResponse) hourlySeries() (*models.ForecastSeries, error) {
	h := r.Hourly
	n := len(h.Time)
	s := newSeries(h.Time, r.zone(), time.Hour)

	add := func(kind models.ChannelKind, key string) {
		raw, ok := h.Values[key]
		if !ok {
			return
		}
		s.Channels = append(s.Channels, models.Channel{Kind: kind, Unit: r.HourlyUnits[key], Values: nullable(raw, n)})
	}
	add(models.ChannelTemperature, "temperature_2m")
	add(models.ChannelApparent, "apparent_temperature")
	add(models.ChannelHumidity, "relative_humidity_2m")
	add(models.ChannelPrecipProbability, "precipitation_probability")
	add(models.ChannelPrecipitation, "precipitation")
	add(models.ChannelWindSpeed, "wind_speed_10m")
	add(models.ChannelWindGust, "wind_gusts_10m")
	add(models.ChannelUV, "uv_index")
	add(models.ChannelUVClearSky, "uv_index_clear_sky")
	for _, key := range hourlyVariables {
		kind, ok := soilVariables[key]
		if !ok {
			continue
		}
		if raw, ok := h.Values[key]; ok {
			values := nullable(raw, n)
			for i := range values {
				values[i] *= 100
			}
			s.Channels = append(s.Channels, models.Channel{Kind: kind, Unit: "%", Values: values})
		}
	}
	ValidateSeries(s)

	temp, okT := s.Channel(models.ChannelTemperature)
	humidity, okH := s.Channel(models.ChannelHumidity)
	if okT && okH {
		wet := make([]float64, n)
		absolute := make([]float64, n)
		for i := range wet {
			wet[i] = models.WetBulb(temp.Values[i], humidity.Values[i])
			absolute[i] = models.AbsoluteHumidity(temp.Values[i], humidity.Values[i])
		}
		s.Channels = append(s.Channels,
			models.Channel{Kind: models.ChannelWetBulb, Unit: temp.Unit, Values: wet},
			models.Channel{Kind: models.ChannelAbsoluteHumidity, Unit: "g/m³", Values: absolute},
		)
	}

	if err := s.Check(); err != nil {
		return nil, fmt.Errorf("malformed forecast: %w", err)
	}
	return s, nil
}

func (r *forecastResponse) dailySeries() (*models.ForecastSeries, error) {
	d := r.Daily
	n := len(d.Time)
	zone := r.zone()
	s := &models.ForecastSeries{Step: 24 * time.Hour, Zone: zone}
	// Days start at the location's real local midnight, which drifts an hour
	// off the fixed zone across a DST change. Snap to the nearest midnight.
	for _, ts := range d.Time {
		y, m, day := time.Unix(ts, 0).In(zone).Add(12 * time.Hour).Date()
		s.Times = append(s.Times, time.Date(y, m, day, 0, 0, 0, 0, zone))
	}
	if n > 0 {
		s.Start = s.Times[0]
	}

	for _, key := range dailyVariables {
		raw, ok := d.Values[key]
		if !ok {
			continue
		}
		s.Channels = append(s.Channels, models.Channel{Kind: dailyChannels[key], Unit: r.DailyUnits[key], Values: nullable(raw, n)})
	}
	ValidateSeries(s)

	if err := s.Check(); err != nil {
		return nil, fmt.Errorf("malformed daily forecast: %w", err)
	}
	return s, nil
}

// nullable converts JSON nulls and short arrays to NaN.
func nullable(raw []*float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i < len(raw) && raw[i] != nil {
			out[i] = *raw[i]
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// getJSON performs a GET with rate limiting, retries and the circuit breaker
// and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, endpoint, base string, q url.Values, out any) error {
	operation := func() error {
		// Every attempt, retries included, takes a limiter token.
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limit wait canceled: %w", err))
		}
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.do(ctx, endpoint, base+"?"+q.Encode(), out)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrCircuitOpen, err))
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = c.cfg.MaxElapsed
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx))
}

func (c *Client) do(ctx context.Context, endpoint, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return backoff.Permanent(err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ForecastAPILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ForecastAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	metrics.ForecastAPICallsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", endpoint, ErrRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s: %w: status %d", endpoint, ErrServerError, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return backoff.Permanent(fmt.Errorf("%s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(b))))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", endpoint, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return backoff.Permanent(fmt.Errorf("%s: decode: %w", endpoint, err))
	}
	if c.archive != nil {
		if _, err := c.archive.ArchivePayload(ctx, endpoint, body); err != nil {
			c.log.Warn("openmeteo: failed to archive payload", zap.String("endpoint", endpoint), zap.Error(err))
		}
	}
	return nil
}
