package ingest

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/lox/forecastbot/internal/models"
)

const forecastBody = `{
	"latitude": 48.86,
	"longitude": 2.34,
	"utc_offset_seconds": 7200,
	"timezone": "Europe/Paris",
	"timezone_abbreviation": "CEST",
	"hourly_units": {"temperature_2m": "°C", "relative_humidity_2m": "%", "precipitation": "mm"},
	"hourly": {
		"time": [1792101600, 1792105200, 1792108800],
		"temperature_2m": [12.5, null, 14.1],
		"apparent_temperature": [11.0, 11.5, 13.0],
		"relative_humidity_2m": [80, 75, 70],
		"precipitation_probability": [10, 20, 30],
		"precipitation": [0, 0.2, 1.4],
		"wind_speed_10m": [3.1, 4.2, 5.0],
		"wind_gusts_10m": [6.0, 8.1, 9.3],
		"uv_index": [0, 0.5],
		"uv_index_clear_sky": [0, 0.6, 1.2],
		"soil_moisture_0_to_1cm": [0.31, 0.305, 0.3],
		"soil_moisture_27_to_81cm": [0.42, 0.42, 1.7]
	}
}`

// Fourteen days across the end of CEST on 25 October: the last five
// midnights are an hour later in UTC than the first nine.
const dailyBody = `{
	"latitude": 48.86,
	"longitude": 2.34,
	"utc_offset_seconds": 7200,
	"timezone": "Europe/Paris",
	"timezone_abbreviation": "CEST",
	"daily_units": {"temperature_2m_max": "°C", "precipitation_sum": "mm"},
	"daily": {
		"time": [1792101600, 1792188000, 1792274400, 1792360800, 1792447200, 1792533600, 1792620000,
			1792706400, 1792792800, 1792882800, 1792969200, 1793055600, 1793142000, 1793228400],
		"temperature_2m_max": [18, 17, 16, 15, 15, 14, 13, 14, 15, 16, 15, 14, 13, 12],
		"temperature_2m_min": [9, 8, 8, 7, 6, 6, 5, null, 6, 7, 6, 5, 4, 4],
		"precipitation_sum": [0, 1.2, 4.5, 0, 0, 0, 0.3, 0, 0, 2, 6, 0, 0, 0],
		"precipitation_probability_max": [5, 40, 90, 10, 0, 0, 30, 5, 5, 60, 85, 10, 0, 0],
		"uv_index_max": [3.1, 2.9, 1.2, 3, 3, 2.8, 2, 2.5, 2.4, 1, 0.8, 2, 2.1, 2]
	}
}`

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.ForecastURL = srv.URL + "/v1/forecast"
	cfg.GeocodeURL = srv.URL + "/v1/search"
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 100
	cfg.MaxElapsed = 5 * time.Second
	return NewClient(cfg, nil)
}

func TestFetchHourly(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		assert.Equal(t, "48.85", q.Get("latitude"))
		assert.Equal(t, "2.35", q.Get("longitude"))
		assert.Equal(t, "unixtime", q.Get("timeformat"))
		assert.Equal(t, "auto", q.Get("timezone"))
		assert.Equal(t, "ms", q.Get("wind_speed_unit"))
		assert.Equal(t, "3", q.Get("forecast_hours"))
		assert.Contains(t, q.Get("hourly"), "temperature_2m")
		assert.Contains(t, r.Header.Get("User-Agent"), "forecastbot")
		w.Write([]byte(forecastBody))
	})

	series, err := client.FetchHourly(context.Background(), models.Coordinates{Latitude: 48.85, Longitude: 2.35}, 3)
	require.NoError(t, err)

	require.Equal(t, 3, series.Len())
	assert.Equal(t, time.Hour, series.Step)
	assert.Equal(t, 3*time.Hour, series.Horizon())
	_, offset := series.Start.Zone()
	assert.Equal(t, 7200, offset)
	assert.Equal(t, time.Unix(1792101600, 0).Unix(), series.Start.Unix())

	temp, ok := series.Channel(models.ChannelTemperature)
	require.True(t, ok)
	assert.Equal(t, "°C", temp.Unit)
	assert.Equal(t, 12.5, temp.Values[0])
	assert.True(t, math.IsNaN(temp.Values[1]), "null sample should be NaN")

	uv, ok := series.Channel(models.ChannelUV)
	require.True(t, ok)
	assert.Len(t, uv.Values, 3)
	assert.True(t, math.IsNaN(uv.Values[2]), "short array should be padded with NaN")

	wet, ok := series.Channel(models.ChannelWetBulb)
	require.True(t, ok, "wet bulb should be derived")
	assert.InDelta(t, models.WetBulb(12.5, 80), wet.Values[0], 1e-9)
	assert.True(t, math.IsNaN(wet.Values[1]))

	abs, ok := series.Channel(models.ChannelAbsoluteHumidity)
	require.True(t, ok, "absolute humidity should be derived")
	assert.Equal(t, "g/m³", abs.Unit)
	assert.InDelta(t, models.AbsoluteHumidity(14.1, 70), abs.Values[2], 1e-9)
	assert.True(t, math.IsNaN(abs.Values[1]))

	soil, ok := series.Channel(models.ChannelSoilMoisture0To1)
	require.True(t, ok)
	assert.Equal(t, "%", soil.Unit)
	assert.InDelta(t, 31.0, soil.Values[0], 1e-9, "soil moisture is scaled to percent")
	deep, ok := series.Channel(models.ChannelSoilMoisture27To81)
	require.True(t, ok)
	assert.True(t, math.IsNaN(deep.Values[2]), "170% soil moisture should be rejected")
	_, ok = series.Channel(models.ChannelSoilMoisture3To9)
	assert.False(t, ok, "absent variables produce no channel")

	require.NoError(t, series.Check())
}

func TestFetchDaily(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "14", q.Get("forecast_days"))
		assert.Empty(t, q.Get("forecast_hours"))
		assert.Empty(t, q.Get("hourly"))
		assert.Contains(t, q.Get("daily"), "precipitation_probability_mean")
		assert.Contains(t, q.Get("daily"), "uv_index_clear_sky_max")
		w.Write([]byte(dailyBody))
	})

	series, err := client.FetchDaily(context.Background(), models.Coordinates{Latitude: 48.85, Longitude: 2.35}, 14)
	require.NoError(t, err)
	require.NoError(t, series.Check())

	require.Equal(t, 14, series.Len())
	assert.Equal(t, 24*time.Hour, series.Step)
	assert.Equal(t, 14*24*time.Hour, series.Horizon())
	for i, ts := range series.Times {
		assert.Equal(t, 0, ts.Hour(), "day %d should start at local midnight, got %s", i, ts)
		assert.Equal(t, 16+i, ts.Day(), "day %d", i)
	}

	hi, ok := series.Channel(models.ChannelTemperatureMax)
	require.True(t, ok)
	assert.Equal(t, "°C", hi.Unit)
	assert.Equal(t, 18.0, hi.Values[0])
	lo, ok := series.Channel(models.ChannelTemperatureMin)
	require.True(t, ok)
	assert.True(t, math.IsNaN(lo.Values[7]))
	_, ok = series.Channel(models.ChannelWindGustMax)
	assert.False(t, ok)
	_, ok = series.Channel(models.ChannelWetBulb)
	assert.False(t, ok, "daily series derive nothing")
}

func TestFetchDaily_BadHorizon(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	for _, days := range []int{0, MaxForecastDays + 1} {
		_, err := client.FetchDaily(context.Background(), models.Coordinates{}, days)
		assert.ErrorIs(t, err, ErrBadHorizon)
	}
}

func TestFetchHourly_RetriesWaitForLimiter(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	// One token up front, then one every ~17 minutes.
	client.limiter = rate.NewLimiter(rate.Limit(0.001), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := client.FetchHourly(ctx, models.Coordinates{Latitude: 1, Longitude: 2}, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
	assert.Equal(t, int32(1), calls.Load(), "the retry must not bypass the limiter")
}

func TestFetchHourly_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(forecastBody))
	})

	series, err := client.FetchHourly(context.Background(), models.Coordinates{Latitude: 1, Longitude: 2}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, series.Len())
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchHourly_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":true,"reason":"Latitude must be in range of -90 to 90°"}`, http.StatusBadRequest)
	})

	_, err := client.FetchHourly(context.Background(), models.Coordinates{Latitude: 1, Longitude: 2}, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchHourly_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	client.cfg.MaxRetries = 1

	_, err := client.FetchHourly(context.Background(), models.Coordinates{Latitude: 1, Longitude: 2}, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited), "got %v", err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchHourly_Canceled(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(forecastBody))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchHourly(ctx, models.Coordinates{Latitude: 1, Longitude: 2}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchHourly_BadHorizon(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	for _, hours := range []int{0, -1, MaxForecastHours + 1} {
		_, err := client.FetchHourly(context.Background(), models.Coordinates{}, hours)
		assert.ErrorIs(t, err, ErrBadHorizon)
	}
}

func TestGeocode(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("count"))
		switch r.URL.Query().Get("name") {
		case "Paris":
			w.Write([]byte(`{"results":[{"id":2988507,"name":"Paris","latitude":48.85341,"longitude":2.3488,
				"feature_code":"PPLC","country_code":"FR","country":"France","population":2138551}]}`))
		default:
			w.Write([]byte(`{"generationtime_ms":0.3}`))
		}
	})

	place, err := client.Geocode(context.Background(), "Paris")
	require.NoError(t, err)
	assert.Equal(t, "PPLC", place.FeatureCode)
	require.NotNil(t, place.Population)
	assert.EqualValues(t, 2138551, *place.Population)

	loc := place.Location()
	assert.Equal(t, "Paris, France", loc.Label())
	require.NoError(t, models.Validate(loc))

	_, err = client.Geocode(context.Background(), "Nowhereville")
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestResolve(t *testing.T) {
	var geocoded atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		geocoded.Add(1)
		w.Write([]byte(`{"results":[{"name":"Wandiligong","latitude":-36.79,"longitude":146.98,"feature_code":"PPL","country":"Australia"}]}`))
	})

	loc, err := client.Resolve(context.Background(), "-36.794, 146.977")
	require.NoError(t, err)
	assert.False(t, loc.Named())
	assert.Equal(t, int32(0), geocoded.Load(), "coordinates should not be geocoded")

	loc, err = client.Resolve(context.Background(), "Wandiligong")
	require.NoError(t, err)
	assert.True(t, loc.Named())
	assert.Equal(t, "Wandiligong", loc.Name())
}

type fakeArchive struct {
	endpoints []string
	payloads  [][]byte
	err       error
}

func (a *fakeArchive) ArchivePayload(ctx context.Context, endpoint string, payload []byte) (int64, error) {
	a.endpoints = append(a.endpoints, endpoint)
	a.payloads = append(a.payloads, payload)
	return int64(len(a.payloads)), a.err
}

func TestFetchHourly_ArchivesPayload(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(forecastBody))
	})
	archive := &fakeArchive{}
	client.SetArchive(archive)

	_, err := client.FetchHourly(context.Background(), models.Coordinates{Latitude: 1, Longitude: 2}, 3)
	require.NoError(t, err)
	require.Len(t, archive.payloads, 1, "only the successful response is archived")
	assert.Equal(t, "forecast", archive.endpoints[0])
	assert.JSONEq(t, forecastBody, string(archive.payloads[0]))

	archive.err = errors.New("disk full")
	_, err = client.FetchHourly(context.Background(), models.Coordinates{Latitude: 1, Longitude: 2}, 3)
	assert.NoError(t, err, "archive failures must not fail the fetch")
}

func TestValidateSeries(t *testing.T) {
	s := &models.ForecastSeries{Channels: []models.Channel{
		{Kind: models.ChannelTemperature, Values: []float64{12, 999, math.NaN(), -95}},
		{Kind: models.ChannelHumidity, Values: []float64{50, 101, -1, 100}},
		{Kind: models.ChannelPrecipitation, Values: []float64{0, 1.2, math.Inf(1), 3}},
	}}

	rejected := ValidateSeries(s)
	assert.Equal(t, map[models.ChannelKind]int{
		models.ChannelTemperature:   2,
		models.ChannelHumidity:      2,
		models.ChannelPrecipitation: 1,
	}, rejected)

	temp := s.Channels[0].Values
	assert.Equal(t, 12.0, temp[0])
	assert.True(t, math.IsNaN(temp[1]))
	assert.True(t, math.IsNaN(temp[3]))
	assert.Equal(t, 100.0, s.Channels[1].Values[3], "bounds are inclusive")
}
