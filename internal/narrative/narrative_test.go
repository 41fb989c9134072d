package narrative

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/option"

	"github.com/lox/forecastbot/internal/chart"
	"github.com/lox/forecastbot/internal/models"
)

func testSeries(hours int) *models.ForecastSeries {
	zone := time.FixedZone("CEST", 2*60*60)
	start := time.Date(2026, 10, 16, 0, 0, 0, 0, zone)
	s := &models.ForecastSeries{Start: start, Step: time.Hour, Zone: zone}
	temps := make([]float64, hours)
	rain := make([]float64, hours)
	prob := make([]float64, hours)
	gust := make([]float64, hours)
	for i := 0; i < hours; i++ {
		s.Times = append(s.Times, start.Add(time.Duration(i)*time.Hour))
		temps[i] = 10 + 5*math.Sin(2*math.Pi*float64(i)/24)
		gust[i] = 4
	}
	rain[10], rain[11] = 1.5, 0.7
	prob[10] = 60
	gust[12] = 12.3
	temps[3] = math.NaN()
	s.Channels = []models.Channel{
		{Kind: models.ChannelTemperature, Unit: "°C", Values: temps},
		{Kind: models.ChannelPrecipitation, Unit: "mm", Values: rain},
		{Kind: models.ChannelPrecipProbability, Unit: "%", Values: prob},
		{Kind: models.ChannelWindGust, Unit: "m/s", Values: gust},
	}
	return s
}

var paris = models.NamedLocation("Paris", "France", "PPLC", 48.85, 2.35)

func TestSummarize(t *testing.T) {
	s := Summarize(chart.KindHourly, paris, testSeries(48))

	if !s.HasTemp || math.Abs(s.Low-5) > 1e-9 || math.Abs(s.High-15) > 1e-9 {
		t.Errorf("temperature range = %v..%v (has %v), want 5..15", s.Low, s.High, s.HasTemp)
	}
	if math.Abs(s.RainTotal-2.2) > 1e-9 {
		t.Errorf("RainTotal = %v, want 2.2", s.RainTotal)
	}
	if s.MaxRainProb != 60 {
		t.Errorf("MaxRainProb = %v, want 60", s.MaxRainProb)
	}
	if s.MaxGust != 12.3 {
		t.Errorf("MaxGust = %v, want 12.3", s.MaxGust)
	}
	if s.HasUV {
		t.Error("HasUV should be false without a UV channel")
	}
}

func TestSummaryString(t *testing.T) {
	tests := []struct {
		name  string
		kind  chart.Kind
		hours int
		want  []string
	}{
		{
			name:  "hourly",
			kind:  chart.KindHourly,
			hours: 48,
			want:  []string{"Hourly forecast for Paris, France", "2 days ahead", "5 to 15 °C", "rain 2.2 mm", "up to 60% chance", "gusts to 12.3 m/s"},
		},
		{
			name:  "weekly",
			kind:  chart.KindWeekly,
			hours: 168,
			want:  []string{"Weekly forecast", "1 week ahead"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.kind, paris, testSeries(tt.hours)).String()
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("caption %q missing %q", got, w)
				}
			}
		})
	}
}

func TestSummarize_Daily(t *testing.T) {
	zone := time.FixedZone("CEST", 2*60*60)
	start := time.Date(2026, 10, 16, 0, 0, 0, 0, zone)
	s := &models.ForecastSeries{Start: start, Step: 24 * time.Hour, Zone: zone}
	for i := 0; i < 14; i++ {
		s.Times = append(s.Times, start.AddDate(0, 0, i))
	}
	fill := func(v float64) []float64 {
		out := make([]float64, 14)
		for i := range out {
			out[i] = v
		}
		return out
	}
	highs, lows, rain := fill(16), fill(6), fill(0)
	highs[4], lows[9], rain[2] = 21, 1, 7.5
	s.Channels = []models.Channel{
		{Kind: models.ChannelTemperatureMax, Unit: "°C", Values: highs},
		{Kind: models.ChannelTemperatureMin, Unit: "°C", Values: lows},
		{Kind: models.ChannelPrecipitationSum, Unit: "mm", Values: rain},
		{Kind: models.ChannelWindGustMax, Unit: "m/s", Values: fill(9)},
		{Kind: models.ChannelUVMax, Values: fill(4)},
	}

	sum := Summarize(chart.KindDaily, paris, s)
	if !sum.HasTemp || sum.Low != 1 || sum.High != 21 {
		t.Errorf("temperature range = %v..%v (has %v), want 1..21", sum.Low, sum.High, sum.HasTemp)
	}
	got := sum.String()
	for _, w := range []string{"Daily forecast for Paris, France", "2 weeks ahead", "1 to 21 °C", "rain 7.5 mm", "gusts to 9 m/s", "UV peaks at 4"} {
		if !strings.Contains(got, w) {
			t.Errorf("caption %q missing %q", got, w)
		}
	}
}

func TestSummaryString_AbsoluteHumidity(t *testing.T) {
	series := testSeries(48)
	vapour := make([]float64, 48)
	for i := range vapour {
		vapour[i] = 6 + float64(i%5)
	}
	series.Channels = append(series.Channels, models.Channel{Kind: models.ChannelAbsoluteHumidity, Unit: "g/m³", Values: vapour})

	got := Summarize(chart.KindAbsoluteHumidity, paris, series).String()
	for _, w := range []string{"Absolute Humidity forecast for Paris", "water vapour 6 to 10 g/m³"} {
		if !strings.Contains(got, w) {
			t.Errorf("caption %q missing %q", got, w)
		}
	}
	if strings.Contains(Summarize(chart.KindHourly, paris, series).String(), "water vapour") {
		t.Error("hourly captions should not mention water vapour")
	}
}

func TestSummaryString_Dry(t *testing.T) {
	series := testSeries(24)
	series.Channels[1].Values = make([]float64, 24)
	series.Channels[2].Values = make([]float64, 24)
	got := Summarize(chart.KindHourly, models.CoordinatesLocation(-36.79, 146.98), series).String()
	if !strings.Contains(got, "dry") {
		t.Errorf("caption %q should say dry", got)
	}
	if !strings.Contains(got, "-36.79, 146.98") {
		t.Errorf("caption %q should fall back to coordinates", got)
	}
	if strings.Contains(got, "chance") {
		t.Errorf("caption %q should not mention a zero chance", got)
	}
}

type fakeNarrator struct {
	text string
	err  error
	wait bool
}

func (f *fakeNarrator) Narrate(ctx context.Context, s Summary) (string, error) {
	if f.wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

func TestCaptioner(t *testing.T) {
	ctx := context.Background()
	series := testSeries(48)
	plain := Summarize(chart.KindHourly, paris, series).String()

	c := NewCaptioner(nil)
	if got := c.Caption(ctx, chart.KindHourly, paris, series); got != plain {
		t.Errorf("without narrator got %q, want %q", got, plain)
	}

	c.SetNarrator(&fakeNarrator{text: "  Mild with a wet afternoon.  "}, 0)
	if got := c.Caption(ctx, chart.KindHourly, paris, series); got != plain+"\nMild with a wet afternoon." {
		t.Errorf("with narrator got %q", got)
	}

	c.SetNarrator(&fakeNarrator{err: errors.New("quota exceeded")}, 0)
	if got := c.Caption(ctx, chart.KindHourly, paris, series); got != plain {
		t.Errorf("failed narration should fall back, got %q", got)
	}

	c.SetNarrator(&fakeNarrator{wait: true}, 10*time.Millisecond)
	if got := c.Caption(ctx, chart.KindHourly, paris, series); got != plain {
		t.Errorf("slow narration should fall back, got %q", got)
	}
}

func TestOpenAINarrator(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1792101600,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "A mild day in Paris with showers around midday."}}]
		}`))
	}))
	defer srv.Close()

	n, err := NewOpenAINarrator("sk-test", "", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("NewOpenAINarrator: %v", err)
	}

	text, err := n.Narrate(context.Background(), Summarize(chart.KindHourly, paris, testSeries(48)))
	if err != nil {
		t.Fatalf("Narrate: %v", err)
	}
	if text != "A mild day in Paris with showers around midday." {
		t.Errorf("text = %q", text)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestNewOpenAINarrator_NoKey(t *testing.T) {
	if _, err := NewOpenAINarrator("", ""); err == nil {
		t.Error("expected error without an api key")
	}
}
