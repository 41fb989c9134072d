package narrative

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/lox/forecastbot/internal/chart"
	"github.com/lox/forecastbot/internal/models"
)

// Summary holds the headline numbers of a forecast window.
type Summary struct {
	Kind  chart.Kind
	Place string
	Start time.Time
	End   time.Time

	HasTemp bool
	Low     float64
	High    float64
	Unit    string

	HasRain     bool
	RainTotal   float64
	MaxRainProb float64

	HasGust bool
	MaxGust float64

	HasUV bool
	MaxUV float64

	HasVapour            bool
	MinVapour, MaxVapour float64

	HasSoil          bool
	MinSoil, MaxSoil float64
}

// channel returns the first of kinds present in series. Daily series carry
// aggregate channels in place of the hourly ones.
func channel(series *models.ForecastSeries, kinds ...models.ChannelKind) (models.Channel, bool) {
	for _, k := range kinds {
		if ch, ok := series.Channel(k); ok {
			return ch, true
		}
	}
	return models.Channel{}, false
}

// Summarize extracts a Summary from series. Missing samples are skipped.
func Summarize(kind chart.Kind, loc models.Location, series *models.ForecastSeries) Summary {
	s := Summary{
		Kind:  kind,
		Place: loc.Label(),
		Start: series.Start,
		End:   series.End(),
	}

	if ch, ok := series.Channel(models.ChannelTemperature); ok {
		s.Low, s.High, s.HasTemp = models.Range(ch.Values)
		s.Unit = ch.Unit
	} else {
		lows, okLo := series.Channel(models.ChannelTemperatureMin)
		highs, okHi := series.Channel(models.ChannelTemperatureMax)
		if okLo && okHi {
			var hasLo, hasHi bool
			s.Low, _, hasLo = models.Range(lows.Values)
			_, s.High, hasHi = models.Range(highs.Values)
			s.HasTemp = hasLo && hasHi
			s.Unit = highs.Unit
		}
	}
	if ch, ok := channel(series, models.ChannelPrecipitation, models.ChannelPrecipitationSum); ok {
		for _, v := range ch.Values {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				s.RainTotal += v
				s.HasRain = true
			}
		}
	}
	if ch, ok := channel(series, models.ChannelPrecipProbability, models.ChannelPrecipProbabilityMax); ok {
		if _, hi, ok := models.Range(ch.Values); ok {
			s.MaxRainProb = hi
			s.HasRain = true
		}
	}
	if ch, ok := channel(series, models.ChannelWindGust, models.ChannelWindGustMax); ok {
		_, s.MaxGust, s.HasGust = models.Range(ch.Values)
	}
	if ch, ok := channel(series, models.ChannelUV, models.ChannelUVMax); ok {
		_, s.MaxUV, s.HasUV = models.Range(ch.Values)
	}

	switch kind {
	case chart.KindAbsoluteHumidity:
		if ch, ok := series.Channel(models.ChannelAbsoluteHumidity); ok {
			s.MinVapour, s.MaxVapour, s.HasVapour = models.Range(ch.Values)
		}
	case chart.KindSoilMoisture:
		if ch, ok := series.Channel(models.ChannelSoilMoisture0To1); ok {
			s.MinSoil, s.MaxSoil, s.HasSoil = models.Range(ch.Values)
		}
	}
	return s
}

// Window describes the forecast horizon, e.g. "2 days ahead".
func (s Summary) Window() string {
	return humanize.RelTime(s.Start, s.End, "ahead", "ago")
}

// String renders the summary as a single caption line.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s forecast for %s (%s)", title(string(s.Kind)), s.Place, s.Window())

	var parts []string
	if s.HasVapour {
		parts = append(parts, fmt.Sprintf("water vapour %s to %s g/m³", num(s.MinVapour), num(s.MaxVapour)))
	}
	if s.HasSoil {
		parts = append(parts, fmt.Sprintf("surface soil moisture %s to %s%%", num(s.MinSoil), num(s.MaxSoil)))
	}
	if s.HasTemp {
		unit := s.Unit
		if unit == "" {
			unit = "°C"
		}
		parts = append(parts, fmt.Sprintf("%s to %s %s", num(s.Low), num(s.High), unit))
	}
	if s.HasRain {
		if s.RainTotal > 0 {
			parts = append(parts, fmt.Sprintf("rain %s mm", num(s.RainTotal)))
		} else {
			parts = append(parts, "dry")
		}
		if s.MaxRainProb > 0 {
			parts = append(parts, fmt.Sprintf("up to %s%% chance", num(s.MaxRainProb)))
		}
	}
	if s.HasGust {
		parts = append(parts, fmt.Sprintf("gusts to %s m/s", num(s.MaxGust)))
	}
	if s.HasUV && s.MaxUV >= 3 {
		parts = append(parts, fmt.Sprintf("UV peaks at %s", num(s.MaxUV)))
	}

	if len(parts) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, ", "))
	}
	b.WriteString(".")
	return b.String()
}

func num(v float64) string {
	return humanize.FtoaWithDigits(v, 1)
}

func title(s string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}
