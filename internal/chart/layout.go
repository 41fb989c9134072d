package chart

import (
	"fmt"
	"image/color"
	"strings"
	"time"

	"github.com/lox/forecastbot/internal/models"
)

// Kind selects a chart layout.
type Kind string

const (
	KindHourly           Kind = "hourly"
	KindWeekly           Kind = "weekly"
	KindDaily            Kind = "daily"
	KindAbsoluteHumidity Kind = "absolute_humidity"
	KindSoilMoisture     Kind = "soil_moisture"
)

// Kinds lists every chart kind in the order commands present them.
var Kinds = []Kind{KindHourly, KindWeekly, KindDaily, KindAbsoluteHumidity, KindSoilMoisture}

// Daily reports whether the kind plots one sample per local day.
func (k Kind) Daily() bool {
	return k == KindDaily
}

// Days is the number of days a daily kind needs from the fetcher.
func (k Kind) Days() int {
	return k.Hours() / 24
}

// Hours is the forecast horizon a kind needs from the fetcher.
func (k Kind) Hours() int {
	switch k {
	case KindWeekly:
		return 7 * 24
	case KindDaily:
		return 14 * 24
	case KindSoilMoisture:
		return 72
	default:
		return 48
	}
}

func (k Kind) Horizon() time.Duration {
	return time.Duration(k.Hours()) * time.Hour
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Style is how a channel is drawn.
type Style int

const (
	StyleLine Style = iota
	StyleBars
)

// SeriesSpec binds a forecast channel to a panel.
type SeriesSpec struct {
	Channel models.ChannelKind
	Label   string
	Style   Style
	Agg     Aggregation
}

// AxisSpec describes how a panel's value axis is fitted to its data.
type AxisSpec struct {
	Unit    string
	MinSpan float64
	// Fixed pins the axis to [FixedMin, FixedMax] regardless of data.
	Fixed              bool
	FixedMin, FixedMax float64
	// ZeroBased forces the lower bound to include zero.
	ZeroBased bool
}

// PanelSpec is one horizontal strip of a chart.
type PanelSpec struct {
	Title  string
	Series []SeriesSpec
	Axis   AxisSpec
}

// palette is fixed so the same channel has the same colour on every chart.
var palette = map[models.ChannelKind]color.RGBA{
	models.ChannelTemperature:       {255, 64, 64, 255},
	models.ChannelApparent:          {0, 230, 60, 255},
	models.ChannelWetBulb:           {0, 148, 255, 255},
	models.ChannelHumidity:          {0, 148, 255, 255},
	models.ChannelPrecipProbability: {0, 180, 255, 255},
	models.ChannelPrecipitation:     {64, 128, 255, 255},
	models.ChannelWindSpeed:         {0, 230, 60, 255},
	models.ChannelWindGust:          {90, 150, 86, 255},
	models.ChannelUV:                {255, 200, 0, 255},
	models.ChannelUVClearSky:        {118, 215, 234, 255},

	models.ChannelAbsoluteHumidity: {0, 200, 255, 255},

	models.ChannelSoilMoisture0To1:   {255, 200, 200, 255},
	models.ChannelSoilMoisture1To3:   {255, 150, 150, 255},
	models.ChannelSoilMoisture3To9:   {255, 100, 100, 255},
	models.ChannelSoilMoisture9To27:  {200, 50, 50, 255},
	models.ChannelSoilMoisture27To81: {150, 0, 0, 255},

	models.ChannelTemperatureMax:        {255, 64, 64, 255},
	models.ChannelTemperatureMin:        {255, 150, 120, 255},
	models.ChannelApparentMax:           {0, 230, 60, 255},
	models.ChannelApparentMin:           {120, 200, 130, 255},
	models.ChannelPrecipitationSum:      {64, 128, 255, 255},
	models.ChannelPrecipProbabilityMin:  {0, 100, 160, 255},
	models.ChannelPrecipProbabilityMean: {0, 140, 210, 255},
	models.ChannelPrecipProbabilityMax:  {0, 180, 255, 255},
	models.ChannelWindSpeedMax:          {0, 230, 60, 255},
	models.ChannelWindGustMax:           {90, 150, 86, 255},
	models.ChannelUVMax:                 {255, 200, 0, 255},
	models.ChannelUVClearSkyMax:         {118, 215, 234, 255},
}

// ChannelColor returns the palette colour for kind.
func ChannelColor(kind models.ChannelKind) color.RGBA {
	if c, ok := palette[kind]; ok {
		return c
	}
	return color.RGBA{200, 200, 200, 255}
}

func panelsFor(kind Kind, cfg Config) ([]PanelSpec, error) {
	temperature := PanelSpec{
		Title: "Temperature",
		Series: []SeriesSpec{
			{Channel: models.ChannelTemperature, Label: "Temperature"},
			{Channel: models.ChannelApparent, Label: "Apparent"},
			{Channel: models.ChannelWetBulb, Label: "Wet bulb"},
		},
		Axis: AxisSpec{Unit: "°C", MinSpan: cfg.TemperatureSpan},
	}
	precipitation := PanelSpec{
		Title: "Precipitation",
		Series: []SeriesSpec{
			{Channel: models.ChannelPrecipitation, Label: "Amount", Style: StyleBars},
		},
		Axis: AxisSpec{Unit: "mm", MinSpan: 1, ZeroBased: true},
	}
	probability := PanelSpec{
		Title: "Precipitation probability",
		Series: []SeriesSpec{
			{Channel: models.ChannelPrecipProbability, Label: "Probability", Style: StyleBars, Agg: AggMax},
		},
		Axis: AxisSpec{Unit: "%", Fixed: true, FixedMin: 0, FixedMax: 100},
	}

	humidity := PanelSpec{
		Title:  "Humidity",
		Series: []SeriesSpec{{Channel: models.ChannelHumidity, Label: "Relative humidity"}},
		Axis:   AxisSpec{Unit: "%", Fixed: true, FixedMin: 0, FixedMax: 100},
	}

	switch kind {
	case KindHourly:
		return []PanelSpec{
			temperature,
			humidity,
			probability,
			precipitation,
			{
				Title: "Wind",
				Series: []SeriesSpec{
					{Channel: models.ChannelWindSpeed, Label: "Speed"},
					{Channel: models.ChannelWindGust, Label: "Gusts", Agg: AggMax},
				},
				Axis: AxisSpec{Unit: "m/s", MinSpan: 5, ZeroBased: true},
			},
			{
				Title: "UV index",
				Series: []SeriesSpec{
					{Channel: models.ChannelUV, Label: "UV", Style: StyleBars, Agg: AggMax},
					{Channel: models.ChannelUVClearSky, Label: "Clear sky", Agg: AggMax},
				},
				Axis: AxisSpec{MinSpan: 3, ZeroBased: true},
			},
		}, nil
	case KindWeekly:
		temperature.Series = temperature.Series[:2]
		return []PanelSpec{temperature, probability, precipitation}, nil
	case KindAbsoluteHumidity:
		return []PanelSpec{
			{
				Title:  "Absolute humidity",
				Series: []SeriesSpec{{Channel: models.ChannelAbsoluteHumidity, Label: "Water vapour"}},
				Axis:   AxisSpec{Unit: "g/m³", MinSpan: 4, ZeroBased: true},
			},
			humidity,
		}, nil
	case KindSoilMoisture:
		return []PanelSpec{{
			Title: "Soil moisture",
			Series: []SeriesSpec{
				{Channel: models.ChannelSoilMoisture0To1, Label: "0-1cm"},
				{Channel: models.ChannelSoilMoisture1To3, Label: "1-3cm"},
				{Channel: models.ChannelSoilMoisture3To9, Label: "3-9cm"},
				{Channel: models.ChannelSoilMoisture9To27, Label: "9-27cm"},
				{Channel: models.ChannelSoilMoisture27To81, Label: "27-81cm"},
			},
			Axis: AxisSpec{Unit: "%", MinSpan: 10},
		}}, nil
	case KindDaily:
		return []PanelSpec{
			{
				Title: "Temperature",
				Series: []SeriesSpec{
					{Channel: models.ChannelTemperatureMax, Label: "Max"},
					{Channel: models.ChannelTemperatureMin, Label: "Min"},
					{Channel: models.ChannelApparentMax, Label: "Apparent max"},
					{Channel: models.ChannelApparentMin, Label: "Apparent min"},
				},
				Axis: AxisSpec{Unit: "°C", MinSpan: cfg.TemperatureSpan},
			},
			{
				Title: "Precipitation probability",
				Series: []SeriesSpec{
					{Channel: models.ChannelPrecipProbabilityMax, Label: "Max", Style: StyleBars},
					{Channel: models.ChannelPrecipProbabilityMean, Label: "Mean"},
					{Channel: models.ChannelPrecipProbabilityMin, Label: "Min"},
				},
				Axis: AxisSpec{Unit: "%", Fixed: true, FixedMin: 0, FixedMax: 100},
			},
			{
				Title:  "Precipitation",
				Series: []SeriesSpec{{Channel: models.ChannelPrecipitationSum, Label: "Total", Style: StyleBars}},
				Axis:   AxisSpec{Unit: "mm", MinSpan: 5, ZeroBased: true},
			},
			{
				Title: "Wind",
				Series: []SeriesSpec{
					{Channel: models.ChannelWindSpeedMax, Label: "Max speed"},
					{Channel: models.ChannelWindGustMax, Label: "Max gusts"},
				},
				Axis: AxisSpec{Unit: "m/s", MinSpan: 5, ZeroBased: true},
			},
			{
				Title: "UV index",
				Series: []SeriesSpec{
					{Channel: models.ChannelUVMax, Label: "Max", Style: StyleBars},
					{Channel: models.ChannelUVClearSkyMax, Label: "Clear sky max"},
				},
				Axis: AxisSpec{MinSpan: 3, ZeroBased: true},
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
