package models

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"time"
)

type Coordinates struct {
	Latitude  float64 `validate:"gte=-90,lte=90"`
	Longitude float64 `validate:"gte=-180,lte=180"`
}

func (c Coordinates) String() string {
	return strconv.FormatFloat(c.Latitude, 'f', -1, 64) + ", " + strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}

// Location is a place registered for an identity. PlaceName and FeatureCode are
// either both set (geocoded) or both null (raw coordinates).
type Location struct {
	PlaceName   sql.NullString
	Country     sql.NullString
	FeatureCode sql.NullString
	Coordinates Coordinates
}

// NamedLocation builds a location resolved through geocoding.
func NamedLocation(name, country, featureCode string, lat, lon float64) Location {
	return Location{
		PlaceName:   sql.NullString{String: name, Valid: true},
		Country:     sql.NullString{String: country, Valid: country != ""},
		FeatureCode: sql.NullString{String: featureCode, Valid: true},
		Coordinates: Coordinates{Latitude: lat, Longitude: lon},
	}
}

// CoordinatesLocation builds a location from user supplied coordinates.
func CoordinatesLocation(lat, lon float64) Location {
	return Location{Coordinates: Coordinates{Latitude: lat, Longitude: lon}}
}

func (l Location) Named() bool {
	return l.PlaceName.Valid
}

func (l Location) Name() string {
	if !l.PlaceName.Valid {
		return "unspecified"
	}
	return l.PlaceName.String
}

func (l Location) CountryName() string {
	if !l.Country.Valid {
		return "unspecified"
	}
	return l.Country.String
}

func (l Location) Feature() string {
	if !l.FeatureCode.Valid {
		return "unspecified"
	}
	return l.FeatureCode.String
}

// Label is the short human description used in captions.
func (l Location) Label() string {
	if !l.PlaceName.Valid {
		return l.Coordinates.String()
	}
	if l.Country.Valid {
		return l.PlaceName.String + ", " + l.Country.String
	}
	return l.PlaceName.String
}

type ChannelKind string

const (
	ChannelTemperature       ChannelKind = "temperature"
	ChannelApparent          ChannelKind = "apparent_temperature"
	ChannelWetBulb           ChannelKind = "wet_bulb_temperature"
	ChannelHumidity          ChannelKind = "relative_humidity"
	ChannelPrecipProbability ChannelKind = "precipitation_probability"
	ChannelPrecipitation     ChannelKind = "precipitation"
	ChannelWindSpeed         ChannelKind = "wind_speed"
	ChannelWindGust          ChannelKind = "wind_gusts"
	ChannelUV                ChannelKind = "uv_index"
	ChannelUVClearSky        ChannelKind = "uv_index_clear_sky"

	// Derived from temperature and relative humidity, in g/m³.
	ChannelAbsoluteHumidity ChannelKind = "absolute_humidity"

	// Volumetric soil water content by depth, in percent.
	ChannelSoilMoisture0To1   ChannelKind = "soil_moisture_0_to_1cm"
	ChannelSoilMoisture1To3   ChannelKind = "soil_moisture_1_to_3cm"
	ChannelSoilMoisture3To9   ChannelKind = "soil_moisture_3_to_9cm"
	ChannelSoilMoisture9To27  ChannelKind = "soil_moisture_9_to_27cm"
	ChannelSoilMoisture27To81 ChannelKind = "soil_moisture_27_to_81cm"

	// Daily aggregates, one sample per local day.
	ChannelTemperatureMax        ChannelKind = "temperature_max"
	ChannelTemperatureMin        ChannelKind = "temperature_min"
	ChannelApparentMax           ChannelKind = "apparent_temperature_max"
	ChannelApparentMin           ChannelKind = "apparent_temperature_min"
	ChannelPrecipitationSum      ChannelKind = "precipitation_sum"
	ChannelPrecipProbabilityMin  ChannelKind = "precipitation_probability_min"
	ChannelPrecipProbabilityMean ChannelKind = "precipitation_probability_mean"
	ChannelPrecipProbabilityMax  ChannelKind = "precipitation_probability_max"
	ChannelWindSpeedMax          ChannelKind = "wind_speed_max"
	ChannelWindGustMax           ChannelKind = "wind_gusts_max"
	ChannelUVMax                 ChannelKind = "uv_index_max"
	ChannelUVClearSkyMax         ChannelKind = "uv_index_clear_sky_max"
)

// Channel is one numeric series aligned with ForecastSeries.Times. Missing
// samples are NaN.
type Channel struct {
	Kind   ChannelKind
	Unit   string
	Values []float64
}

// ForecastSeries is a fetched forecast. It is never mutated after the fetcher
// returns it.
type ForecastSeries struct {
	Start    time.Time
	Step     time.Duration
	Times    []time.Time
	Zone     *time.Location
	Channels []Channel
}

func (s *ForecastSeries) Len() int {
	return len(s.Times)
}

// End is the exclusive end of the horizon: Start + Step*Len.
func (s *ForecastSeries) End() time.Time {
	return s.Start.Add(s.Horizon())
}

func (s *ForecastSeries) Horizon() time.Duration {
	return s.Step * time.Duration(len(s.Times))
}

func (s *ForecastSeries) Channel(kind ChannelKind) (Channel, bool) {
	for _, c := range s.Channels {
		if c.Kind == kind {
			return c, true
		}
	}
	return Channel{}, false
}

// Location returns the zone labels should be rendered in.
func (s *ForecastSeries) Location() *time.Location {
	if s.Zone == nil {
		return time.UTC
	}
	return s.Zone
}

// Check reports structural problems: timestamps that are unordered or fall
// outside [Start, End), and channels whose length does not match the
// timestamps.
func (s *ForecastSeries) Check() error {
	for i := 1; i < len(s.Times); i++ {
		if !s.Times[i].After(s.Times[i-1]) {
			return fmt.Errorf("timestamps not strictly increasing at index %d", i)
		}
	}
	if n := len(s.Times); n > 0 {
		if s.Step <= 0 {
			return fmt.Errorf("non-positive step %s", s.Step)
		}
		if !s.Times[0].Equal(s.Start) {
			return fmt.Errorf("first timestamp %s does not match start %s", s.Times[0].Format(time.RFC3339), s.Start.Format(time.RFC3339))
		}
		if !s.Times[n-1].Before(s.End()) {
			return fmt.Errorf("last timestamp %s not before end %s", s.Times[n-1].Format(time.RFC3339), s.End().Format(time.RFC3339))
		}
	}
	for _, c := range s.Channels {
		if len(c.Values) != len(s.Times) {
			return fmt.Errorf("channel %s has %d values for %d timestamps", c.Kind, len(c.Values), len(s.Times))
		}
	}
	return nil
}

// Range returns the finite min and max of values. ok is false when every
// value is NaN or the slice is empty.
func Range(values []float64) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		ok = true
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}

// WetBulb estimates wet-bulb temperature (°C) from dry-bulb temperature (°C)
// and relative humidity (0-100) using Stull's formula. Valid roughly for
// -20..50 °C and 5..99 % humidity.
func WetBulb(temp, humidity float64) float64 {
	return temp*math.Atan(0.151977*math.Sqrt(humidity+8.313659)) +
		math.Atan(temp+humidity) -
		math.Atan(humidity-1.676331) +
		0.00391838*math.Pow(humidity, 1.5)*math.Atan(0.023101*humidity) -
		4.686035
}

// AbsoluteHumidity returns water vapour density (g/m³) for temperature (°C)
// and relative humidity (0-100), using the Magnus saturation pressure.
func AbsoluteHumidity(temp, humidity float64) float64 {
	saturation := 6.112 * math.Exp(17.67*temp/(temp+243.5))
	return saturation * humidity * 2.1674 / (273.15 + temp)
}
