package models

import (
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		in       string
		lat, lon float64
	}{
		{"48.85, 2.35", 48.85, 2.35},
		{"-36.794 146.977", -36.794, 146.977},
		{`48°51'24"N 2°21'0"E`, 48.856667, 2.35},
		{`1°2'3"N4°5'6"E`, 1.034167, 4.085},
		{`33°52'S 151°12'E`, -33.866667, 151.2},
		{`2°21'E, 48°51'N`, 48.85, 2.35},
	}

	for _, tt := range tests {
		got, err := ParseCoordinates(tt.in)
		if err != nil {
			t.Errorf("ParseCoordinates(%q) error: %v", tt.in, err)
			continue
		}
		if math.Abs(got.Latitude-tt.lat) > 1e-5 || math.Abs(got.Longitude-tt.lon) > 1e-5 {
			t.Errorf("ParseCoordinates(%q) = %v, want %v, %v", tt.in, got, tt.lat, tt.lon)
		}
	}
}

func TestParseCoordinates_Invalid(t *testing.T) {
	for _, in := range []string{"", "Paris", "91, 0", "0, 181", `1°N 2°S`} {
		if _, err := ParseCoordinates(in); !errors.Is(err, ErrBadCoordinates) {
			t.Errorf("ParseCoordinates(%q) error = %v, want ErrBadCoordinates", in, err)
		}
	}
}

func TestValidate_PlaceFeaturePair(t *testing.T) {
	if err := Validate(NamedLocation("Paris", "France", "PPLC", 48.85, 2.35)); err != nil {
		t.Errorf("named location: %v", err)
	}
	if err := Validate(CoordinatesLocation(48.85, 2.35)); err != nil {
		t.Errorf("coordinates location: %v", err)
	}

	mixed := CoordinatesLocation(48.85, 2.35)
	mixed.PlaceName = sql.NullString{String: "Paris", Valid: true}
	if err := Validate(mixed); err == nil {
		t.Error("expected error for place name without feature code")
	}

	if err := Validate(CoordinatesLocation(120, 0)); err == nil {
		t.Error("expected error for latitude out of range")
	}
}

func TestLocationLabel(t *testing.T) {
	if got := NamedLocation("Paris", "France", "PPLC", 48.85, 2.35).Label(); got != "Paris, France" {
		t.Errorf("Label() = %q", got)
	}
	if got := CoordinatesLocation(48.85, 2.35).Label(); got != "48.85, 2.35" {
		t.Errorf("Label() = %q", got)
	}
	if got := CoordinatesLocation(1, 2).Name(); got != "unspecified" {
		t.Errorf("Name() = %q", got)
	}
}

func TestForecastSeriesCheck(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &ForecastSeries{
		Start:    start,
		Step:     time.Hour,
		Times:    []time.Time{start, start.Add(time.Hour)},
		Channels: []Channel{{Kind: ChannelTemperature, Values: []float64{1, 2}}},
	}
	if err := s.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if s.Horizon() != 2*time.Hour {
		t.Errorf("Horizon() = %s, want 2h", s.Horizon())
	}

	s.Channels = append(s.Channels, Channel{Kind: ChannelPrecipitation, Values: []float64{1}})
	if err := s.Check(); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestForecastSeriesCheck_TimesOutsideHorizon(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	times := make([]time.Time, 48)
	for i := range times {
		times[i] = start.Add(time.Duration(i) * time.Hour)
	}

	tests := []struct {
		name  string
		start time.Time
		step  time.Duration
	}{
		{"zero start", time.Time{}, time.Hour},
		{"start after first sample", start.Add(time.Hour), time.Hour},
		{"start before first sample", start.Add(-time.Hour), time.Hour},
		{"step too short for samples", start, time.Minute},
	}
	for _, tt := range tests {
		s := &ForecastSeries{Start: tt.start, Step: tt.step, Times: times}
		if err := s.Check(); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}

	// Daily samples drift by an hour across a DST change but stay inside.
	zone, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	day := time.Date(2026, 10, 24, 0, 0, 0, 0, zone)
	daily := &ForecastSeries{Start: day, Step: 24 * time.Hour}
	for i := 0; i < 14; i++ {
		daily.Times = append(daily.Times, day.AddDate(0, 0, i))
	}
	if err := daily.Check(); err != nil {
		t.Errorf("daily series across DST: %v", err)
	}
}

func TestRange(t *testing.T) {
	lo, hi, ok := Range([]float64{math.NaN(), 3, -1, 7})
	if !ok || lo != -1 || hi != 7 {
		t.Errorf("Range = %v, %v, %v", lo, hi, ok)
	}
	if _, _, ok := Range([]float64{math.NaN()}); ok {
		t.Error("expected ok=false for all-NaN input")
	}
}

func TestWetBulb(t *testing.T) {
	// Stull's worked example: 20 °C at 50 % RH is about 13.7 °C.
	if got := WetBulb(20, 50); math.Abs(got-13.7) > 0.1 {
		t.Errorf("WetBulb(20, 50) = %.2f, want ~13.7", got)
	}
}

func TestAbsoluteHumidity(t *testing.T) {
	// Saturated air at 20 °C holds about 17.3 g/m³.
	if got := AbsoluteHumidity(20, 100); math.Abs(got-17.3) > 0.1 {
		t.Errorf("AbsoluteHumidity(20, 100) = %.2f, want ~17.3", got)
	}
	if got := AbsoluteHumidity(20, 50); math.Abs(got-8.64) > 0.05 {
		t.Errorf("AbsoluteHumidity(20, 50) = %.2f, want ~8.64", got)
	}
	if got := AbsoluteHumidity(0, 0); got != 0 {
		t.Errorf("AbsoluteHumidity(0, 0) = %v, want 0", got)
	}
}
