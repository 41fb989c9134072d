package chart

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const tickEpsilon = 1e-9

var stepMantissas = []float64{1, 2, 2.5, 5}

// niceStep returns the smallest 1-2-5 step (25 is allowed from the tens
// upward) for which [lo, hi], snapped outward, needs at most maxTicks ticks.
func niceStep(lo, hi float64, maxTicks int) float64 {
	span := hi - lo
	if span <= 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		return 1
	}
	exp := math.Floor(math.Log10(span/float64(maxTicks))) - 1
	for ; exp < 308; exp++ {
		pow := math.Pow(10, exp)
		for _, m := range stepMantissas {
			if m == 2.5 && exp < 1 {
				continue
			}
			step := m * pow
			if tickCount(lo, hi, step) <= maxTicks {
				return step
			}
		}
	}
	return span
}

func tickCount(lo, hi, step float64) int {
	return int(snapUp(hi, step)/step-snapDown(lo, step)/step+0.5) + 1
}

func snapDown(v, step float64) float64 {
	return math.Floor(v/step+tickEpsilon) * step
}

func snapUp(v, step float64) float64 {
	return math.Ceil(v/step-tickEpsilon) * step
}

// valueTicks lists the multiples of step within [lo, hi].
func valueTicks(lo, hi, step float64) []float64 {
	if step <= 0 {
		return nil
	}
	var ticks []float64
	for k := math.Ceil(lo/step - tickEpsilon); k*step <= hi+step*tickEpsilon; k++ {
		ticks = append(ticks, k*step)
	}
	return ticks
}

// formatTick renders v with just enough decimals for step.
func formatTick(v, step float64) string {
	decimals := 0
	if step < 1 {
		decimals = int(math.Ceil(-math.Log10(step) - tickEpsilon))
	}
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	if strings.Trim(s, "-0.") == "" {
		return strings.TrimPrefix(s, "-")
	}
	return s
}

// TimeTick is a vertical gridline on the time axis. Frac is the position in
// [0, 1) across the horizon and LabelFrac where its labels are centred.
type TimeTick struct {
	Time      time.Time
	Frac      float64
	LabelFrac float64
	Major     bool
	Label     string
	Day       string
}

var tickHours = []int{1, 2, 3, 6, 12, 24}

// tickInterval picks the smallest hour interval whose pixel spacing fits a
// label of labelWidth pixels. When nothing fits it falls back to daily ticks.
func tickInterval(horizon time.Duration, width, labelWidth int) int {
	hours := horizon.Hours()
	if hours <= 0 || width <= 0 {
		return 24
	}
	perHour := float64(width) / hours
	for _, k := range tickHours {
		if float64(k)*perHour >= float64(labelWidth) {
			return k
		}
	}
	return 24
}

// TimeTicks places ticks every k hours on the local clock of loc, within
// [start, end). Local midnights are major ticks carrying a day label.
func TimeTicks(start, end time.Time, loc *time.Location, k int) []TimeTick {
	span := end.Sub(start)
	if span <= 0 || k <= 0 {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	local := start.In(loc)
	t := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
	if t.Before(start) {
		t = t.Add(time.Hour)
	}

	var ticks []TimeTick
	for ; t.Before(end); t = t.Add(time.Hour) {
		lt := t.In(loc)
		if lt.Minute() != 0 || lt.Hour()%k != 0 {
			continue
		}
		frac := float64(t.Sub(start)) / float64(span)
		tick := TimeTick{
			Time:      t,
			Frac:      frac,
			LabelFrac: frac,
			Major:     lt.Hour() == 0,
			Label:     lt.Format("15"),
		}
		if tick.Major {
			tick.Day = lt.Format("Mon 2")
		}
		ticks = append(ticks, tick)
	}
	return ticks
}

// DailyTicks places a tick at each local midnight within [start, end). The
// day of the month and weekday are centred on the day they name, and Mondays
// are major.
func DailyTicks(start, end time.Time, loc *time.Location) []TimeTick {
	span := end.Sub(start)
	if span <= 0 {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	local := start.In(loc)
	t := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if t.Before(start) {
		t = t.AddDate(0, 0, 1)
	}

	var ticks []TimeTick
	for ; t.Before(end); t = t.AddDate(0, 0, 1) {
		next := t.AddDate(0, 0, 1)
		if next.After(end) {
			next = end
		}
		mid := t.Add(next.Sub(t) / 2)
		ticks = append(ticks, TimeTick{
			Time:      t,
			Frac:      float64(t.Sub(start)) / float64(span),
			LabelFrac: float64(mid.Sub(start)) / float64(span),
			Major:     t.Weekday() == time.Monday,
			Label:     t.Format("2"),
			Day:       t.Format("Mon"),
		})
	}
	return ticks
}
