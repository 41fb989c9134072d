package chart

import (
	"math"
	"time"
)

// Aggregation combines samples that fall into the same pixel column.
type Aggregation int

const (
	AggMean Aggregation = iota
	AggMax
)

// Bucket is one output column of a downsampled channel. Value is NaN when
// every sample in the column was missing.
type Bucket struct {
	Column  int
	Time    time.Time
	Value   float64
	Count   int
	Missing int
}

func (b Bucket) Samples() int {
	return b.Count + b.Missing
}

// ColumnFor maps t onto [0, columns) linearly over [start, end). Times
// outside the horizon clamp to the first or last column.
func ColumnFor(t, start, end time.Time, columns int) int {
	span := end.Sub(start).Milliseconds()
	if columns <= 0 {
		return 0
	}
	if span <= 0 {
		return 0
	}
	offset := t.Sub(start).Milliseconds()
	col := int(offset * int64(columns) / span)
	if offset < 0 {
		col = 0
	}
	if col >= columns {
		col = columns - 1
	}
	return col
}

// Downsample assigns every sample to exactly one column and aggregates
// samples sharing a column. Buckets are returned in column order; columns
// that received no samples are omitted, so evenly spaced input yields
// min(len(values), columns) buckets.
func Downsample(times []time.Time, values []float64, start, end time.Time, columns int, agg Aggregation) []Bucket {
	if len(times) == 0 || columns <= 0 {
		return nil
	}

	var buckets []Bucket
	var sum float64
	for i, t := range times {
		col := ColumnFor(t, start, end, columns)
		if len(buckets) == 0 || buckets[len(buckets)-1].Column != col {
			if len(buckets) > 0 {
				finishBucket(&buckets[len(buckets)-1], sum, agg)
			}
			buckets = append(buckets, Bucket{Column: col, Time: t, Value: math.Inf(-1)})
			sum = 0
		}

		b := &buckets[len(buckets)-1]
		v := values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			b.Missing++
			continue
		}
		b.Count++
		sum += v
		if v > b.Value {
			b.Value = v
		}
	}
	finishBucket(&buckets[len(buckets)-1], sum, agg)
	return buckets
}

func finishBucket(b *Bucket, sum float64, agg Aggregation) {
	if b.Count == 0 {
		b.Value = math.NaN()
		return
	}
	if agg == AggMean {
		b.Value = sum / float64(b.Count)
	}
}

// ValueAxis is a fitted panel axis. Min and Max are always tick multiples
// except when a span floor had to be centred on the data.
type ValueAxis struct {
	Min, Max float64
	Step     float64
	Ticks    []float64
}

func (a ValueAxis) Span() float64 {
	return a.Max - a.Min
}

// Y maps v into a pixel row within [top, top+height]; larger values get
// smaller rows.
func (a ValueAxis) Y(v float64, top, height int) float64 {
	span := a.Span()
	if span <= 0 {
		return float64(top + height)
	}
	frac := (v - a.Min) / span
	return float64(top) + (1-frac)*float64(height)
}

// FitAxis fits a value axis to the data range [lo, hi]. hasData is false
// when every sample was missing. maxTicks bounds the number of tick lines
// the panel can show legibly.
func FitAxis(lo, hi float64, hasData bool, spec AxisSpec, maxTicks int) ValueAxis {
	if maxTicks < 2 {
		maxTicks = 2
	}
	if spec.Fixed {
		step := niceStep(spec.FixedMin, spec.FixedMax, maxTicks)
		return newAxis(spec.FixedMin, spec.FixedMax, step)
	}

	minSpan := spec.MinSpan
	if minSpan <= 0 {
		minSpan = 1
	}
	if !hasData {
		lo, hi = 0, 0
	}
	if spec.ZeroBased {
		lo = math.Min(lo, 0)
		hi = math.Max(hi, 0)
	}

	if hi-lo < minSpan {
		step := niceStep(0, minSpan, maxTicks)
		base := snapDown(lo, step)
		if base+minSpan >= hi {
			return newAxis(base, base+minSpan, step)
		}
		mid := (lo + hi) / 2
		return newAxis(mid-minSpan/2, mid+minSpan/2, step)
	}

	step := niceStep(lo, hi, maxTicks)
	return newAxis(snapDown(lo, step), snapUp(hi, step), step)
}

func newAxis(lo, hi, step float64) ValueAxis {
	return ValueAxis{Min: lo, Max: hi, Step: step, Ticks: valueTicks(lo, hi, step)}
}
