package ingest

import (
	"math"

	"github.com/lox/forecastbot/internal/metrics"
	"github.com/lox/forecastbot/internal/models"
)

type sampleRange struct {
	min, max float64
}

// plausible bounds per channel, in the units the client requests.
var plausible = map[models.ChannelKind]sampleRange{
	models.ChannelTemperature:       {-90, 60},
	models.ChannelApparent:          {-100, 70},
	models.ChannelHumidity:          {0, 100},
	models.ChannelPrecipProbability: {0, 100},
	models.ChannelPrecipitation:     {0, 500},
	models.ChannelWindSpeed:         {0, 150},
	models.ChannelWindGust:          {0, 150},
	models.ChannelUV:                {0, 25},
	models.ChannelUVClearSky:        {0, 25},

	models.ChannelSoilMoisture0To1:   {0, 100},
	models.ChannelSoilMoisture1To3:   {0, 100},
	models.ChannelSoilMoisture3To9:   {0, 100},
	models.ChannelSoilMoisture9To27:  {0, 100},
	models.ChannelSoilMoisture27To81: {0, 100},

	models.ChannelTemperatureMax:        {-90, 60},
	models.ChannelTemperatureMin:        {-90, 60},
	models.ChannelApparentMax:           {-100, 70},
	models.ChannelApparentMin:           {-100, 70},
	models.ChannelPrecipitationSum:      {0, 2000},
	models.ChannelPrecipProbabilityMin:  {0, 100},
	models.ChannelPrecipProbabilityMean: {0, 100},
	models.ChannelPrecipProbabilityMax:  {0, 100},
	models.ChannelWindSpeedMax:          {0, 150},
	models.ChannelWindGustMax:           {0, 150},
	models.ChannelUVMax:                 {0, 25},
	models.ChannelUVClearSkyMax:         {0, 25},
}

// ValidateSeries blanks samples outside their channel's plausible range so
// they render as gaps, and returns how many were rejected per channel.
func ValidateSeries(s *models.ForecastSeries) map[models.ChannelKind]int {
	rejected := make(map[models.ChannelKind]int)
	for ci := range s.Channels {
		ch := &s.Channels[ci]
		r, ok := plausible[ch.Kind]
		if !ok {
			continue
		}
		for i, v := range ch.Values {
			if math.IsNaN(v) {
				continue
			}
			if math.IsInf(v, 0) || v < r.min || v > r.max {
				ch.Values[i] = math.NaN()
				rejected[ch.Kind]++
			}
		}
	}
	for kind, n := range rejected {
		metrics.ForecastSamplesRejected.WithLabelValues(string(kind)).Add(float64(n))
	}
	return rejected
}
