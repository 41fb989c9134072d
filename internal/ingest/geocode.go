package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lox/forecastbot/internal/models"
)

// ErrNoResults means the geocoder found no place for the query.
var ErrNoResults = errors.New("no geocoding results")

// Place is a geocoding match.
type Place struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Elevation   *float64 `json:"elevation"`
	FeatureCode string   `json:"feature_code"`
	CountryCode string   `json:"country_code"`
	Country     string   `json:"country"`
	Population  *int64   `json:"population"`
	Timezone    string   `json:"timezone"`
}

// Location converts the match into a named location.
func (p Place) Location() models.Location {
	return models.NamedLocation(p.Name, p.Country, p.FeatureCode, p.Latitude, p.Longitude)
}

type geocodeResponse struct {
	Results []Place `json:"results"`
}

// Geocode returns the best match for a free-text place name.
func (c *Client) Geocode(ctx context.Context, name string) (*Place, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNoResults
	}

	q := url.Values{}
	q.Set("name", name)
	q.Set("count", "1")
	q.Set("format", "json")

	var data geocodeResponse
	if err := c.getJSON(ctx, "geocode", c.cfg.GeocodeURL, q, &data); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", name, err)
	}
	if len(data.Results) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoResults, name)
	}

	place := data.Results[0]
	if place.FeatureCode == "" {
		// Open-Meteo omits the code for some entries; a named location must carry one.
		place.FeatureCode = "PPL"
	}
	return &place, nil
}

// Resolve interprets a free-form location argument: coordinates in decimal
// or DMS form are used as given, anything else is geocoded.
func (c *Client) Resolve(ctx context.Context, arg string) (models.Location, error) {
	if coords, err := models.ParseCoordinates(arg); err == nil {
		return models.CoordinatesLocation(coords.Latitude, coords.Longitude), nil
	}
	place, err := c.Geocode(ctx, arg)
	if err != nil {
		return models.Location{}, err
	}
	return place.Location(), nil
}
