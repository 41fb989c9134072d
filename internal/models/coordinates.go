package models

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrBadCoordinates = errors.New("unrecognised coordinates")

var (
	decimalPattern = regexp.MustCompile(`^\s*([-+]?\d+(?:\.\d+)?)\s*(?:,\s*|\s+)([-+]?\d+(?:\.\d+)?)\s*$`)

	// 48°51'24"N 2°21'3"E, minutes and seconds optional.
	dmsPart    = `(\d+(?:\.\d+)?)\s*°\s*(?:(\d+(?:\.\d+)?)\s*['′]\s*)?(?:(\d+(?:\.\d+)?)\s*(?:"|″|'')\s*)?([NSEWnsew])`
	dmsPattern = regexp.MustCompile(`^\s*` + dmsPart + `[\s,]*` + dmsPart + `\s*$`)
)

// ParseCoordinates accepts "lat, lon" decimal degrees or a degrees/minutes/
// seconds pair with hemisphere letters in either order.
func ParseCoordinates(s string) (Coordinates, error) {
	if m := decimalPattern.FindStringSubmatch(s); m != nil {
		lat, _ := strconv.ParseFloat(m[1], 64)
		lon, _ := strconv.ParseFloat(m[2], 64)
		return checkCoordinates(Coordinates{Latitude: lat, Longitude: lon})
	}

	m := dmsPattern.FindStringSubmatch(s)
	if m == nil {
		return Coordinates{}, fmt.Errorf("%w: %q", ErrBadCoordinates, s)
	}

	first, firstHemi := dmsValue(m[1], m[2], m[3], m[4])
	second, secondHemi := dmsValue(m[5], m[6], m[7], m[8])

	var c Coordinates
	switch {
	case isLatitude(firstHemi) && !isLatitude(secondHemi):
		c = Coordinates{Latitude: first, Longitude: second}
	case !isLatitude(firstHemi) && isLatitude(secondHemi):
		c = Coordinates{Latitude: second, Longitude: first}
	default:
		return Coordinates{}, fmt.Errorf("%w: need one N/S and one E/W component in %q", ErrBadCoordinates, s)
	}
	return checkCoordinates(c)
}

func dmsValue(deg, min, sec, hemi string) (float64, byte) {
	d, _ := strconv.ParseFloat(deg, 64)
	if min != "" {
		m, _ := strconv.ParseFloat(min, 64)
		d += m / 60
	}
	if sec != "" {
		s, _ := strconv.ParseFloat(sec, 64)
		d += s / 3600
	}
	h := strings.ToUpper(hemi)[0]
	if h == 'S' || h == 'W' {
		d = -d
	}
	return d, h
}

func isLatitude(h byte) bool {
	return h == 'N' || h == 'S'
}

func checkCoordinates(c Coordinates) (Coordinates, error) {
	if err := Validate(CoordinatesLocation(c.Latitude, c.Longitude)); err != nil {
		return Coordinates{}, fmt.Errorf("%w: %v", ErrBadCoordinates, err)
	}
	return c, nil
}
