// Package geo places frames from geodetic anchors. Positions are projected
// to Web Mercator (EPSG:3857) and turned into local east/north/up offsets.
package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// maxMercatorLat is the latitude limit of EPSG:3857.
const maxMercatorLat = 85.05112878

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Geodetic is a WGS84 position: degrees and meters above the ellipsoid.
type Geodetic struct {
	Longitude float64
	Latitude  float64
	Altitude  float64
}

// Validate checks the position can be projected.
func (g Geodetic) Validate() error {
	if math.IsNaN(g.Longitude) || math.IsNaN(g.Latitude) || math.IsNaN(g.Altitude) {
		return ErrInvalidCoordinates
	}
	if g.Longitude < -180 || g.Longitude > 180 {
		return ErrInvalidCoordinates
	}
	if g.Latitude < -maxMercatorLat || g.Latitude > maxMercatorLat {
		return ErrInvalidCoordinates
	}
	return nil
}

// ParseGeodetic parses "long,lat" or "long,lat,alt".
func ParseGeodetic(coords string) (Geodetic, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return Geodetic{}, ErrInvalidCoordinates
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Geodetic{}, ErrInvalidCoordinates
		}
		vals[i] = v
	}
	g := Geodetic{Longitude: vals[0], Latitude: vals[1], Altitude: vals[2]}
	if err := g.Validate(); err != nil {
		return Geodetic{}, err
	}
	return g, nil
}

// Project converts a geodetic position to an EPSG:3857 point carrying the
// altitude as Z.
func Project(g Geodetic) (geom.Point, error) {
	if err := g.Validate(); err != nil {
		return geom.NewEmptyPoint(geom.DimXYZ), err
	}
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := f(g.Longitude, g.Latitude, 0)
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: x, Y: y},
			Z:    g.Altitude,
			Type: geom.DimXYZ,
		},
	), nil
}

// Offset returns the translation from origin to target in meters: X east,
// Y north, Z up. Mercator distances are scaled by the origin's latitude,
// which is accurate for the short baselines of a robot workspace.
func Offset(origin, target Geodetic) (core.Vector3, error) {
	o, err := Project(origin)
	if err != nil {
		return core.Vector3{}, err
	}
	t, err := Project(target)
	if err != nil {
		return core.Vector3{}, err
	}
	oc, _ := o.Coordinates()
	tc, _ := t.Coordinates()

	scale := math.Cos(origin.Latitude * math.Pi / 180)
	return core.Vector3{
		X: (tc.XY.X - oc.XY.X) * scale,
		Y: (tc.XY.Y - oc.XY.Y) * scale,
		Z: tc.Z - oc.Z,
	}, nil
}
