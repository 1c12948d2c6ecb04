package geo

import (
	"errors"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/telemetryrush/replay/pkg/core"
	"github.com/wroge/wgs84"
)

// Local positions use an east/up/north frame anchored at a reference
// coordinate. Distances are in meters multiplied by the reference scale.

// EarthRadius is the mean Earth radius in meters.
const EarthRadius = 6371000.0

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Local is a point in the local planar frame.
type Local struct {
	East  float64 `json:"east"`
	Up    float64 `json:"up"`
	North float64 `json:"north"`
}

// Reference anchors the local frame.
type Reference struct {
	Latitude  float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"lon" yaml:"lon" validate:"gte=-180,lte=180"`
	Scale     float64 `json:"scale" yaml:"scale" validate:"gte=0"`
}

// Transform converts geodetic coordinates to the local frame using an
// equirectangular approximation around the reference point. It is not safe
// for concurrent use.
type Transform struct {
	ref Reference
	set bool
}

// NewTransform returns a transform without a reference. The first
// coordinate passed to ToLocal becomes the reference.
func NewTransform() *Transform {
	return &Transform{}
}

// SetReference anchors the frame. A non-positive scale means 1.
func (t *Transform) SetReference(lat, lon, scale float64) error {
	if err := validate(lat, lon); err != nil {
		return err
	}
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = 1
	}
	t.ref = Reference{Latitude: lat, Longitude: lon, Scale: scale}
	t.set = true
	return nil
}

// HasReference reports whether the frame has been anchored.
func (t *Transform) HasReference() bool {
	return t.set
}

// Reference returns the current anchor.
func (t *Transform) Reference() (Reference, bool) {
	return t.ref, t.set
}

// ToLocal projects lat/lon/alt into the local frame. Without a reference
// the coordinate is adopted as the origin and the zero vector is returned.
func (t *Transform) ToLocal(lat, lon, alt float64) (Local, error) {
	if err := validate(lat, lon); err != nil {
		return Local{}, err
	}
	if !t.set {
		_ = t.SetReference(lat, lon, 1)
		return Local{}, nil
	}

	s := t.ref.Scale
	meanLat := radians((lat + t.ref.Latitude) / 2)
	dLat := radians(lat - t.ref.Latitude)
	dLon := radians(lon - t.ref.Longitude)

	return Local{
		East:  EarthRadius * math.Cos(meanLat) * dLon * s,
		Up:    alt * s,
		North: EarthRadius * dLat * s,
	}, nil
}

// ToGeo inverts ToLocal.
func (t *Transform) ToGeo(p Local) (core.Geodetic, error) {
	if !t.set {
		return core.Geodetic{}, errors.New("transform has no reference")
	}
	s := t.ref.Scale
	lat := t.ref.Latitude + degrees(p.North/s/EarthRadius)
	meanLat := radians((lat + t.ref.Latitude) / 2)
	cos := math.Cos(meanLat)
	if cos == 0 {
		return core.Geodetic{}, ErrInvalidCoordinates
	}
	lon := t.ref.Longitude + degrees(p.East/s/(EarthRadius*cos))
	return core.Geodetic{Latitude: lat, Longitude: lon, Altitude: p.Up / s}, nil
}

// Point returns the local position as a simplefeatures point, with X east,
// Y north and Z up.
func (p Local) Point() geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.East, Y: p.North},
		Z:    p.Up,
		Type: geom.CoordinatesType(geom.DimXYZ),
	})
}

// WebMercator projects a WGS84 coordinate to EPSG:3857 meters.
func WebMercator(lat, lon float64) (x, y float64, err error) {
	if err := validate(lat, lon); err != nil {
		return 0, 0, err
	}
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ = f(lon, lat, 0)
	return x, y, nil
}

func validate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return ErrInvalidCoordinates
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
