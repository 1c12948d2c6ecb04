// Package track loads the circuit definition: its length, the origin of
// the local frame and an optional centerline.
package track

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	geom "github.com/peterstace/simplefeatures/geom"
	"gopkg.in/yaml.v3"

	"github.com/telemetryrush/replay/internal/geo"
)

// Sector marks where a timing sector begins, in meters from the line.
type Sector struct {
	Number int     `yaml:"number" validate:"gte=1"`
	Start  float64 `yaml:"start" validate:"gte=0"`
}

// Track is a circuit definition. Centerline points are [lat, lon] pairs.
type Track struct {
	Name       string         `yaml:"name" validate:"required"`
	Length     float64        `yaml:"length" validate:"gte=0"`
	Origin     *geo.Reference `yaml:"origin"`
	Sectors    []Sector       `yaml:"sectors" validate:"dive"`
	Centerline [][]float64    `yaml:"centerline" validate:"omitempty,min=2,dive,len=2"`
}

var validate = validator.New()

// Load reads and validates a YAML track file.
func Load(path string) (*Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading track file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates a YAML track definition.
func Parse(data []byte) (*Track, error) {
	var t Track
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding track: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	sort.SliceStable(t.Sectors, func(i, j int) bool { return t.Sectors[i].Start < t.Sectors[j].Start })
	return &t, nil
}

// Validate checks field constraints and that the track has a length
// source.
func (t *Track) Validate() error {
	if err := validate.Struct(t); err != nil {
		return err
	}
	if t.Origin != nil {
		if err := validate.Struct(t.Origin); err != nil {
			return err
		}
	}
	if t.Length == 0 && len(t.Centerline) == 0 {
		return errors.New("track needs a length or a centerline")
	}
	return nil
}

// Anchor sets the transform's reference to the track origin, or to the
// first centerline point when no origin is given.
func (t *Track) Anchor(tr *geo.Transform) error {
	switch {
	case t.Origin != nil:
		return tr.SetReference(t.Origin.Latitude, t.Origin.Longitude, t.Origin.Scale)
	case len(t.Centerline) > 0:
		return tr.SetReference(t.Centerline[0][0], t.Centerline[0][1], 1)
	}
	return nil
}

// Path projects the centerline into the transform's frame. It returns nil
// without error when the track has no centerline.
func (t *Track) Path(tr *geo.Transform) (*geo.Polyline, error) {
	if len(t.Centerline) == 0 {
		return nil, nil
	}
	if !tr.HasReference() {
		if err := t.Anchor(tr); err != nil {
			return nil, err
		}
	}
	pts := make([]geom.XY, len(t.Centerline))
	for i, c := range t.Centerline {
		p, err := tr.ToLocal(c[0], c[1], 0)
		if err != nil {
			return nil, fmt.Errorf("centerline point %d: %w", i, err)
		}
		pts[i] = geom.XY{X: p.East, Y: p.North}
	}
	return geo.NewPolyline(pts)
}

// PathLength is the configured length, or the centerline perimeter when no
// length is configured.
func (t *Track) PathLength(path *geo.Polyline) float64 {
	if t.Length > 0 || path == nil {
		return t.Length
	}
	return path.Length()
}

// SectorAt returns the number of the sector containing distance d, or 0
// when the track has no sectors.
func (t *Track) SectorAt(d float64) int {
	n := 0
	for _, s := range t.Sectors {
		if d < s.Start {
			break
		}
		n = s.Number
	}
	if n == 0 && len(t.Sectors) > 0 {
		// before the first marker belongs to the last sector of the lap
		n = t.Sectors[len(t.Sectors)-1].Number
	}
	return n
}
