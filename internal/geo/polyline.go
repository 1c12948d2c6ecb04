package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	geom "github.com/peterstace/simplefeatures/geom"
)

// Pose is a position on a path with the direction of travel in degrees,
// clockwise from north.
type Pose struct {
	East    float64 `json:"east"`
	North   float64 `json:"north"`
	Heading float64 `json:"heading"`
}

// Polyline is a closed racing line in the local frame. X is east and Y is
// north.
type Polyline struct {
	line geom.LineString
	pts  []geom.XY
	cum  []float64
}

// NewPolyline builds a closed path through pts. The loop is closed
// automatically when the last point differs from the first.
func NewPolyline(pts []geom.XY) (*Polyline, error) {
	if len(pts) < 2 {
		return nil, fmt.Errorf("polyline must have at least 2 points, got %d", len(pts))
	}
	closed := make([]geom.XY, 0, len(pts)+1)
	closed = append(closed, pts...)
	if pts[0] != pts[len(pts)-1] {
		closed = append(closed, pts[0])
	}

	flatCoords := make([]float64, 0, len(closed)*2)
	cum := make([]float64, len(closed))
	for i, pt := range closed {
		flatCoords = append(flatCoords, pt.X, pt.Y)
		if i > 0 {
			cum[i] = cum[i-1] + math.Hypot(pt.X-closed[i-1].X, pt.Y-closed[i-1].Y)
		}
	}
	if cum[len(cum)-1] == 0 {
		return nil, fmt.Errorf("polyline has zero length")
	}

	seq := geom.NewSequence(flatCoords, geom.DimXY)
	return &Polyline{line: geom.NewLineString(seq), pts: closed, cum: cum}, nil
}

// ParsePolyline parses a JSON array of local coordinates.
// Input format: "[[east1,north1],[east2,north2],...]"
func ParsePolyline(input string) (*Polyline, error) {
	var coords [][]float64
	if err := json.Unmarshal([]byte(input), &coords); err != nil {
		return nil, fmt.Errorf("failed to parse polyline JSON: %w", err)
	}

	pts := make([]geom.XY, len(coords))
	for i, coord := range coords {
		if len(coord) < 2 {
			return nil, fmt.Errorf("coordinate %d has insufficient values", i)
		}
		pts[i] = geom.XY{X: coord[0], Y: coord[1]}
	}
	return NewPolyline(pts)
}

// Length is the perimeter of the closed path.
func (p *Polyline) Length() float64 {
	return p.line.Length()
}

// LineString exposes the underlying geometry.
func (p *Polyline) LineString() geom.LineString {
	return p.line
}

// PoseAt returns the pose at distance d along the path. Distances outside
// [0, Length) wrap around.
func (p *Polyline) PoseAt(d float64) Pose {
	total := p.cum[len(p.cum)-1]
	d = math.Mod(d, total)
	if d < 0 {
		d += total
	}

	// first vertex whose cumulative distance exceeds d
	i := sort.SearchFloat64s(p.cum, d)
	if i < len(p.cum) && p.cum[i] == d {
		i++
	}
	if i <= 0 {
		i = 1
	}
	if i >= len(p.cum) {
		i = len(p.cum) - 1
	}

	a, b := p.pts[i-1], p.pts[i]
	seg := p.cum[i] - p.cum[i-1]
	frac := 0.0
	if seg > 0 {
		frac = (d - p.cum[i-1]) / seg
	}

	heading := math.Atan2(b.X-a.X, b.Y-a.Y) * 180 / math.Pi
	if heading < 0 {
		heading += 360
	}
	return Pose{
		East:    a.X + (b.X-a.X)*frac,
		North:   a.Y + (b.Y-a.Y)*frac,
		Heading: heading,
	}
}
