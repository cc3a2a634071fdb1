// Package geo provides the geographic primitives shared by the grid, scorer and
// navigation engine: points, great-circle distances, segment projection and
// encoded polylines. Distances are computed with paulmach/orb.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Orb converts p to an orb.Point (lon, lat order).
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// FromOrb converts an orb.Point to a Point.
func FromOrb(p orb.Point) Point {
	return Point{Lat: p.Lat(), Lon: p.Lon()}
}

// Validate checks that p lies within valid latitude and longitude ranges.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", p.Lat)
	}
	if math.IsNaN(p.Lon) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", p.Lon)
	}
	return nil
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	return orbgeo.DistanceHaversine(a.Orb(), b.Orb())
}

// Offset returns the point reached by travelling meters from p along bearing
// (degrees clockwise from north).
func Offset(p Point, bearing, meters float64) Point {
	return FromOrb(orbgeo.PointAtBearingAndDistance(p.Orb(), bearing, meters))
}

// Midpoint returns the linear midpoint of a and b. Adequate for the short
// segments found in route polylines.
func Midpoint(a, b Point) Point {
	return Interpolate(a, b, 0.5)
}

// Interpolate returns the point at fraction f (0..1) along the straight line a→b.
func Interpolate(a, b Point, f float64) Point {
	return Point{
		Lat: a.Lat + f*(b.Lat-a.Lat),
		Lon: a.Lon + f*(b.Lon-a.Lon),
	}
}

// Bound returns the [min, max] lon/lat box enclosing a circle of radius meters
// around p, in the layout expected by tidwall/rtree.
func Bound(p Point, meters float64) (minB, maxB [2]float64) {
	b := orbgeo.NewBoundAroundPoint(p.Orb(), meters)
	return [2]float64{b.Min.Lon(), b.Min.Lat()}, [2]float64{b.Max.Lon(), b.Max.Lat()}
}

const degToMeters = math.Pi / 180 * orb.EarthRadius

// ProjectOnSegment returns the distance in meters from p to the segment a→b
// and the projection ratio along the segment, clamped to [0, 1].
// It works in an equirectangular projection, which is accurate for the
// sub-kilometre segments produced by routing providers.
func ProjectOnSegment(p, a, b Point) (dist, ratio float64) {
	cosLat := math.Cos((a.Lat + b.Lat) / 2 * math.Pi / 180)

	ax, ay := a.Lon*cosLat, a.Lat
	bx, by := b.Lon*cosLat, b.Lat
	px, py := p.Lon*cosLat, p.Lat

	if a == b {
		return Distance(p, a), 0
	}

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy

	var t float64
	if lenSq > 0 {
		t = ((px-ax)*dx + (py-ay)*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}

	ex := px - (ax + t*dx)
	ey := py - (ay + t*dy)
	return math.Sqrt(ex*ex+ey*ey) * degToMeters, t
}

// Length returns the total length of a polyline in meters.
func Length(points []Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

// CumulativeLengths returns, for every vertex, the distance travelled along
// the polyline from its first vertex. The last element equals Length(points).
func CumulativeLengths(points []Point) []float64 {
	if len(points) == 0 {
		return nil
	}
	cum := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		cum[i] = cum[i-1] + Distance(points[i-1], points[i])
	}
	return cum
}

// Sample returns points spaced roughly intervalMeters apart along the polyline,
// always keeping the first and last vertex.
func Sample(points []Point, intervalMeters float64) []Point {
	if len(points) == 0 {
		return nil
	}
	if intervalMeters <= 0 {
		return points
	}

	sampled := []Point{points[0]}
	accumulated := 0.0

	for i := 1; i < len(points); i++ {
		start := points[i-1]
		segment := Distance(start, points[i])
		walked := 0.0

		for accumulated+(segment-walked) >= intervalMeters {
			walked += intervalMeters - accumulated
			sampled = append(sampled, Interpolate(start, points[i], walked/segment))
			accumulated = 0
		}
		accumulated += segment - walked
	}

	if last := points[len(points)-1]; sampled[len(sampled)-1] != last {
		sampled = append(sampled, last)
	}
	return sampled
}
