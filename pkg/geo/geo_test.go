package geo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airnav/pkg/geo"
)

var amsterdam = geo.Point{Lat: 52.3676, Lon: 4.9041}

func TestDistance(t *testing.T) {
	tests := []struct {
		name      string
		a, b      geo.Point
		expected  float64
		tolerance float64
	}{
		{"same point", amsterdam, amsterdam, 0, 0},
		{"Amsterdam to Utrecht", amsterdam, geo.Point{Lat: 52.0907, Lon: 5.1214}, 34000, 2000},
		{"one degree latitude", geo.Point{}, geo.Point{Lat: 1}, 111000, 1500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, geo.Distance(tt.a, tt.b), tt.tolerance)
		})
	}
}

func TestOffset_RoundTripsDistance(t *testing.T) {
	for _, bearing := range []float64{0, 45, 90, 180, 270} {
		p := geo.Offset(amsterdam, bearing, 750)
		assert.InDelta(t, 750, geo.Distance(amsterdam, p), 1, "bearing %v", bearing)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, amsterdam.Validate())
	assert.Error(t, geo.Point{Lat: 91}.Validate())
	assert.Error(t, geo.Point{Lon: -181}.Validate())
}

func TestProjectOnSegment(t *testing.T) {
	a := amsterdam
	b := geo.Offset(a, 90, 1000)
	mid := geo.Midpoint(a, b)

	dist, ratio := geo.ProjectOnSegment(mid, a, b)
	assert.InDelta(t, 0, dist, 1)
	assert.InDelta(t, 0.5, ratio, 0.01)

	off := geo.Offset(mid, 0, 200)
	dist, ratio = geo.ProjectOnSegment(off, a, b)
	assert.InDelta(t, 200, dist, 3)
	assert.InDelta(t, 0.5, ratio, 0.01)

	before := geo.Offset(a, 270, 300)
	dist, ratio = geo.ProjectOnSegment(before, a, b)
	assert.InDelta(t, 300, dist, 3)
	assert.Equal(t, 0.0, ratio)
}

func TestProjectOnSegment_Degenerate(t *testing.T) {
	p := geo.Offset(amsterdam, 0, 100)
	dist, ratio := geo.ProjectOnSegment(p, amsterdam, amsterdam)
	assert.InDelta(t, 100, dist, 1)
	assert.Equal(t, 0.0, ratio)
}

func TestLengthAndCumulative(t *testing.T) {
	points := []geo.Point{amsterdam, geo.Offset(amsterdam, 90, 400)}
	points = append(points, geo.Offset(points[1], 90, 600))

	assert.InDelta(t, 1000, geo.Length(points), 2)

	cum := geo.CumulativeLengths(points)
	require.Len(t, cum, 3)
	assert.Equal(t, 0.0, cum[0])
	assert.InDelta(t, 400, cum[1], 1)
	assert.InDelta(t, 1000, cum[2], 2)

	assert.Zero(t, geo.Length(nil))
	assert.Nil(t, geo.CumulativeLengths(nil))
}

func TestSample(t *testing.T) {
	points := []geo.Point{amsterdam, geo.Offset(amsterdam, 0, 3300)}

	sampled := geo.Sample(points, 500)
	require.GreaterOrEqual(t, len(sampled), 7)
	assert.Equal(t, points[0], sampled[0])
	assert.Equal(t, points[1], sampled[len(sampled)-1])

	assert.Nil(t, geo.Sample(nil, 500))
	assert.Equal(t, points, geo.Sample(points, 0))
}

func TestBound_ContainsCircle(t *testing.T) {
	minB, maxB := geo.Bound(amsterdam, 1000)
	assert.Less(t, minB[0], amsterdam.Lon)
	assert.Less(t, minB[1], amsterdam.Lat)
	assert.Greater(t, maxB[0], amsterdam.Lon)
	assert.Greater(t, maxB[1], amsterdam.Lat)

	north := geo.Offset(amsterdam, 0, 1000)
	assert.LessOrEqual(t, north.Lat, maxB[1]+1e-9)
}
