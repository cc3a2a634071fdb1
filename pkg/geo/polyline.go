package geo

import (
	"math"
)

// DefaultPrecision is the coordinate precision used by Google and OpenRouteService
// encoded polylines (5 decimal places).
const DefaultPrecision = 5

// Decode decodes an encoded polyline at the default precision.
// The algorithm is documented at https://developers.google.com/maps/documentation/utilities/polylinealgorithm
func Decode(encoded string) []Point {
	return DecodePrecision(encoded, DefaultPrecision)
}

// DecodePrecision decodes an encoded polyline whose coordinates carry
// the given number of decimal places (5 for ORS/Google, 6 for OSRM/Valhalla).
func DecodePrecision(encoded string, precision int) []Point {
	if encoded == "" {
		return nil
	}
	factor := math.Pow10(precision)

	var points []Point
	index, lat, lon := 0, 0, 0

	for index < len(encoded) {
		var delta int

		delta, index = decodeValue(encoded, index)
		lat += delta

		delta, index = decodeValue(encoded, index)
		lon += delta

		points = append(points, Point{
			Lat: float64(lat) / factor,
			Lon: float64(lon) / factor,
		})
	}

	return points
}

// decodeValue reads one zigzag-encoded varint starting at index and returns
// the value together with the index of the next unread byte.
func decodeValue(encoded string, index int) (int, int) {
	shift, result := 0, 0

	for index < len(encoded) {
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index
	}
	return result >> 1, index
}

// Encode encodes points as a polyline at the default precision.
func Encode(points []Point) string {
	if len(points) == 0 {
		return ""
	}
	factor := math.Pow10(DefaultPrecision)

	buf := make([]byte, 0, len(points)*4)
	prevLat, prevLon := 0, 0

	for _, p := range points {
		lat := int(math.Round(p.Lat * factor))
		lon := int(math.Round(p.Lon * factor))

		buf = encodeValue(buf, lat-prevLat)
		buf = encodeValue(buf, lon-prevLon)

		prevLat, prevLon = lat, lon
	}

	return string(buf)
}

func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	return append(buf, byte(value)+63)
}
