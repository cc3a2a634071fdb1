package airquality

// Fusion weights and confidences.
const (
	SatelliteWeight = 0.3
	GroundWeight    = 0.7

	SatelliteOnlyConfidence = 0.70
	FusedConfidence         = 0.95
)

// Fuse combines a satellite-style estimate with zero or more ground readings.
// Without ground data the estimate is returned as-is with confidence 0.70;
// otherwise each pollutant is 0.3·S + 0.7·mean(G) with confidence 0.95.
// The fused AQI is bounded to [0, 500].
func Fuse(satellite Reading, ground []Reading) (Reading, float64) {
	if len(ground) == 0 {
		satellite.AQI = ClampAQI(satellite.AQI)
		return satellite, SatelliteOnlyConfidence
	}

	var aqi, pm25, pm10 float64
	var pm25n, pm10n int
	for _, g := range ground {
		aqi += g.AQI
		if g.PM25 > 0 {
			pm25 += g.PM25
			pm25n++
		}
		if g.PM10 > 0 {
			pm10 += g.PM10
			pm10n++
		}
	}
	n := float64(len(ground))

	fused := satellite
	fused.AQI = ClampAQI(blend(satellite.AQI, aqi/n))
	if pm25n > 0 {
		fused.PM25 = blend(satellite.PM25, pm25/float64(pm25n))
	}
	if pm10n > 0 {
		fused.PM10 = blend(satellite.PM10, pm10/float64(pm10n))
	}
	fused.Source = "fused"

	for _, g := range ground {
		if g.CapturedAt.After(fused.CapturedAt) {
			fused.CapturedAt = g.CapturedAt
		}
	}
	return fused, FusedConfidence
}

// FuseAQI applies the fusion rule to bare AQI values.
func FuseAQI(satellite float64, ground []float64) (float64, float64) {
	if len(ground) == 0 {
		return ClampAQI(satellite), SatelliteOnlyConfidence
	}
	var sum float64
	for _, g := range ground {
		sum += g
	}
	return ClampAQI(blend(satellite, sum/float64(len(ground)))), FusedConfidence
}

func blend(satellite, groundMean float64) float64 {
	return SatelliteWeight*satellite + GroundWeight*groundMean
}
