package models

import (
	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/weather"
)

// Weather is the current weather at a point.
type Weather struct {
	Point            Point                `json:"point"`
	Temperature      float64              `json:"temperature"`
	FeelsLike        float64              `json:"feelsLike"`
	Humidity         float64              `json:"humidity"`
	Pressure         float64              `json:"pressure"`
	WindSpeed        float64              `json:"windSpeed"`
	WindDirection    float64              `json:"windDirection"`
	WindGust         float64              `json:"windGust,omitempty"`
	WindCategory     weather.WindCategory `json:"windCategory"`
	DispersionFactor float64              `json:"dispersionFactor"`
	CloudCover       float64              `json:"cloudCover"`
	Visibility       float64              `json:"visibility"`
	Condition        weather.Condition    `json:"condition"`
	Description      string               `json:"description,omitempty"`
	ObservedAt       Timestamp            `json:"observedAt"`
}

// WeatherOf converts an observation.
func WeatherOf(o *weather.Observation) Weather {
	return Weather{
		Point:            PointOf(o.Point),
		Temperature:      o.Temperature,
		FeelsLike:        o.FeelsLike,
		Humidity:         o.Humidity,
		Pressure:         o.Pressure,
		WindSpeed:        o.WindSpeed,
		WindDirection:    o.WindDirection,
		WindGust:         o.WindGust,
		WindCategory:     o.WindCategory(),
		DispersionFactor: o.DispersionFactor(),
		CloudCover:       o.CloudCover,
		Visibility:       o.Visibility,
		Condition:        o.Condition,
		Description:      o.Description,
		ObservedAt:       Timestamp(o.ObservedAt),
	}
}

// WeatherHour is one hour of a weather forecast.
type WeatherHour struct {
	Time          Timestamp            `json:"time"`
	Temperature   float64              `json:"temperature"`
	FeelsLike     float64              `json:"feelsLike"`
	Humidity      float64              `json:"humidity"`
	WindSpeed     float64              `json:"windSpeed"`
	WindDirection float64              `json:"windDirection"`
	WindCategory  weather.WindCategory `json:"windCategory"`
	CloudCover    float64              `json:"cloudCover"`
	PrecipProb    float64              `json:"precipitationProbability"`
	Rain          float64              `json:"rain"`
	Condition     weather.Condition    `json:"condition"`
	Description   string               `json:"description,omitempty"`
}

// WeatherForecastResponse is the hourly weather forecast at a point.
type WeatherForecastResponse struct {
	Point  Point         `json:"point"`
	Hourly []WeatherHour `json:"hourly"`
}

// WeatherForecastOf converts the forecast hours.
func WeatherForecastOf(p Point, hours []weather.HourlyForecast) WeatherForecastResponse {
	out := WeatherForecastResponse{Point: p, Hourly: make([]WeatherHour, 0, len(hours))}
	for _, h := range hours {
		out.Hourly = append(out.Hourly, WeatherHour{
			Time:          Timestamp(h.Time),
			Temperature:   h.Temperature,
			FeelsLike:     h.FeelsLike,
			Humidity:      h.Humidity,
			WindSpeed:     h.WindSpeed,
			WindDirection: h.WindDirection,
			WindCategory:  weather.WindCategoryFor(h.WindSpeed),
			CloudCover:    h.CloudCover,
			PrecipProb:    h.PrecipProb,
			Rain:          h.Rain,
			Condition:     h.Condition,
			Description:   h.Description,
		})
	}
	return out
}

// AirHour is one hour of the air quality outlook.
type AirHour struct {
	Time           Timestamp                 `json:"time"`
	AQI            float64                   `json:"aqi"`
	Level          airquality.Level          `json:"level"`
	Concentrations airquality.Concentrations `json:"concentrations"`
}

// AirSummary summarizes the AQI over a forecast window.
type AirSummary struct {
	Average      float64          `json:"average"`
	Max          float64          `json:"max"`
	Min          float64          `json:"min"`
	AverageLevel airquality.Level `json:"averageLevel"`
	MaxLevel     airquality.Level `json:"maxLevel"`
	Hourly       []AirHour        `json:"hourly"`
}

// AirSummaryOf converts window statistics.
func AirSummaryOf(s weather.AirStats) *AirSummary {
	out := &AirSummary{
		Average:      s.Average,
		Max:          s.Max,
		Min:          s.Min,
		AverageLevel: airquality.LevelForAQI(s.Average),
		MaxLevel:     airquality.LevelForAQI(s.Max),
		Hourly:       make([]AirHour, 0, len(s.Hours)),
	}
	for _, h := range s.Hours {
		out.Hourly = append(out.Hourly, AirHour{
			Time:           Timestamp(h.Time),
			AQI:            h.AQI,
			Level:          airquality.LevelForAQI(h.AQI),
			Concentrations: h.Concentrations,
		})
	}
	return out
}

// AirForecastResponse is the air quality outlook at a point, split into the
// next 24 hours and the 24 hours after. Next48h is omitted when the outlook
// does not reach that far.
type AirForecastResponse struct {
	Point   Point       `json:"point"`
	Next24h *AirSummary `json:"next24h"`
	Next48h *AirSummary `json:"next48h,omitempty"`
}
