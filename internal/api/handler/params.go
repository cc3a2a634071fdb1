package handler

import (
	"net/http"
	"strconv"

	"github.com/breatheroute/airnav/internal/api/models"
)

// queryPoint reads the lat and lon query parameters.
func queryPoint(r *http.Request) (models.Point, []models.FieldError) {
	var errs []models.FieldError
	lat, err := queryFloat(r, "lat", -90, 90)
	if err != nil {
		errs = append(errs, *err)
	}
	lon, err := queryFloat(r, "lon", -180, 180)
	if err != nil {
		errs = append(errs, *err)
	}
	return models.Point{Lat: lat, Lon: lon}, errs
}

func queryFloat(r *http.Request, name string, lo, hi float64) (float64, *models.FieldError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, &models.FieldError{Field: name, Message: "is required", Code: "REQUIRED"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &models.FieldError{Field: name, Message: "must be a number", Code: "INVALID"}
	}
	if v < lo || v > hi {
		return 0, &models.FieldError{Field: name, Message: "out of range", Code: "OUT_OF_RANGE"}
	}
	return v, nil
}

// queryFloatOr reads an optional float parameter.
func queryFloatOr(r *http.Request, name string, def, lo, hi float64) (float64, *models.FieldError) {
	if r.URL.Query().Get(name) == "" {
		return def, nil
	}
	return queryFloat(r, name, lo, hi)
}
