package openrouteservice

// orsRequest is the ORS directions request body.
type orsRequest struct {
	Coordinates       [][]float64            `json:"coordinates"`
	AlternativeRoutes *alternativeRoutesOpts `json:"alternative_routes,omitempty"`
	Instructions      bool                   `json:"instructions"`
	Geometry          bool                   `json:"geometry"`
	Units             string                 `json:"units"`
	Language          string                 `json:"language"`
}

type alternativeRoutesOpts struct {
	TargetCount  int     `json:"target_count"`
	ShareFactor  float64 `json:"share_factor,omitempty"`
	WeightFactor float64 `json:"weight_factor,omitempty"`
}

// orsResponse is the ORS directions response (JSON, encoded polyline geometry).
type orsResponse struct {
	Routes []orsRoute `json:"routes"`
	BBox   []float64  `json:"bbox,omitempty"`
}

type orsRoute struct {
	Summary   routeSummary   `json:"summary"`
	Segments  []routeSegment `json:"segments,omitempty"`
	BBox      []float64      `json:"bbox,omitempty"`
	Geometry  string         `json:"geometry"`
	WayPoints []int          `json:"way_points,omitempty"`
	Warnings  []routeWarning `json:"warnings,omitempty"`
}

type routeSummary struct {
	Distance float64 `json:"distance"` // meters
	Duration float64 `json:"duration"` // seconds
}

type routeSegment struct {
	Distance float64     `json:"distance"`
	Duration float64     `json:"duration"`
	Steps    []routeStep `json:"steps,omitempty"`
}

// routeStep is one instruction. WayPoints index into the decoded geometry.
type routeStep struct {
	Distance    float64 `json:"distance"`
	Duration    float64 `json:"duration"`
	Type        int     `json:"type"`
	Instruction string  `json:"instruction"`
	Name        string  `json:"name"`
	WayPoints   []int   `json:"way_points,omitempty"`
}

type routeWarning struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type orsErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Info string `json:"info,omitempty"`
}

// ORS error codes.
const (
	orsErrorCodeInvalidParam  = 2003
	orsErrorCodeNotFound      = 2009
	orsErrorCodePointNotFound = 2010
)
