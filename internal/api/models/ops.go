package models

// Health is the body of GET /v1/ops/health.
type Health struct {
	Status    HealthStatus     `json:"status"`
	Time      Timestamp        `json:"time"`
	Version   string           `json:"version,omitempty"`
	BuildTime string           `json:"buildTime,omitempty"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Grid      *GridStatus      `json:"grid,omitempty"`
	Sessions  int              `json:"sessions"`
}

// ProviderStatus is the health of an external provider.
type ProviderStatus struct {
	Provider      string       `json:"provider"`
	Status        HealthStatus `json:"status"`
	CircuitState  string       `json:"circuitState"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       string       `json:"message,omitempty"`
}

// GridStatus describes the current air quality grid.
type GridStatus struct {
	Version   uint64    `json:"version"`
	Zones     int       `json:"zones"`
	Anchor    Point     `json:"anchor"`
	CreatedAt Timestamp `json:"createdAt"`
	Degraded  bool      `json:"degraded"`
}
