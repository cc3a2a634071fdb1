package incident

import (
	"context"
	"time"
)

// Repository defines incident persistence.
type Repository interface {
	// Get retrieves an incident by ID.
	Get(ctx context.Context, id string) (*Incident, error)

	// Active returns every incident that has not expired at now.
	Active(ctx context.Context, now time.Time) ([]Incident, error)

	// Upsert creates or replaces an incident.
	Upsert(ctx context.Context, incident *Incident) error

	// Delete removes an incident. Deleting a missing incident is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes incidents that expired before now and returns how
	// many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
