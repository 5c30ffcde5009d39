package processor

import (
	"context"
	"time"

	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/pkg/events"
)

// Service exposes the minimal contract the HTTP layer uses.
// Keep it small to decouple from implementation details.
// Why: improves testability; callers can mock this interface.
// NOTE: Extend carefully — prefer adding helper functions over expanding the surface.

type Service interface {
	Start()
	Stop(timeout time.Duration) error
	Submit(req RunRequest) error
	RunInline(ctx context.Context, runID string, records []models.Location, ov *Overrides) (*models.DedupReport, error)
	SetEventStore(es events.EventStore)
	GetStats() EngineStats
}

// Ensure Engine implements Service.
var _ Service = (*Engine)(nil)
