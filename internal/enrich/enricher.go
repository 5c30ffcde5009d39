package enrich

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"coffee-location-dedup/internal/domain/specs"
	"coffee-location-dedup/internal/models"
)

// Enricher backfills missing coordinates before detection. Which records are
// eligible is decided by the geocode specification, so operators can tighten
// it per deployment without a code change.
type Enricher struct {
	resolver CoordinateResolver
	spec     specs.Specification[models.Location]
	log      zerolog.Logger
}

func New(resolver CoordinateResolver, log zerolog.Logger) *Enricher {
	return &Enricher{
		resolver: resolver,
		spec:     specs.BuildGeocodeSpecFromEnv(),
		log:      log.With().Str("component", "enricher").Logger(),
	}
}

// Enrich resolves coordinates in place for every eligible record and returns
// how many it filled. Failures are logged and skipped; records left without
// coordinates are dropped later by input validation.
func (e *Enricher) Enrich(ctx context.Context, locations []models.Location) (int, error) {
	resolved := 0
	for i := range locations {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		l := &locations[i]
		if !e.spec.IsSatisfiedBy(ctx, *l) {
			continue
		}

		coords, err := e.resolver.Resolve(ctx, strings.TrimSpace(*l.Address))
		if err != nil {
			e.log.Warn().Err(err).Int64("location_id", l.ID).Str("name", l.Name).Msg("geocode failed, record kept as-is")
			continue
		}

		l.Latitude = coords.Latitude
		l.Longitude = coords.Longitude
		resolved++
		e.log.Debug().Int64("location_id", l.ID).Float64("lat", coords.Latitude).Float64("lon", coords.Longitude).Msg("coordinates resolved")
	}
	return resolved, nil
}
