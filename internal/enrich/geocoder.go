package enrich

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/pkg/circuit"
	errs "coffee-location-dedup/pkg/errors"
	"coffee-location-dedup/pkg/metrics"
)

// Coordinates is a resolved point.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CoordinateResolver turns a street address into coordinates.
type CoordinateResolver interface {
	Resolve(ctx context.Context, address string) (*Coordinates, error)
}

// GoogleGeocoder resolves addresses through the Google Maps Geocoding API,
// rate limited client-side and guarded by a circuit breaker so a stuck
// upstream cannot stall a whole run.
type GoogleGeocoder struct {
	client  *maps.Client
	rl      *rate.Limiter
	breaker *circuit.Breaker
	log     zerolog.Logger
}

func NewGoogleGeocoder(apiKey string, rps int, log zerolog.Logger) (*GoogleGeocoder, error) {
	if apiKey == "" {
		return nil, errs.NewValidation("enrich.NewGoogleGeocoder", "API key is required", nil)
	}
	if rps <= 0 {
		rps = 5
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, errs.NewExternal("enrich.NewGoogleGeocoder", "googlemaps", "failed to create client", err)
	}

	breaker := circuit.New(circuit.Config{
		Name:              "geocoder",
		OperationTimeout:  constants.GeocoderOperationTimeout,
		OpenFor:           constants.GeocoderOpenFor,
		MaxConsecFailures: 5,
		WindowSize:        20,
		FailureRate:       0.5,
		SlowCallThreshold: constants.GeocoderSlowCallThreshold,
		SlowCallRate:      0.8,
	}, log)

	return &GoogleGeocoder{
		client:  client,
		rl:      rate.NewLimiter(rate.Limit(rps), rps),
		breaker: breaker,
		log:     log.With().Str("component", "geocoder").Logger(),
	}, nil
}

var _ CoordinateResolver = (*GoogleGeocoder)(nil)

func (g *GoogleGeocoder) Resolve(ctx context.Context, address string) (*Coordinates, error) {
	if address == "" {
		return nil, errs.NewValidation("enrich.Resolve", "address is empty", nil)
	}
	if err := g.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var out *Coordinates
	start := time.Now()
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return errs.ErrNotFound
		}
		loc := results[0].Geometry.Location
		out = &Coordinates{Latitude: loc.Lat, Longitude: loc.Lng}
		return nil
	}, nil)

	status := 200
	if err != nil {
		status = 502
	}
	metrics.ObserveExternal("googlemaps", "geocode", status, time.Since(start))

	if err != nil {
		return nil, errs.NewExternal("enrich.Resolve", "googlemaps", "geocode failed", err)
	}
	return out, nil
}
