package specs

import (
	"context"
	"os"
	"strconv"

	"coffee-location-dedup/internal/models"
)

// GeocodeRuleOptions controls which records the enrichment pass geocodes.
// Sourced from environment to keep it simple and avoid touching global config wiring.
// ENV vars (with defaults):
//  SPEC_GEOCODE_MIN_FOLLOWERS (0)
//  SPEC_GEOCODE_REQUIRE_RATING (false)
//  SPEC_GEOCODE_MIN_RATING (0)

type GeocodeRuleOptions struct {
	MinFollowers  int
	RequireRating bool
	MinRating     float64
}

func defaultOpts() GeocodeRuleOptions {
	return GeocodeRuleOptions{MinFollowers: 0, RequireRating: false, MinRating: 0}
}

func optsFromEnv() GeocodeRuleOptions {
	o := defaultOpts()
	if v := os.Getenv("SPEC_GEOCODE_MIN_FOLLOWERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.MinFollowers = n
		}
	}
	if v := os.Getenv("SPEC_GEOCODE_REQUIRE_RATING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			o.RequireRating = b
		}
	}
	if v := os.Getenv("SPEC_GEOCODE_MIN_RATING"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			o.MinRating = f
		}
	}
	return o
}

// BuildGeocodeSpecFromEnv builds the composite spec deciding which records
// are worth a geocoding call: they must need one, and optionally clear an
// audience or rating bar so quota is not spent on dead listings.
func BuildGeocodeSpecFromEnv() Specification[models.Location] {
	o := optsFromEnv()

	spec := NeedsGeocoding()
	if o.MinFollowers > 0 {
		spec = spec.And(HasAudience(o.MinFollowers))
	}
	if o.RequireRating {
		spec = spec.And(HasRating(o.MinRating))
	}
	return spec
}

// Evaluate evaluates a spec with the provided context.
// Keeping it simple: callers should pass their request or processing ctx.
func Evaluate[T any](ctx context.Context, s Specification[T], v T) bool {
	return s.IsSatisfiedBy(ctx, v)
}
