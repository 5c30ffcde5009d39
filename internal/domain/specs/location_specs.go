package specs

import (
	"context"
	"strings"

	"coffee-location-dedup/internal/models"
)

// HasCoordinates checks that a location carries usable coordinates.
// A record at exactly (0, 0) is treated as unset: scraped listings that
// never got geocoded arrive that way.
func HasCoordinates() Specification[models.Location] {
	return New(func(ctx context.Context, l models.Location) bool {
		if ctx.Err() != nil {
			return false
		}
		if l.Latitude == 0 && l.Longitude == 0 {
			return false
		}
		return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
	})
}

// HasAddress checks for a non-blank street address.
func HasAddress() Specification[models.Location] {
	return New(func(ctx context.Context, l models.Location) bool {
		if ctx.Err() != nil {
			return false
		}
		return l.Address != nil && strings.TrimSpace(*l.Address) != ""
	})
}

// NeedsGeocoding selects records that can be geocoded but have not been:
// an address is present, coordinates are not.
func NeedsGeocoding() Specification[models.Location] {
	return HasAddress().And(HasCoordinates().Not())
}

// HasAudience requires at least minFollowers on the record.
func HasAudience(minFollowers int) Specification[models.Location] {
	if minFollowers < 0 {
		minFollowers = 0
	}
	return New(func(ctx context.Context, l models.Location) bool {
		if ctx.Err() != nil {
			return false
		}
		return l.Followers != nil && *l.Followers >= minFollowers
	})
}

// HasRating requires a rating of at least min.
func HasRating(min float64) Specification[models.Location] {
	return New(func(ctx context.Context, l models.Location) bool {
		if ctx.Err() != nil {
			return false
		}
		return l.Rating != nil && *l.Rating >= min
	})
}

// IsPriceTrainable selects records the price regressor can learn from.
func IsPriceTrainable() Specification[models.Location] {
	return New(func(ctx context.Context, l models.Location) bool {
		if ctx.Err() != nil {
			return false
		}
		return l.PricePerSqm != nil && *l.PricePerSqm > 0
	})
}
