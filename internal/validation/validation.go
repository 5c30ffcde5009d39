package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"coffee-location-dedup/internal/models"
	errs "coffee-location-dedup/pkg/errors"
)

// Reason codes attached to skipped records.
const (
	CodeMissingName        = "missing_name"
	CodeInvalidCoordinates = "invalid_coordinates"
	CodeInvalidRating      = "invalid_rating"
	CodeInvalidFollowers   = "invalid_followers"
	CodeDuplicateID        = "duplicate_id"
)

// Check validates a record against the input contract: a non-blank name and
// a coordinate pair inside WGS84 bounds. Optional fields are checked only
// when present. Returns *errs.InvalidRecordError naming the offending field,
// nil when the record is usable.
func Check(loc models.Location) error {
	if strings.TrimSpace(loc.Name) == "" {
		return errs.NewInvalidRecord(loc.ID, "name", "must not be empty")
	}
	if !finite(loc.Latitude) || loc.Latitude < -90 || loc.Latitude > 90 {
		return errs.NewInvalidRecord(loc.ID, "latitude", fmt.Sprintf("%v outside [-90, 90]", loc.Latitude))
	}
	if !finite(loc.Longitude) || loc.Longitude < -180 || loc.Longitude > 180 {
		return errs.NewInvalidRecord(loc.ID, "longitude", fmt.Sprintf("%v outside [-180, 180]", loc.Longitude))
	}
	if loc.Rating != nil && (!finite(*loc.Rating) || *loc.Rating < 0 || *loc.Rating > 5) {
		return errs.NewInvalidRecord(loc.ID, "rating", fmt.Sprintf("%v outside [0, 5]", *loc.Rating))
	}
	if loc.Followers != nil && *loc.Followers < 0 {
		return errs.NewInvalidRecord(loc.ID, "followers", fmt.Sprintf("%d is negative", *loc.Followers))
	}
	return nil
}

// Reason maps a Check error to the reason reported on the skipped record.
func Reason(err error) models.SkipReason {
	var ir *errs.InvalidRecordError
	if errors.As(err, &ir) {
		return models.SkipReason{Code: codeForField(ir.Field), Description: ir.Error()}
	}
	return models.SkipReason{Code: "invalid_record", Description: err.Error()}
}

// DuplicateID is the reason for a record whose id already appeared earlier
// in the same batch; the first occurrence is kept.
func DuplicateID(id int64) models.SkipReason {
	return models.SkipReason{
		Code:        CodeDuplicateID,
		Description: fmt.Sprintf("record id %d already present in input", id),
	}
}

func codeForField(field string) string {
	switch field {
	case "name":
		return CodeMissingName
	case "latitude", "longitude":
		return CodeInvalidCoordinates
	case "rating":
		return CodeInvalidRating
	case "followers":
		return CodeInvalidFollowers
	}
	return "invalid_record"
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
