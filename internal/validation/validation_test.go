package validation

import (
	"errors"
	"math"
	"testing"

	"coffee-location-dedup/internal/models"
	errs "coffee-location-dedup/pkg/errors"
)

func validLoc() models.Location {
	return models.Location{ID: 1, Name: "Kopi Kenangan Sudirman", Latitude: -6.2088, Longitude: 106.8456}
}

func TestCheck_Valid(t *testing.T) {
	if err := Check(validLoc()); err != nil {
		t.Fatalf("expected valid record, got %v", err)
	}
}

func TestCheck_BlankName(t *testing.T) {
	loc := validLoc()
	loc.Name = "   "
	err := Check(loc)
	if err == nil {
		t.Fatal("expected error for blank name")
	}
	var ir *errs.InvalidRecordError
	if !errors.As(err, &ir) || ir.Field != "name" {
		t.Fatalf("expected InvalidRecordError on name, got %v", err)
	}
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation kind, got %v", err)
	}
}

func TestCheck_CoordinateBounds(t *testing.T) {
	cases := []struct {
		name     string
		lat, lon float64
	}{
		{"lat too high", 90.5, 0},
		{"lat too low", -91, 0},
		{"lon too high", 0, 180.01},
		{"lon too low", 0, -181},
		{"lat NaN", math.NaN(), 0},
		{"lon NaN", 0, math.NaN()},
		{"lat Inf", math.Inf(1), 0},
		{"lon -Inf", 0, math.Inf(-1)},
	}
	for _, tc := range cases {
		loc := validLoc()
		loc.Latitude, loc.Longitude = tc.lat, tc.lon
		if err := Check(loc); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		} else if Reason(err).Code != CodeInvalidCoordinates {
			t.Fatalf("%s: expected %s, got %v", tc.name, CodeInvalidCoordinates, Reason(err))
		}
	}
}

func TestCheck_BoundaryCoordinatesValid(t *testing.T) {
	loc := validLoc()
	loc.Latitude, loc.Longitude = 90, -180
	if err := Check(loc); err != nil {
		t.Fatalf("boundary coordinates should be valid, got %v", err)
	}
}

func TestCheck_OptionalFields(t *testing.T) {
	bad := 5.5
	loc := validLoc()
	loc.Rating = &bad
	if err := Check(loc); err == nil || Reason(err).Code != CodeInvalidRating {
		t.Fatalf("expected invalid rating, got %v", err)
	}

	neg := -3
	loc = validLoc()
	loc.Followers = &neg
	if err := Check(loc); err == nil || Reason(err).Code != CodeInvalidFollowers {
		t.Fatalf("expected invalid followers, got %v", err)
	}

	ok, zero := 5.0, 0
	loc = validLoc()
	loc.Rating = &ok
	loc.Followers = &zero
	if err := Check(loc); err != nil {
		t.Fatalf("rating 5.0 and followers 0 are valid, got %v", err)
	}
}

func TestDuplicateID(t *testing.T) {
	r := DuplicateID(42)
	if r.Code != CodeDuplicateID {
		t.Fatalf("unexpected reason: %+v", r)
	}
}
