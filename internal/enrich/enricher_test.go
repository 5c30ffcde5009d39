package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"coffee-location-dedup/internal/models"
)

type stubResolver struct {
	coords map[string]Coordinates
	err    error
	calls  int
}

func (s *stubResolver) Resolve(ctx context.Context, address string) (*Coordinates, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.coords[address]
	if !ok {
		return nil, errors.New("unknown address")
	}
	return &c, nil
}

func strPtr(s string) *string { return &s }

func TestEnrich_FillsMissingCoordinates(t *testing.T) {
	resolver := &stubResolver{coords: map[string]Coordinates{
		"Jl. Sudirman No. 10": {Latitude: -6.2088, Longitude: 106.8456},
	}}
	e := New(resolver, zerolog.Nop())

	locs := []models.Location{
		{ID: 1, Name: "Kopi Kenangan Sudirman", Address: strPtr("Jl. Sudirman No. 10")},
		{ID: 2, Name: "Fore Coffee Menteng", Latitude: -6.1951, Longitude: 106.8422, Address: strPtr("Jl. Menteng No. 2")},
		{ID: 3, Name: "Anomali Coffee"},
	}

	resolved, err := e.Enrich(context.Background(), locs)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if resolved != 1 {
		t.Fatalf("expected 1 resolved, got %d", resolved)
	}
	if locs[0].Latitude != -6.2088 || locs[0].Longitude != 106.8456 {
		t.Fatalf("coordinates not filled: %+v", locs[0])
	}
	// Records with coordinates or without an address must not hit the geocoder.
	if resolver.calls != 1 {
		t.Fatalf("expected 1 geocoder call, got %d", resolver.calls)
	}
}

func TestEnrich_ResolverFailureKeepsRecord(t *testing.T) {
	resolver := &stubResolver{err: errors.New("quota exhausted")}
	e := New(resolver, zerolog.Nop())

	locs := []models.Location{
		{ID: 1, Name: "Kopi Kenangan Sudirman", Address: strPtr("Jl. Sudirman No. 10")},
	}

	resolved, err := e.Enrich(context.Background(), locs)
	if err != nil {
		t.Fatalf("enrich must not fail the batch: %v", err)
	}
	if resolved != 0 {
		t.Fatalf("expected 0 resolved, got %d", resolved)
	}
	if locs[0].Latitude != 0 || locs[0].Longitude != 0 {
		t.Fatalf("record must keep zero coordinates: %+v", locs[0])
	}
}

func TestEnrich_CancelledContextStops(t *testing.T) {
	resolver := &stubResolver{}
	e := New(resolver, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Enrich(ctx, []models.Location{
		{ID: 1, Name: "Kopi Kenangan", Address: strPtr("Jl. Sudirman No. 10")},
	})
	if err == nil {
		t.Fatal("expected context error")
	}
	if resolver.calls != 0 {
		t.Fatalf("geocoder must not be called after cancel, got %d calls", resolver.calls)
	}
}
