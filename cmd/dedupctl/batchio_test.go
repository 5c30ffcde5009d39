package main

import (
	"os"
	"path/filepath"
	"testing"

	"coffee-location-dedup/internal/models"
)

func fptr(v float64) *float64 { return &v }

func TestLocationsCSV_RoundTrip(t *testing.T) {
	addr := "Jl. Jend. Sudirman No. 1"
	batch := []models.Location{
		{ID: 1, Name: "Kopi Kenangan Sudirman", Latitude: -6.2088, Longitude: 106.8456, Address: &addr, PricePerSqm: fptr(250000)},
		{ID: 2, Name: "Fore Coffee Senopati", Latitude: -6.23, Longitude: 106.81},
	}

	path := filepath.Join(t.TempDir(), "batch.csv")
	if err := writeLocations(path, batch); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readLocations(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Address == nil || *got[0].Address != addr {
		t.Fatalf("address lost in round trip: %+v", got[0])
	}
	if got[0].PricePerSqm == nil || *got[0].PricePerSqm != 250000 {
		t.Fatalf("price lost in round trip: %+v", got[0])
	}
	if got[1].Address != nil || got[1].Followers != nil {
		t.Fatalf("blank optionals must stay nil: %+v", got[1])
	}
}

func TestReadLocationsCSV_MissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("id,name,latitude\n1,Kopi,1.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readLocations(path); err == nil {
		t.Fatal("expected an error for a missing longitude column")
	}
}

func TestReadLocations_UnsupportedFormat(t *testing.T) {
	if _, err := readLocations("batch.xml"); err == nil {
		t.Fatal("expected an error for an unsupported extension")
	}
}
