package domain

import (
	"encoding/json"
	"testing"

	"coffee-location-dedup/internal/models"
)

// Helper to create string pointer
func strPtr(s string) *string {
	return &s
}

// Helper to create float64 pointer
func float64Ptr(f float64) *float64 {
	return &f
}

func intPtr(i int) *int {
	return &i
}

func TestBuildMergeSnapshot_AllFieldsDiffer(t *testing.T) {
	kept := models.Location{
		ID:        1,
		Name:      "Kopi Kenangan Sudirman",
		Address:   strPtr("Jl. Sudirman No. 10"),
		Latitude:  -6.2088,
		Longitude: 106.8456,
		Rating:    float64Ptr(4.5),
		Followers: intPtr(500),
	}
	discarded := models.Location{
		ID:        2,
		Name:      "Kopi Kenangan - Sudirman",
		Address:   strPtr("Jl. Sudirman No. 12"),
		Latitude:  -6.2089,
		Longitude: 106.8457,
		Rating:    float64Ptr(4.3),
		Followers: intPtr(300),
	}

	result := BuildMergeSnapshot(kept, discarded)

	if result == nil {
		t.Fatal("Expected non-nil snapshot for diverging records")
	}
	if !result.HasDifferences() {
		t.Error("HasDifferences should return true")
	}

	if result.Kept.Name == nil || *result.Kept.Name != "Kopi Kenangan Sudirman" {
		t.Errorf("Kept name mismatch: got %v", result.Kept.Name)
	}
	if result.Discarded.Name == nil || *result.Discarded.Name != "Kopi Kenangan - Sudirman" {
		t.Errorf("Discarded name mismatch: got %v", result.Discarded.Name)
	}
	if result.Kept.Latitude == nil || *result.Kept.Latitude != -6.2088 {
		t.Errorf("Kept latitude mismatch: got %v", result.Kept.Latitude)
	}
	if result.Discarded.Followers == nil || *result.Discarded.Followers != 300 {
		t.Errorf("Discarded followers mismatch: got %v", result.Discarded.Followers)
	}
}

func TestBuildMergeSnapshot_NoChanges(t *testing.T) {
	loc := models.Location{
		ID:        1,
		Name:      "Same Shop",
		Address:   strPtr("Jl. Thamrin No. 1"),
		Latitude:  -6.1950,
		Longitude: 106.8200,
	}
	twin := loc
	twin.ID = 2

	if result := BuildMergeSnapshot(loc, twin); result != nil {
		t.Errorf("Expected nil snapshot for identical data, got: %+v", result)
	}
}

func TestBuildMergeSnapshot_WhitespaceInsensitive(t *testing.T) {
	kept := models.Location{Name: "Fore Coffee Menteng", Latitude: -6.2, Longitude: 106.83}
	discarded := models.Location{Name: "  Fore Coffee Menteng  ", Latitude: -6.2, Longitude: 106.83}

	if result := BuildMergeSnapshot(kept, discarded); result != nil {
		t.Errorf("Trailing whitespace is not a data difference, got: %+v", result)
	}
}

func TestBuildMergeSnapshot_NilVersusValue(t *testing.T) {
	kept := models.Location{Name: "A", Latitude: -6.2, Longitude: 106.83, Followers: intPtr(100)}
	discarded := models.Location{Name: "A", Latitude: -6.2, Longitude: 106.83}

	result := BuildMergeSnapshot(kept, discarded)
	if result == nil {
		t.Fatal("nil versus value is a difference")
	}
	if result.Kept.Followers == nil || *result.Kept.Followers != 100 {
		t.Errorf("Kept followers mismatch: got %v", result.Kept.Followers)
	}
	if result.Discarded.Followers != nil {
		t.Errorf("Discarded followers should stay nil, got %v", result.Discarded.Followers)
	}
}

func TestMergeSnapshot_ToJSON(t *testing.T) {
	var nilSnapshot *MergeSnapshot
	s, err := nilSnapshot.ToJSON()
	if err != nil || s != "{}" {
		t.Fatalf("nil snapshot should serialize to {}: %q %v", s, err)
	}

	kept := models.Location{Name: "A", Latitude: -6.2, Longitude: 106.83}
	discarded := models.Location{Name: "B", Latitude: -6.2, Longitude: 106.83}
	snapshot := BuildMergeSnapshot(kept, discarded)

	s, err = snapshot.ToJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded MergeSnapshot
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		t.Fatalf("snapshot JSON must round-trip: %v", err)
	}
	if decoded.Kept == nil || decoded.Kept.Name == nil || *decoded.Kept.Name != "A" {
		t.Errorf("decoded kept name mismatch: %+v", decoded.Kept)
	}
}
