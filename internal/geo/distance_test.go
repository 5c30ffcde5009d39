package geo

import (
	"math"
	"math/rand"
	"testing"

	"coffee-location-dedup/internal/models"
)

func TestHaversine_SamePoint(t *testing.T) {
	if d := Haversine(-6.2088, 106.8456, -6.2088, 106.8456); d != 0 {
		t.Fatalf("expected 0 for identical points, got %v", d)
	}
}

func TestHaversine_Symmetric(t *testing.T) {
	d1 := Haversine(-6.2088, 106.8456, -6.2538, 106.8900)
	d2 := Haversine(-6.2538, 106.8900, -6.2088, 106.8456)
	if d1 != d2 {
		t.Fatalf("distance not symmetric: %v vs %v", d1, d2)
	}
}

func TestHaversine_NearbyPair(t *testing.T) {
	// Two storefronts roughly one door apart in central Jakarta.
	d := Haversine(-6.2088, 106.8456, -6.2089, 106.8457)
	if d < 10 || d > 20 {
		t.Fatalf("expected ~15m, got %v", d)
	}
}

func TestHaversine_FiveKilometers(t *testing.T) {
	// 0.045 degrees of latitude is a hair over 5km.
	d := Haversine(-6.2088, 106.8456, -6.2538, 106.8456)
	if d < 4900 || d > 5100 {
		t.Fatalf("expected ~5000m, got %v", d)
	}
}

func TestHaversine_EquatorDegree(t *testing.T) {
	d := Haversine(0, 0, 0, 1)
	if d < 111000 || d > 111400 {
		t.Fatalf("one equatorial degree should be ~111.2km, got %v", d)
	}
}

func TestCellIndex_NeverLosesCloseTogetherPairs(t *testing.T) {
	const threshold = 50.0

	// Points scattered over ~1km of central Jakarta; plenty land within 50m
	// of each other.
	rng := rand.New(rand.NewSource(42))
	records := make([]models.Location, 120)
	for i := range records {
		records[i] = models.Location{
			ID:        int64(i + 1),
			Name:      "shop",
			Latitude:  -6.2088 + rng.Float64()*0.01,
			Longitude: 106.8456 + rng.Float64()*0.01,
		}
	}

	candidates := make(map[[2]int]int)
	for _, p := range BuildCellIndex(records, threshold).Pairs() {
		candidates[p]++
	}

	for p, n := range candidates {
		if n != 1 {
			t.Fatalf("pair %v emitted %d times", p, n)
		}
	}

	within := 0
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			d := Haversine(records[i].Latitude, records[i].Longitude, records[j].Latitude, records[j].Longitude)
			if d > threshold {
				continue
			}
			within++
			if _, ok := candidates[[2]int{i, j}]; !ok {
				t.Fatalf("pair (%d,%d) at %.1fm missing from candidates", i, j, d)
			}
		}
	}
	if within == 0 {
		t.Fatal("test data produced no close pairs; widen the cluster")
	}
	if len(candidates) >= len(records)*(len(records)-1)/2 {
		t.Fatalf("index pruned nothing: %d candidates", len(candidates))
	}
}

func TestCellIndex_AntimeridianAdjacency(t *testing.T) {
	records := []models.Location{
		{ID: 1, Name: "east", Latitude: 0, Longitude: 179.9999},
		{ID: 2, Name: "west", Latitude: 0, Longitude: -179.9999},
	}
	d := Haversine(0, 179.9999, 0, -179.9999)
	if d > 50 {
		t.Fatalf("fixture points should be within 50m, got %v", d)
	}

	pairs := BuildCellIndex(records, 50).Pairs()
	for _, p := range pairs {
		if p == [2]int{0, 1} {
			return
		}
	}
	t.Fatalf("pair across the antimeridian not emitted: %v", pairs)
}

func TestAllPairs(t *testing.T) {
	if got := AllPairs(0); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if got := AllPairs(1); got != nil {
		t.Fatalf("expected nil for single record, got %v", got)
	}
	got := AllPairs(3)
	want := [][2]int{{0, 1}, {0, 2}, {1, 2}}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestHaversine_NotNaNAtAntipodes(t *testing.T) {
	d := Haversine(0, 0, 0, 180)
	if math.IsNaN(d) {
		t.Fatal("antipodal distance is NaN")
	}
	// Half the Earth's circumference, within rounding.
	if d < 2.0e7 || d > 2.003e7 {
		t.Fatalf("expected ~20015km, got %v", d)
	}
}
