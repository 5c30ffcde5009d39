package generator

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffee-location-dedup/internal/decision"
	"coffee-location-dedup/internal/dedup"
	"coffee-location-dedup/internal/geo"
	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/internal/validation"
)

func findByName(records []models.Location, name string) (models.Location, bool) {
	for _, r := range records {
		if r.Name == name {
			return r, true
		}
	}
	return models.Location{}, false
}

func TestGenerate_Deterministic(t *testing.T) {
	a := New(Config{Count: 60, Seed: 42, DuplicatePairs: 5}).Generate()
	b := New(Config{Count: 60, Seed: 42, DuplicatePairs: 5}).Generate()

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Name, b[i].Name)
		assert.Equal(t, a[i].Latitude, b[i].Latitude)
		assert.Equal(t, a[i].Longitude, b[i].Longitude)
		assert.Equal(t, *a[i].Followers, *b[i].Followers)
		assert.Equal(t, *a[i].Rating, *b[i].Rating)
	}
}

func TestGenerate_CountAndSequentialIDs(t *testing.T) {
	records := New(Config{Seed: 7}).Generate()

	assert.Len(t, records, DefaultConfig().Count)
	for i, r := range records {
		assert.Equal(t, int64(i+1), r.ID)
	}
}

func TestGenerate_RecordsPassValidation(t *testing.T) {
	records := New(Config{Count: 120, Seed: 11, DuplicatePairs: 5}).Generate()

	for _, r := range records {
		assert.NoError(t, validation.Check(r), "record %d %q", r.ID, r.Name)
	}
}

func TestGenerate_PlantsNearDuplicates(t *testing.T) {
	records := New(Config{Count: 50, Seed: 7, DuplicatePairs: 5}).Generate()

	orig, ok := findByName(records, "Kopi Kenangan Sudirman")
	require.True(t, ok)
	twin, ok := findByName(records, "Kopi Kenangan - Sudirman")
	require.True(t, ok)

	dist := geo.Haversine(orig.Latitude, orig.Longitude, twin.Latitude, twin.Longitude)
	assert.Less(t, dist, 25.0, "planted twins sit within walking distance")
	require.NotNil(t, twin.Address)
	assert.Equal(t, *orig.Address, *twin.Address, "a twin repeats its original's address")

	city, ok := findByName(records, "Anomali Coffee Senayan City")
	require.True(t, ok)
	assert.Nil(t, city.Address, "the last twin ships without an address")
}

func TestGenerate_DetectedDownstream(t *testing.T) {
	records := New(Config{Count: 50, Seed: 1, DuplicatePairs: 5}).Generate()

	cfg := dedup.DefaultConfig()
	cfg.Policy = decision.Config{TextThreshold: 0.85, DistanceThresholdM: 50, FlagMargin: 0.05}
	cfg.Parallelism = 1
	det, err := dedup.NewDetector(cfg, zerolog.Nop()).Detect(context.Background(), records)
	require.NoError(t, err)

	multi := 0
	for _, c := range det.Clusters {
		if len(c.Members) > 1 {
			multi++
		}
	}
	assert.GreaterOrEqual(t, multi, 3, "planted merge pairs must be found")
	assert.GreaterOrEqual(t, len(det.Flagged), 1, "the address-less twin lands in the review band")
	assert.Empty(t, det.Skipped, "generated batches are always valid")
}

func TestNew_CapsDuplicatePairs(t *testing.T) {
	records := New(Config{Count: 6, Seed: 3, DuplicatePairs: 99}).Generate()

	assert.Len(t, records, 6)
	_, ok := findByName(records, "Janji Jiwa CBD")
	assert.True(t, ok, "capped batch still plants the leading table pairs")
	_, ok = findByName(records, "Fore Coffee Menteng")
	assert.False(t, ok, "pairs beyond the cap are not planted")
}
