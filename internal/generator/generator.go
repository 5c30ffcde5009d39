// Package generator produces deterministic Jakarta coffee-shop fixtures for
// demos, smoke tests, and benchmarks. A portion of the batch is planted
// near-duplicates so a detection run over generated data always has work.
package generator

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"coffee-location-dedup/internal/models"
)

//go:embed seeds.json
var seedsJSON []byte

type seedTables struct {
	Chains []string   `json:"chains"`
	Areas  []areaSeed `json:"areas"`
	Pairs  []pairSeed `json:"duplicate_pairs"`
}

type areaSeed struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

type pairSeed struct {
	Original  pointSeed `json:"original"`
	Duplicate pointSeed `json:"duplicate"`
}

type pointSeed struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

var seeds seedTables

func init() {
	if err := json.Unmarshal(seedsJSON, &seeds); err != nil {
		panic("failed to load seeds.json: " + err.Error())
	}
}

// Config controls batch size and reproducibility.
type Config struct {
	// Count is the total number of records, planted duplicates included.
	Count int
	// Seed fixes the random stream. Zero derives one from the clock.
	Seed int64
	// DuplicatePairs is the number of planted near-duplicate pairs,
	// capped at the seed table size and at Count/2.
	DuplicatePairs int
}

// DefaultConfig matches the historical 50-shop sample batch.
func DefaultConfig() Config {
	return Config{Count: 50, DuplicatePairs: len(seeds.Pairs)}
}

// Generator emits coffee-shop location batches.
type Generator struct {
	cfg Config
	rng *rand.Rand
}

func New(cfg Config) *Generator {
	if cfg.Count <= 0 {
		cfg.Count = DefaultConfig().Count
	}
	if cfg.DuplicatePairs < 0 {
		cfg.DuplicatePairs = 0
	}
	if cfg.DuplicatePairs > len(seeds.Pairs) {
		cfg.DuplicatePairs = len(seeds.Pairs)
	}
	if cfg.DuplicatePairs*2 > cfg.Count {
		cfg.DuplicatePairs = cfg.Count / 2
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Generate builds the batch: regular shops scattered around the seeded
// areas, then the planted duplicate pairs, then a shuffle and sequential id
// reassignment so the duplicates are not trivially adjacent.
func (g *Generator) Generate() []models.Location {
	records := make([]models.Location, 0, g.cfg.Count)

	for i := 0; i < g.cfg.Count-2*g.cfg.DuplicatePairs; i++ {
		records = append(records, g.regularShop())
	}
	for i, pair := range seeds.Pairs[:g.cfg.DuplicatePairs] {
		orig := g.plantedShop(pair.Original)
		// The last table pair's twin ships without an address, so a full
		// batch exercises the review band as well as clean merges.
		omitAddress := i == len(seeds.Pairs)-1
		records = append(records, orig, g.plantedTwin(pair.Duplicate, orig, omitAddress))
	}

	g.rng.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
	for i := range records {
		records[i].ID = int64(i + 1)
	}
	return records
}

func (g *Generator) regularShop() models.Location {
	chain := seeds.Chains[g.rng.Intn(len(seeds.Chains))]
	area := seeds.Areas[g.rng.Intn(len(seeds.Areas))]

	areaSqm := float64(g.intBetween(50, 200))
	priceSqm := float64(g.intBetween(150000, 400000))

	return models.Location{
		Name:        fmt.Sprintf("%s %s", chain, area.Name),
		Latitude:    area.Lat + g.jitter(0.01),
		Longitude:   area.Lon + g.jitter(0.01),
		Address:     g.streetAddress(area.Name),
		AreaSqm:     &areaSqm,
		Rating:      round1(g.floatBetween(3.5, 5.0)),
		Followers:   intPtr(g.intBetween(5000, 50000)),
		PricePerSqm: &priceSqm,
		MonthlyRent: floatPtr(priceSqm * areaSqm),
		CreatedAt:   g.pastTimestamp(),
	}
}

func (g *Generator) plantedShop(p pointSeed) models.Location {
	areaSqm := float64(g.intBetween(80, 150))
	priceSqm := float64(g.intBetween(200000, 350000))

	return models.Location{
		Name:        p.Name,
		Latitude:    p.Lat,
		Longitude:   p.Lon,
		Address:     g.streetAddress(seeds.Areas[g.rng.Intn(4)].Name),
		AreaSqm:     &areaSqm,
		Rating:      round1(g.floatBetween(4.0, 5.0)),
		Followers:   intPtr(g.intBetween(10000, 30000)),
		PricePerSqm: &priceSqm,
		MonthlyRent: floatPtr(priceSqm * areaSqm),
		CreatedAt:   g.pastTimestamp(),
	}
}

// plantedTwin derives the duplicate's attributes from its original with
// small offsets, the way a re-scraped listing drifts. It repeats the
// original's street address: both rows describe the same physical shop.
func (g *Generator) plantedTwin(p pointSeed, orig models.Location, omitAddress bool) models.Location {
	areaSqm := *orig.AreaSqm + float64(g.intBetween(-10, 10))
	priceSqm := *orig.PricePerSqm + float64(g.intBetween(-50000, 50000))
	rating := clamp(*orig.Rating+g.floatBetween(-0.2, 0.2), 0, 5)
	followers := *orig.Followers + g.intBetween(-5000, 5000)

	var addr *string
	if !omitAddress && orig.Address != nil {
		a := *orig.Address
		addr = &a
	}

	return models.Location{
		Name:        p.Name,
		Latitude:    p.Lat,
		Longitude:   p.Lon,
		Address:     addr,
		AreaSqm:     &areaSqm,
		Rating:      round1(rating),
		Followers:   intPtr(followers),
		PricePerSqm: &priceSqm,
		MonthlyRent: floatPtr(priceSqm * areaSqm),
		CreatedAt:   g.pastTimestamp(),
	}
}

func (g *Generator) streetAddress(street string) *string {
	s := fmt.Sprintf("Jl. %s No. %d", street, g.intBetween(1, 200))
	return &s
}

func (g *Generator) pastTimestamp() *time.Time {
	t := time.Now().UTC().AddDate(0, 0, -g.intBetween(1, 365))
	return &t
}

// intBetween returns a uniform int in [lo, hi].
func (g *Generator) intBetween(lo, hi int) int {
	return lo + g.rng.Intn(hi-lo+1)
}

func (g *Generator) floatBetween(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *Generator) jitter(span float64) float64 {
	return g.floatBetween(-span, span)
}

func round1(v float64) *float64 {
	r := math.Round(v*10) / 10
	return &r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
