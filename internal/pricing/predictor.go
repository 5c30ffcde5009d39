// Package pricing estimates rent per square meter for a coffee-shop
// location from its nearest neighbors in feature space.
package pricing

import (
	"math"
	"sort"

	"coffee-location-dedup/internal/models"
	errs "coffee-location-dedup/pkg/errors"
)

const featureCount = 5

// Config controls the regression.
type Config struct {
	// K is the neighbor count averaged into a prediction. Values below 1
	// fall back to the default.
	K int
}

func DefaultConfig() Config { return Config{K: 5} }

// Neighbor is one training location ranked by feature-space distance.
type Neighbor struct {
	Location models.Location `json:"location"`
	Distance float64         `json:"distance"`
}

// Predictor is a KNN regressor over [lat, lon, area, rating, followers]
// with min-max scaling per feature. Missing optional fields contribute
// zero, matching how unscored listings are treated at intake.
type Predictor struct {
	cfg    Config
	locs   []models.Location
	scaled [][featureCount]float64
	prices []float64
	mins   [featureCount]float64
	maxs   [featureCount]float64
	fitted bool
}

func New(cfg Config) *Predictor {
	if cfg.K < 1 {
		cfg.K = DefaultConfig().K
	}
	return &Predictor{cfg: cfg}
}

// Fit trains on every location that carries a known price per m².
func (p *Predictor) Fit(locations []models.Location) error {
	p.locs = p.locs[:0]
	p.scaled = p.scaled[:0]
	p.prices = p.prices[:0]
	p.fitted = false

	raw := make([][featureCount]float64, 0, len(locations))
	for _, loc := range locations {
		if loc.PricePerSqm == nil {
			continue
		}
		p.locs = append(p.locs, loc)
		p.prices = append(p.prices, *loc.PricePerSqm)
		raw = append(raw, features(loc))
	}
	if len(raw) == 0 {
		return errs.NewBiz("pricing.Fit", "no locations with a known price per sqm", nil)
	}

	for f := 0; f < featureCount; f++ {
		p.mins[f], p.maxs[f] = raw[0][f], raw[0][f]
		for _, row := range raw {
			p.mins[f] = math.Min(p.mins[f], row[f])
			p.maxs[f] = math.Max(p.maxs[f], row[f])
		}
	}
	for _, row := range raw {
		p.scaled = append(p.scaled, p.scale(row))
	}
	p.fitted = true
	return nil
}

// Predict returns the mean price per m² of the k nearest training
// locations.
func (p *Predictor) Predict(loc models.Location) (float64, error) {
	ranked, err := p.rank(loc)
	if err != nil {
		return 0, err
	}
	k := p.cfg.K
	if k > len(ranked) {
		k = len(ranked)
	}
	var sum float64
	for _, n := range ranked[:k] {
		sum += *n.Location.PricePerSqm
	}
	return sum / float64(k), nil
}

// FindSimilar returns the n training locations nearest to loc, closest
// first. Ties rank by training order.
func (p *Predictor) FindSimilar(loc models.Location, n int) ([]Neighbor, error) {
	ranked, err := p.rank(loc)
	if err != nil {
		return nil, err
	}
	if n < 1 || n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n], nil
}

func (p *Predictor) rank(loc models.Location) ([]Neighbor, error) {
	if !p.fitted {
		return nil, errs.NewBiz("pricing.rank", "predictor is not fitted", nil)
	}
	q := p.scale(features(loc))

	type cand struct {
		idx  int
		dist float64
	}
	cands := make([]cand, len(p.scaled))
	for i, row := range p.scaled {
		cands[i] = cand{idx: i, dist: euclidean(q, row)}
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].dist != cands[b].dist {
			return cands[a].dist < cands[b].dist
		}
		return cands[a].idx < cands[b].idx
	})

	out := make([]Neighbor, len(cands))
	for i, c := range cands {
		out[i] = Neighbor{Location: p.locs[c.idx], Distance: c.dist}
	}
	return out, nil
}

func (p *Predictor) scale(row [featureCount]float64) [featureCount]float64 {
	var out [featureCount]float64
	for f := 0; f < featureCount; f++ {
		span := p.maxs[f] - p.mins[f]
		if span == 0 {
			continue
		}
		out[f] = (row[f] - p.mins[f]) / span
	}
	return out
}

func features(loc models.Location) [featureCount]float64 {
	var row [featureCount]float64
	row[0] = loc.Latitude
	row[1] = loc.Longitude
	if loc.AreaSqm != nil {
		row[2] = *loc.AreaSqm
	}
	if loc.Rating != nil {
		row[3] = *loc.Rating
	}
	if loc.Followers != nil {
		row[4] = float64(*loc.Followers)
	}
	return row
}

func euclidean(a, b [featureCount]float64) float64 {
	var sum float64
	for f := 0; f < featureCount; f++ {
		d := a[f] - b[f]
		sum += d * d
	}
	return math.Sqrt(sum)
}
