package similarity

import (
	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/geo"
	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/internal/validation"
)

// Config holds the composite weighting applied when both records carry an
// address. Weights are normalized by their sum, so they need not add to 1.
type Config struct {
	NameWeight    float64
	AddressWeight float64
}

// DefaultConfig returns the standard 0.6/0.4 name/address weighting.
func DefaultConfig() Config {
	return Config{
		NameWeight:    constants.DefaultNameWeight,
		AddressWeight: constants.DefaultAddressWeight,
	}
}

// Scorer computes pairwise text similarity and geographic distance. It is
// stateless and safe for concurrent use.
type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) *Scorer {
	if cfg.NameWeight <= 0 && cfg.AddressWeight <= 0 {
		cfg = DefaultConfig()
	}
	return &Scorer{cfg: cfg}
}

// Prepared caches a record's normalized text so repeated comparisons skip
// re-normalization. Prepare validates; ScorePrepared assumes it succeeded.
type Prepared struct {
	Loc  models.Location
	name string
	addr string
}

// Prepare validates a record and precomputes its normalized fields.
// Returns *errs.InvalidRecordError for unusable records.
func Prepare(loc models.Location) (Prepared, error) {
	if err := validation.Check(loc); err != nil {
		return Prepared{}, err
	}
	p := Prepared{Loc: loc, name: Normalize(loc.Name)}
	if loc.Address != nil {
		p.addr = Normalize(*loc.Address)
	}
	return p, nil
}

// Score is the pure pairwise contract: validate both records, then compare.
// Neither input is mutated; the returned pair always has IDA <= IDB.
func (s *Scorer) Score(a, b models.Location) (models.PairScore, error) {
	pa, err := Prepare(a)
	if err != nil {
		return models.PairScore{}, err
	}
	pb, err := Prepare(b)
	if err != nil {
		return models.PairScore{}, err
	}
	return s.ScorePrepared(pa, pb), nil
}

// ScorePrepared compares two pre-validated records.
func (s *Scorer) ScorePrepared(a, b Prepared) models.PairScore {
	ida, idb := a.Loc.ID, b.Loc.ID
	if ida > idb {
		ida, idb = idb, ida
	}
	return models.PairScore{
		IDA:            ida,
		IDB:            idb,
		TextSimilarity: s.textSimilarity(a, b),
		DistanceMeters: geo.Haversine(a.Loc.Latitude, a.Loc.Longitude, b.Loc.Latitude, b.Loc.Longitude),
	}
}

// UpperBound returns the highest text similarity the pair could possibly
// reach, from string lengths alone. Useful as a cheap pre-filter.
func (s *Scorer) UpperBound(a, b Prepared) float64 {
	nameBound := MaxPossibleRatio(a.name, b.name)
	if a.addr == "" || b.addr == "" {
		return nameBound
	}
	addrBound := MaxPossibleRatio(a.addr, b.addr)
	wSum := s.cfg.NameWeight + s.cfg.AddressWeight
	return (s.cfg.NameWeight*nameBound + s.cfg.AddressWeight*addrBound) / wSum
}

// textSimilarity combines name and address similarity when both records
// carry an address; otherwise name similarity stands alone. An address that
// normalizes to blank counts as absent.
func (s *Scorer) textSimilarity(a, b Prepared) float64 {
	nameSim := Ratio(a.name, b.name)
	if a.addr == "" || b.addr == "" {
		return nameSim
	}
	addrSim := Ratio(a.addr, b.addr)
	wSum := s.cfg.NameWeight + s.cfg.AddressWeight
	return (s.cfg.NameWeight*nameSim + s.cfg.AddressWeight*addrSim) / wSum
}
