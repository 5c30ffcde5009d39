package dedup

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/decision"
	"coffee-location-dedup/internal/geo"
	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/internal/similarity"
	"coffee-location-dedup/internal/validation"
)

// Config configures one Detector. Zero values fall back to defaults.
type Config struct {
	Policy              decision.Config
	Similarity          similarity.Config
	CellIndexMinRecords int // record count at which the grid index replaces the full pairwise scan
	Parallelism         int // scoring workers; 0 means GOMAXPROCS, 1 forces sequential
}

// DefaultConfig returns the standard detector configuration.
func DefaultConfig() Config {
	return Config{
		Policy:              decision.DefaultConfig(),
		Similarity:          similarity.DefaultConfig(),
		CellIndexMinRecords: constants.DefaultCellIndexMinRecords,
	}
}

// Detection is the raw outcome of one detect pass. Clusters carry members
// only; canonical selection belongs to the Resolver. Records holds the
// accepted inputs in their original order.
type Detection struct {
	Records  []models.Location
	Clusters []models.DuplicateCluster
	Flagged  []models.PairScore
	Skipped  []models.SkippedRecord
	Stats    models.RunStats
}

// Detector finds duplicate clusters in a record batch. Input records are
// never mutated; the same input and thresholds always produce the same
// output, regardless of Parallelism.
type Detector struct {
	cfg    Config
	policy *decision.Policy
	scorer *similarity.Scorer
	log    zerolog.Logger
}

func NewDetector(cfg Config, log zerolog.Logger) *Detector {
	if cfg.CellIndexMinRecords <= 0 {
		cfg.CellIndexMinRecords = constants.DefaultCellIndexMinRecords
	}
	return &Detector{
		cfg:    cfg,
		policy: decision.NewPolicy(cfg.Policy),
		scorer: similarity.NewScorer(cfg.Similarity),
		log:    log.With().Str("component", "detector").Logger(),
	}
}

// Scorer exposes the detector's scorer so the resolver re-scores pairs with
// identical weighting.
func (d *Detector) Scorer() *similarity.Scorer { return d.scorer }

// Policy exposes the evaluated thresholds.
func (d *Detector) Policy() *decision.Policy { return d.policy }

// Detect runs intake, pairwise scoring, and clustering over one batch.
// Empty input is a valid no-op. Records that fail validation, and records
// re-using an id already accepted in this batch, are skipped and reported,
// never fatal.
func (d *Detector) Detect(ctx context.Context, records []models.Location) (*Detection, error) {
	start := time.Now()

	det := &Detection{Stats: models.RunStats{TotalRecords: len(records)}}
	if len(records) == 0 {
		return det, nil
	}

	prepared := d.intake(records, det)
	det.Stats.ValidRecords = len(det.Records)
	det.Stats.SkippedRecords = len(det.Skipped)

	candidates := d.candidatePairs(det.Records)
	candidates = d.pruneByTextBound(prepared, candidates)

	scored, err := d.scorePairs(ctx, prepared, candidates)
	if err != nil {
		return nil, err
	}
	det.Stats.PairsScored = len(scored)

	// Deterministic edge order: sorted by record-id pair before cluster
	// extraction, so parallel scoring never changes the output.
	sort.Slice(scored, func(a, b int) bool {
		if scored[a].score.IDA != scored[b].score.IDA {
			return scored[a].score.IDA < scored[b].score.IDA
		}
		return scored[a].score.IDB < scored[b].score.IDB
	})

	uf := newUnionFind(len(det.Records))
	for _, sp := range scored {
		switch d.policy.Evaluate(sp.score).Verdict {
		case decision.VerdictMatch:
			uf.union(sp.i, sp.j)
		case decision.VerdictFlag:
			det.Flagged = append(det.Flagged, sp.score)
		}
	}

	for _, comp := range uf.components() {
		members := make([]int64, len(comp))
		for k, idx := range comp {
			members[k] = det.Records[idx].ID
		}
		sort.Slice(members, func(a, b int) bool { return members[a] < members[b] })
		det.Clusters = append(det.Clusters, models.DuplicateCluster{Members: members})
		if len(members) > 1 {
			det.Stats.Clusters++
		}
	}

	det.Stats.DurationMs = time.Since(start).Milliseconds()
	d.log.Debug().
		Int("records", len(det.Records)).
		Int("skipped", len(det.Skipped)).
		Int("pairs_scored", det.Stats.PairsScored).
		Int("clusters", det.Stats.Clusters).
		Int64("duration_ms", det.Stats.DurationMs).
		Msg("detection pass complete")

	return det, nil
}

// intake validates records in order, keeping the first occurrence of each
// id. Skipped records land on det.Skipped with their reason.
func (d *Detector) intake(records []models.Location, det *Detection) []similarity.Prepared {
	seen := make(map[int64]struct{}, len(records))
	prepared := make([]similarity.Prepared, 0, len(records))

	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			det.Skipped = append(det.Skipped, models.SkippedRecord{Location: rec, Reason: validation.DuplicateID(rec.ID)})
			continue
		}
		p, err := similarity.Prepare(rec)
		if err != nil {
			det.Skipped = append(det.Skipped, models.SkippedRecord{Location: rec, Reason: validation.Reason(err)})
			continue
		}
		seen[rec.ID] = struct{}{}
		prepared = append(prepared, p)
		det.Records = append(det.Records, rec)
	}
	return prepared
}

// candidatePairs chooses between the full pairwise scan and the grid index.
// The index is an optimization only; both strategies yield every pair that
// could match on distance.
func (d *Detector) candidatePairs(records []models.Location) [][2]int {
	if len(records) < d.cfg.CellIndexMinRecords {
		return geo.AllPairs(len(records))
	}
	pairs := geo.BuildCellIndex(records, d.policy.Config().DistanceThresholdM).Pairs()
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a][0] != pairs[b][0] {
			return pairs[a][0] < pairs[b][0]
		}
		return pairs[a][1] < pairs[b][1]
	})
	return pairs
}

// pruneByTextBound drops pairs whose best possible text similarity cannot
// reach the review band, before the expensive edit-distance work.
func (d *Detector) pruneByTextBound(prepared []similarity.Prepared, pairs [][2]int) [][2]int {
	// The bound and the real ratio come from different float expressions,
	// so give the floor an ulp of slack to keep boundary pairs alive.
	floor := d.policy.Config().TextThreshold - d.policy.Config().FlagMargin - 1e-9
	kept := make([][2]int, 0, len(pairs))
	for _, p := range pairs {
		if d.scorer.UpperBound(prepared[p[0]], prepared[p[1]]) >= floor {
			kept = append(kept, p)
		}
	}
	return kept
}

type scoredPair struct {
	i, j  int
	score models.PairScore
}

// scorePairs computes every candidate's PairScore. Workers own disjoint
// chunks of a preallocated slice, so the result is position-stable and the
// worker count never affects content.
func (d *Detector) scorePairs(ctx context.Context, prepared []similarity.Prepared, pairs [][2]int) ([]scoredPair, error) {
	out := make([]scoredPair, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}

	workers := d.cfg.Parallelism
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(pairs) {
		workers = len(pairs)
	}

	if workers <= 1 {
		for k, p := range pairs {
			if k%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			out[k] = scoredPair{i: p[0], j: p[1], score: d.scorer.ScorePrepared(prepared[p[0]], prepared[p[1]])}
		}
		return out, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	chunk := (len(pairs) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(pairs) {
			hi = len(pairs)
		}
		if lo >= hi {
			break
		}
		g.Go(func() error {
			for k := lo; k < hi; k++ {
				if k%1024 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				p := pairs[k]
				out[k] = scoredPair{i: p[0], j: p[1], score: d.scorer.ScorePrepared(prepared[p[0]], prepared[p[1]])}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
