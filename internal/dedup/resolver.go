package dedup

import (
	"fmt"
	"sort"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/internal/rank"
	"coffee-location-dedup/internal/similarity"
	errs "coffee-location-dedup/pkg/errors"
)

// CanonicalPolicy chooses the surviving record for one cluster. Choose is
// called with at least one record and must be deterministic; every policy
// falls back to the lowest id when its own criterion ties.
type CanonicalPolicy interface {
	Name() string
	Choose(members []models.Location) models.Location
}

// PolicyByName maps a configured policy name to its implementation. An
// empty name selects most_followers.
func PolicyByName(name string) (CanonicalPolicy, error) {
	switch name {
	case "", constants.PolicyMostFollowers:
		return mostFollowersPolicy{}, nil
	case constants.PolicyLowestID:
		return lowestIDPolicy{}, nil
	case constants.PolicyMostComplete:
		return mostCompletePolicy{calc: rank.NewDefault()}, nil
	}
	return nil, errs.NewValidation("dedup.PolicyByName", fmt.Sprintf("unknown canonical policy %q", name), nil)
}

type mostFollowersPolicy struct{}

func (mostFollowersPolicy) Name() string { return constants.PolicyMostFollowers }

func (mostFollowersPolicy) Choose(members []models.Location) models.Location {
	best := members[0]
	bestF := followersOrNeg(best)
	for _, m := range members[1:] {
		f := followersOrNeg(m)
		if f > bestF || (f == bestF && m.ID < best.ID) {
			best, bestF = m, f
		}
	}
	return best
}

type lowestIDPolicy struct{}

func (lowestIDPolicy) Name() string { return constants.PolicyLowestID }

func (lowestIDPolicy) Choose(members []models.Location) models.Location {
	best := members[0]
	for _, m := range members[1:] {
		if m.ID < best.ID {
			best = m
		}
	}
	return best
}

type mostCompletePolicy struct {
	calc *rank.Calculator
}

func (mostCompletePolicy) Name() string { return constants.PolicyMostComplete }

func (p mostCompletePolicy) Choose(members []models.Location) models.Location {
	best := members[0]
	bestScore := p.calc.Assess(best).Score
	for _, m := range members[1:] {
		s := p.calc.Assess(m).Score
		if s > bestScore || (s == bestScore && m.ID < best.ID) {
			best, bestScore = m, s
		}
	}
	return best
}

// Missing follower counts sort below zero so an explicit 0 still wins.
func followersOrNeg(loc models.Location) int {
	if loc.Followers == nil {
		return -1
	}
	return *loc.Followers
}

// Resolution is the outcome of collapsing clusters: survivors ordered by
// their canonical's original input position, fully populated multi-member
// clusters, one merged log entry per discarded record, and the flags that
// were not absorbed into a merge. RunID and timestamps are stamped by the
// caller.
type Resolution struct {
	Survivors  []models.Location
	Clusters   []models.DuplicateCluster
	LogEntries []models.DuplicateLogEntry
	Flagged    []models.PairScore
}

// Resolver applies a canonical policy to a Detection. Re-running resolution
// over its own survivors with the same thresholds yields no further merges.
type Resolver struct {
	policy CanonicalPolicy
	scorer *similarity.Scorer
}

func NewResolver(policy CanonicalPolicy, scorer *similarity.Scorer) *Resolver {
	if policy == nil {
		policy = mostFollowersPolicy{}
	}
	if scorer == nil {
		scorer = similarity.NewScorer(similarity.DefaultConfig())
	}
	return &Resolver{policy: policy, scorer: scorer}
}

// Resolve collapses every cluster to its canonical record. A cluster of
// size k emits k-1 merged entries pairing the canonical with each discarded
// id ascending, re-scored directly so transitive members carry their real
// similarity and distance.
func (r *Resolver) Resolve(det *Detection) (*Resolution, error) {
	res := &Resolution{}
	if det == nil || len(det.Records) == 0 {
		return res, nil
	}

	byID := make(map[int64]models.Location, len(det.Records))
	pos := make(map[int64]int, len(det.Records))
	for i, rec := range det.Records {
		byID[rec.ID] = rec
		pos[rec.ID] = i
	}

	type resolved struct {
		cluster      models.DuplicateCluster
		canonicalPos int
	}
	items := make([]resolved, 0, len(det.Clusters))
	clusterOf := make(map[int64]int, len(det.Records))

	for ci, c := range det.Clusters {
		records := make([]models.Location, 0, len(c.Members))
		for _, id := range c.Members {
			rec, ok := byID[id]
			if !ok {
				return nil, errs.NewBiz("dedup.Resolve", fmt.Sprintf("cluster member %d missing from record set", id), nil)
			}
			records = append(records, rec)
			clusterOf[id] = ci
		}
		canonical := r.policy.Choose(records)

		discarded := make([]int64, 0, len(c.Members)-1)
		for _, id := range c.Members {
			if id != canonical.ID {
				discarded = append(discarded, id)
			}
		}
		items = append(items, resolved{
			cluster: models.DuplicateCluster{
				Members:      c.Members,
				CanonicalID:  canonical.ID,
				DiscardedIDs: discarded,
			},
			canonicalPos: pos[canonical.ID],
		})
	}

	sort.Slice(items, func(a, b int) bool { return items[a].canonicalPos < items[b].canonicalPos })

	for _, it := range items {
		canonical := byID[it.cluster.CanonicalID]
		res.Survivors = append(res.Survivors, canonical)
		if len(it.cluster.Members) < 2 {
			continue
		}
		res.Clusters = append(res.Clusters, it.cluster)

		for _, id := range it.cluster.DiscardedIDs {
			ps, err := r.scorer.Score(canonical, byID[id])
			if err != nil {
				return nil, err
			}
			res.LogEntries = append(res.LogEntries, models.DuplicateLogEntry{
				LocationID1:     canonical.ID,
				LocationID2:     id,
				SimilarityScore: ps.TextSimilarity,
				DistanceMeters:  ps.DistanceMeters,
				ActionTaken:     constants.ActionMerged,
			})
		}
	}

	// A flag between two records that ended up in the same cluster is moot;
	// the merge already covers them.
	for _, f := range det.Flagged {
		if ca, okA := clusterOf[f.IDA]; okA {
			if cb, okB := clusterOf[f.IDB]; okB && ca == cb {
				continue
			}
		}
		res.Flagged = append(res.Flagged, f)
	}

	return res, nil
}
