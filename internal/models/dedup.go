package models

import (
	"time"
)

// PairScore is the scored comparison of two records. IDA is always the
// smaller id so a pair has exactly one representation.
type PairScore struct {
	IDA            int64   `json:"id_a"`
	IDB            int64   `json:"id_b"`
	TextSimilarity float64 `json:"text_similarity"`
	DistanceMeters float64 `json:"distance_meters"`
}

// DuplicateCluster is one connected component of the duplicate graph.
// Members is sorted ascending and always contains CanonicalID.
type DuplicateCluster struct {
	Members      []int64 `json:"members"`
	CanonicalID  int64   `json:"canonical_id"`
	DiscardedIDs []int64 `json:"discarded_ids"`
}

// Size returns the number of member records, singletons included.
func (c DuplicateCluster) Size() int {
	return len(c.Members)
}

// DuplicateLogEntry is one append-only audit row. Merged entries pair a
// discarded id with its cluster canonical; flagged entries pair the two
// records whose score fell inside the review band. ID is assigned at
// persist time.
type DuplicateLogEntry struct {
	ID              string    `json:"id" db:"id"`
	RunID           string    `json:"run_id" db:"run_id"`
	LocationID1     int64     `json:"location_id_1" db:"location_id_1"`
	LocationID2     int64     `json:"location_id_2" db:"location_id_2"`
	SimilarityScore float64   `json:"similarity_score" db:"similarity_score"`
	DistanceMeters  float64   `json:"distance_meters" db:"distance_meters"`
	ActionTaken     string    `json:"action_taken" db:"action_taken"`
	Reviewer        *string   `json:"reviewer,omitempty" db:"reviewer"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// SkipReason explains why a record was excluded from clustering.
type SkipReason struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// SkippedRecord carries the rejected record together with its reason so
// callers can surface it; skipped records never fail the run.
type SkippedRecord struct {
	Location Location   `json:"location"`
	Reason   SkipReason `json:"reason"`
}

// RunStats contains counters for a single detection run.
type RunStats struct {
	TotalRecords   int   `json:"total_records"`
	ValidRecords   int   `json:"valid_records"`
	SkippedRecords int   `json:"skipped_records"`
	PairsScored    int   `json:"pairs_scored"`
	Clusters       int   `json:"clusters"`
	Merged         int   `json:"merged"`
	Flagged        int   `json:"flagged"`
	DurationMs     int64 `json:"duration_ms"`
}

// DedupReport is the full outcome of one detect+resolve pass.
type DedupReport struct {
	RunID      string              `json:"run_id"`
	Survivors  []Location          `json:"survivors"`
	Clusters   []DuplicateCluster  `json:"clusters"`
	LogEntries []DuplicateLogEntry `json:"log_entries"`
	Skipped    []SkippedRecord     `json:"skipped,omitempty"`
	Stats      RunStats            `json:"stats"`
}
