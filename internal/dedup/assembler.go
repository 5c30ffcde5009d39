package dedup

import (
	"time"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/models"
	errs "coffee-location-dedup/pkg/errors"
)

// AssembleInput captures the pieces that feed one run's final report.
type AssembleInput struct {
	RunID      string
	Detection  *Detection
	Resolution *Resolution
	Now        time.Time
}

// AssembleReport merges a detection and its resolution into the report
// handed to persistence and the API. Neither input is mutated; the report
// owns fresh slices, and every log entry is stamped with the run id and
// timestamp here. Merged entries come first in cluster order, then flagged
// pairs in id order.
func AssembleReport(in AssembleInput) (*models.DedupReport, error) {
	if in.Detection == nil || in.Resolution == nil {
		return nil, errs.NewBiz("dedup.AssembleReport", "detection and resolution are both required", nil)
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	det, res := in.Detection, in.Resolution

	entries := make([]models.DuplicateLogEntry, 0, len(res.LogEntries)+len(res.Flagged))
	for _, e := range res.LogEntries {
		e.RunID = in.RunID
		e.CreatedAt = in.Now
		entries = append(entries, e)
	}
	for _, f := range res.Flagged {
		entries = append(entries, models.DuplicateLogEntry{
			RunID:           in.RunID,
			LocationID1:     f.IDA,
			LocationID2:     f.IDB,
			SimilarityScore: f.TextSimilarity,
			DistanceMeters:  f.DistanceMeters,
			ActionTaken:     constants.ActionFlagged,
			CreatedAt:       in.Now,
		})
	}

	stats := det.Stats
	stats.Clusters = len(res.Clusters)
	stats.Merged = len(res.LogEntries)
	stats.Flagged = len(res.Flagged)

	report := &models.DedupReport{
		RunID:      in.RunID,
		Survivors:  append([]models.Location(nil), res.Survivors...),
		Clusters:   append([]models.DuplicateCluster(nil), res.Clusters...),
		LogEntries: entries,
		Skipped:    append([]models.SkippedRecord(nil), det.Skipped...),
		Stats:      stats,
	}
	return report, nil
}
