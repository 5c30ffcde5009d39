package events

import (
	"context"
	"encoding/json"
	"time"

	"coffee-location-dedup/internal/models"
)

// Event is the base interface for all run-related audit events.
// Keep payloads small, use JSON-friendly fields.
// Why: Enables replay and audit without coupling to DB schema.
type Event interface {
	Type() string
	RunID() string
	Timestamp() time.Time
	Actor() *string
	MarshalData() ([]byte, error)
}

// Base contains common event metadata.
type Base struct {
	Ts  time.Time `json:"ts"`
	RID string    `json:"run_id"`
	Act *string   `json:"actor,omitempty"`
}

func (b Base) Timestamp() time.Time { return b.Ts }
func (b Base) RunID() string        { return b.RID }
func (b Base) Actor() *string       { return b.Act }

// --- Concrete events ---

const (
	TypeRunStarted    = "run.started"
	TypeRecordSkipped = "run.record.skipped"
	TypeClusterMerged = "run.cluster.merged"
	TypePairFlagged   = "run.pair.flagged"
	TypeFlagResolved  = "run.flag.resolved"
	TypeRunCompleted  = "run.completed"
	TypeRunFailed     = "run.failed"
)

// RunStarted is emitted when a detection run begins.
type RunStarted struct {
	Base
	Source             string  `json:"source"` // csv|database|api|generated
	TotalRecords       int     `json:"total_records"`
	TextThreshold      float64 `json:"text_threshold"`
	DistanceThresholdM float64 `json:"distance_threshold_m"`
}

func (e RunStarted) Type() string                 { return TypeRunStarted }
func (e RunStarted) MarshalData() ([]byte, error) { return json.Marshal(e) }

// RecordSkipped captures one invalid input record dropped before scoring.
type RecordSkipped struct {
	Base
	LocationID int64  `json:"location_id"`
	Name       string `json:"name,omitempty"`
	Field      string `json:"field"`
	Reason     string `json:"reason"`
}

func (e RecordSkipped) Type() string                 { return TypeRecordSkipped }
func (e RecordSkipped) MarshalData() ([]byte, error) { return json.Marshal(e) }

// ClusterMerged records one cluster collapse with the policy that chose the
// canonical.
type ClusterMerged struct {
	Base
	CanonicalID  int64   `json:"canonical_id"`
	DiscardedIDs []int64 `json:"discarded_ids"`
	Policy       string  `json:"policy"`
}

func (e ClusterMerged) Type() string                 { return TypeClusterMerged }
func (e ClusterMerged) MarshalData() ([]byte, error) { return json.Marshal(e) }

// PairFlagged records a borderline pair parked for human review.
type PairFlagged struct {
	Base
	EntryID        string  `json:"entry_id"`
	LocationID1    int64   `json:"location_id_1"`
	LocationID2    int64   `json:"location_id_2"`
	Similarity     float64 `json:"similarity"`
	DistanceMeters float64 `json:"distance_meters"`
}

func (e PairFlagged) Type() string                 { return TypePairFlagged }
func (e PairFlagged) MarshalData() ([]byte, error) { return json.Marshal(e) }

// FlagResolved records a reviewer verdict on a flagged pair. Actor carries
// the reviewer; a nil actor means an automated resolution.
type FlagResolved struct {
	Base
	EntryID string `json:"entry_id"`
	Action  string `json:"action"` // merged|ignored
}

func (e FlagResolved) Type() string                 { return TypeFlagResolved }
func (e FlagResolved) MarshalData() ([]byte, error) { return json.Marshal(e) }

// RunCompleted carries the final counters of a successful run.
type RunCompleted struct {
	Base
	Stats models.RunStats `json:"stats"`
}

func (e RunCompleted) Type() string                 { return TypeRunCompleted }
func (e RunCompleted) MarshalData() ([]byte, error) { return json.Marshal(e) }

// RunFailed records an aborted run and why.
type RunFailed struct {
	Base
	Reason string `json:"reason"`
}

func (e RunFailed) Type() string                 { return TypeRunFailed }
func (e RunFailed) MarshalData() ([]byte, error) { return json.Marshal(e) }

// EventStore defines persistence and replay.
// Implementations must guarantee ordering per run.
type EventStore interface {
	Append(ctx context.Context, ev ...Event) error
	ListByRun(ctx context.Context, runID string) ([]StoredEvent, error)
	ReplayRun(ctx context.Context, runID string) (*RunState, error)
}

// StoredEvent is a durable representation.
// Seq is a monotonic order within the DB (BIGINT AUTO_INCREMENT).
type StoredEvent struct {
	Seq     int64           `json:"seq"`
	RunID   string          `json:"run_id"`
	Type    string          `json:"type"`
	Ts      time.Time       `json:"ts"`
	Actor   *string         `json:"actor,omitempty"`
	Payload json.RawMessage `json:"payload"` // original JSON
}

// RunState is the result of replaying one run's events.
// This is intentionally small: lifecycle status plus counters.
// UIs can still show full history by listing events.
type RunState struct {
	RunID          string    `json:"run_id"`
	Status         string    `json:"status"`
	LastUpdated    time.Time `json:"last_updated"`
	TotalRecords   int       `json:"total_records"`
	SkippedRecords int       `json:"skipped_records"`
	MergedClusters int       `json:"merged_clusters"`
	FlaggedPairs   int       `json:"flagged_pairs"`
	ResolvedFlags  int       `json:"resolved_flags"`
	LastError      string    `json:"last_error,omitempty"`
}

// Replay applies events in order and rebuilds state.
func Replay(events []StoredEvent) *RunState {
	st := &RunState{}
	for _, se := range events {
		st.RunID = se.RunID
		st.LastUpdated = se.Ts
		switch se.Type {
		case TypeRunStarted:
			var ev RunStarted
			_ = json.Unmarshal(se.Payload, &ev)
			st.Status = "running"
			st.TotalRecords = ev.TotalRecords
		case TypeRecordSkipped:
			st.SkippedRecords++
		case TypeClusterMerged:
			st.MergedClusters++
		case TypePairFlagged:
			st.FlaggedPairs++
		case TypeFlagResolved:
			st.ResolvedFlags++
		case TypeRunCompleted:
			var ev RunCompleted
			_ = json.Unmarshal(se.Payload, &ev)
			st.Status = "completed"
			st.TotalRecords = ev.Stats.TotalRecords
		case TypeRunFailed:
			var ev RunFailed
			_ = json.Unmarshal(se.Payload, &ev)
			st.Status = "failed"
			st.LastError = ev.Reason
		}
	}
	return st
}
