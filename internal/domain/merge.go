package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"coffee-location-dedup/internal/models"
)

// MergeFieldData holds the location fields worth preserving when a record
// is discarded in favor of another.
type MergeFieldData struct {
	Name      *string  `json:"name,omitempty"`
	Address   *string  `json:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Rating    *float64 `json:"rating,omitempty"`
	Followers *int     `json:"followers,omitempty"`
}

// MergeSnapshot tracks where the kept and the discarded record disagreed.
// It is stored alongside the review audit trail so a merge can be argued
// about, or undone by hand, later. Fields equal on both sides are omitted.
type MergeSnapshot struct {
	Kept      *MergeFieldData `json:"kept,omitempty"`
	Discarded *MergeFieldData `json:"discarded,omitempty"`
}

// ToJSON serializes the snapshot to a JSON string for audit log storage
func (ms *MergeSnapshot) ToJSON() (string, error) {
	if ms == nil {
		return "{}", nil
	}

	jsonBytes, err := json.Marshal(ms)
	if err != nil {
		return "", fmt.Errorf("failed to marshal merge snapshot: %w", err)
	}

	return string(jsonBytes), nil
}

// HasDifferences returns true if any field diverged between the two records
func (ms *MergeSnapshot) HasDifferences() bool {
	if ms == nil {
		return false
	}

	return ms.Kept != nil && ms.Discarded != nil
}

// BuildMergeSnapshot compares the surviving record with a discarded one and
// captures the fields where they disagree. Returns nil if the records carry
// identical data.
func BuildMergeSnapshot(kept, discarded models.Location) *MergeSnapshot {
	keptData := &MergeFieldData{}
	discardedData := &MergeFieldData{}
	hasChanges := false

	// Helper to normalize strings for comparison (trim whitespace, treat empty as nil)
	normalizeStr := func(s *string) *string {
		if s == nil {
			return nil
		}
		trimmed := strings.TrimSpace(*s)
		if trimmed == "" {
			return nil
		}
		return &trimmed
	}

	strDiffers := func(a, b *string) bool {
		normA := normalizeStr(a)
		normB := normalizeStr(b)
		if normA == nil && normB == nil {
			return false
		}
		if normA == nil || normB == nil {
			return true
		}
		return *normA != *normB
	}

	keptName, discardedName := kept.Name, discarded.Name
	if strDiffers(&keptName, &discardedName) {
		keptData.Name = &keptName
		discardedData.Name = &discardedName
		hasChanges = true
	}

	if strDiffers(kept.Address, discarded.Address) {
		keptData.Address = kept.Address
		discardedData.Address = discarded.Address
		hasChanges = true
	}

	if kept.Latitude != discarded.Latitude || kept.Longitude != discarded.Longitude {
		keptLat, keptLon := kept.Latitude, kept.Longitude
		dLat, dLon := discarded.Latitude, discarded.Longitude
		keptData.Latitude, keptData.Longitude = &keptLat, &keptLon
		discardedData.Latitude, discardedData.Longitude = &dLat, &dLon
		hasChanges = true
	}

	if floatPtrDiffers(kept.Rating, discarded.Rating) {
		keptData.Rating = kept.Rating
		discardedData.Rating = discarded.Rating
		hasChanges = true
	}

	if intPtrDiffers(kept.Followers, discarded.Followers) {
		keptData.Followers = kept.Followers
		discardedData.Followers = discarded.Followers
		hasChanges = true
	}

	if !hasChanges {
		return nil
	}

	return &MergeSnapshot{
		Kept:      keptData,
		Discarded: discardedData,
	}
}

func floatPtrDiffers(a, b *float64) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	return *a != *b
}

func intPtrDiffers(a, b *int) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	return *a != *b
}
