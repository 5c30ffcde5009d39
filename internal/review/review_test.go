package review

import (
	"strings"
	"testing"
	"time"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/models"
)

func strPtr(s string) *string { return &s }

func testPair() (models.Location, models.Location) {
	loc1 := models.Location{
		ID:        1,
		Name:      "Kaffeehaus Mitte",
		Latitude:  52.5200,
		Longitude: 13.4050,
		Address:   strPtr("Alexanderplatz 1, Berlin"),
	}
	loc2 := models.Location{
		ID:        2,
		Name:      "Kaffeehaus Mitte GmbH",
		Latitude:  52.5201,
		Longitude: 13.4051,
		Address:   strPtr("Alexanderplatz 1, 10178 Berlin"),
	}
	return loc1, loc2
}

func TestCostTracker(t *testing.T) {
	tracker := &CostTracker{
		startTime: time.Now(),
	}

	tokens, requests, cost, _ := tracker.GetStats()
	if tokens != 0 || requests != 0 || cost != 0.0 {
		t.Errorf("Expected initial state to be zero, got tokens=%d, requests=%d, cost=%f",
			tokens, requests, cost)
	}

	tracker.AddUsage(100, 50)
	tokens, requests, cost, _ = tracker.GetStats()

	expectedTokens := 150
	expectedRequests := 1
	expectedCost := (100 * 0.15 / 1000000) + (50 * 0.60 / 1000000)

	if tokens != expectedTokens {
		t.Errorf("Expected %d tokens, got %d", expectedTokens, tokens)
	}
	if requests != expectedRequests {
		t.Errorf("Expected %d requests, got %d", expectedRequests, requests)
	}
	if cost < expectedCost-1e-9 || cost > expectedCost+1e-9 {
		t.Errorf("Expected cost around %f, got %f", expectedCost, cost)
	}

	tracker.AddUsage(200, 100)
	tokens, requests, _, _ = tracker.GetStats()

	if tokens != 450 {
		t.Errorf("After second addition, expected 450 tokens, got %d", tokens)
	}
	if requests != 2 {
		t.Errorf("After second addition, expected 2 requests, got %d", requests)
	}
}

func TestPairCache(t *testing.T) {
	cache := NewPairCache()
	defer cache.Stop()

	if _, found := cache.Get("nonexistent"); found {
		t.Error("Expected cache miss for nonexistent key")
	}

	opinion := Opinion{
		EntryID:    "entry-1",
		Verdict:    VerdictMerge,
		Confidence: 0.9,
		Reason:     "Same address, same name modulo legal suffix",
	}
	cache.Set("test-key", opinion)

	retrieved, found := cache.Get("test-key")
	if !found {
		t.Fatal("Expected to find cached opinion")
	}
	if retrieved.Verdict != opinion.Verdict || retrieved.Confidence != opinion.Confidence {
		t.Errorf("Retrieved opinion doesn't match original: %+v vs %+v", retrieved, opinion)
	}

	if size := cache.GetSize(); size != 1 {
		t.Errorf("Expected cache size 1, got %d", size)
	}
}

func TestPairCacheKeyGeneration(t *testing.T) {
	cache := NewPairCache()
	defer cache.Stop()

	loc1, loc2 := testPair()

	key1 := cache.generateKey(loc1, loc2)
	key2 := cache.generateKey(loc1, loc2)
	if key1 != key2 {
		t.Error("Expected stable cache key for the same pair")
	}

	// Editing a field the prompt sees must change the key
	renamed := loc2
	renamed.Name = "Espresso Bar Mitte"
	if key1 == cache.generateKey(loc1, renamed) {
		t.Error("Expected different cache key after a name edit")
	}

	moved := loc2
	moved.Latitude += 0.001
	if key1 == cache.generateKey(loc1, moved) {
		t.Error("Expected different cache key after a coordinate edit")
	}
}

func TestPairCacheExpiration(t *testing.T) {
	cache := NewPairCache()
	defer cache.Stop()

	cache.Set("test-key", Opinion{EntryID: "entry-1", Verdict: VerdictUncertain})

	// Manually age the entry past the 24 hour expiry
	cache.mu.Lock()
	cached := cache.cache["test-key"]
	cached.Timestamp = time.Now().Add(-25 * time.Hour)
	cache.cache["test-key"] = cached
	cache.mu.Unlock()

	if _, found := cache.Get("test-key"); found {
		t.Error("Expected expired opinion to not be found")
	}

	cache.cleanupExpired()

	cache.mu.RLock()
	size := len(cache.cache)
	cache.mu.RUnlock()

	if size != 0 {
		t.Errorf("Expected cache to be empty after cleanup, got size %d", size)
	}
}

func TestParseOpinion(t *testing.T) {
	tests := []struct {
		name               string
		response           string
		expectedVerdict    string
		expectedConfidence float64
		expectError        bool
	}{
		{
			name:               "Valid merge verdict",
			response:           `{"verdict": "merge", "confidence": 0.92, "reason": "Same shop, legal suffix differs"}`,
			expectedVerdict:    VerdictMerge,
			expectedConfidence: 0.92,
		},
		{
			name:               "Valid keep_separate verdict",
			response:           `{"verdict": "keep_separate", "confidence": 0.8, "reason": "Different street numbers"}`,
			expectedVerdict:    VerdictKeepSeparate,
			expectedConfidence: 0.8,
		},
		{
			name:               "Valid uncertain verdict",
			response:           `{"verdict": "uncertain", "confidence": 0.4, "reason": "Not enough signal"}`,
			expectedVerdict:    VerdictUncertain,
			expectedConfidence: 0.4,
		},
		{
			name:               "Uppercase verdict is normalized",
			response:           `{"verdict": "MERGE", "confidence": 0.7, "reason": "same place"}`,
			expectedVerdict:    VerdictMerge,
			expectedConfidence: 0.7,
		},
		{
			name:        "Invalid JSON",
			response:    `not json`,
			expectError: true,
		},
		{
			name:        "Unknown verdict",
			response:    `{"verdict": "maybe", "confidence": 0.5, "reason": "?"}`,
			expectError: true,
		},
		{
			name:               "Confidence out of range defaults to 0.5",
			response:           `{"verdict": "merge", "confidence": 7, "reason": "overconfident"}`,
			expectedVerdict:    VerdictMerge,
			expectedConfidence: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opinion, err := parseOpinion(tt.response, "entry-42")

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}

			if opinion.Verdict != tt.expectedVerdict {
				t.Errorf("Expected verdict %s, got %s", tt.expectedVerdict, opinion.Verdict)
			}
			if opinion.Confidence != tt.expectedConfidence {
				t.Errorf("Expected confidence %f, got %f", tt.expectedConfidence, opinion.Confidence)
			}
			if opinion.EntryID != "entry-42" {
				t.Errorf("Expected entry ID entry-42, got %s", opinion.EntryID)
			}
		})
	}
}

func TestParseOpinionFallback(t *testing.T) {
	tests := []struct {
		name               string
		response           string
		expectedVerdict    string
		expectedConfidence float64
	}{
		{
			name:               "Extract verdict from malformed JSON",
			response:           `The records match. verdict: merge, confidence: 0.85`,
			expectedVerdict:    VerdictMerge,
			expectedConfidence: 0.85,
		},
		{
			name:               "Extract verdict from JSON-like fragment",
			response:           `"verdict": "keep_separate", "confidence": 0.6 (truncated`,
			expectedVerdict:    VerdictKeepSeparate,
			expectedConfidence: 0.6,
		},
		{
			name:               "No verdict found defaults to uncertain",
			response:           `These look similar but I cannot tell for sure`,
			expectedVerdict:    VerdictUncertain,
			expectedConfidence: 0,
		},
		{
			name:               "Confidence out of range is dropped",
			response:           `verdict: merge, confidence: 42`,
			expectedVerdict:    VerdictMerge,
			expectedConfidence: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opinion := parseOpinionFallback(tt.response, "entry-7")

			if opinion.Verdict != tt.expectedVerdict {
				t.Errorf("Expected verdict %s, got %s", tt.expectedVerdict, opinion.Verdict)
			}
			if opinion.Confidence != tt.expectedConfidence {
				t.Errorf("Expected confidence %f, got %f", tt.expectedConfidence, opinion.Confidence)
			}
			if opinion.EntryID != "entry-7" {
				t.Errorf("Expected entry ID entry-7, got %s", opinion.EntryID)
			}
		})
	}
}

func TestSuggestedAction(t *testing.T) {
	tests := []struct {
		verdict  string
		expected string
	}{
		{VerdictMerge, constants.ActionMerged},
		{VerdictKeepSeparate, constants.ActionIgnored},
		{VerdictUncertain, ""},
		{"garbage", ""},
	}

	for _, tt := range tests {
		got := Opinion{Verdict: tt.verdict}.SuggestedAction()
		if got != tt.expected {
			t.Errorf("SuggestedAction for %q: expected %q, got %q", tt.verdict, tt.expected, got)
		}
	}
}

func TestPromptRendering(t *testing.T) {
	pm, err := newPromptManager()
	if err != nil {
		t.Fatalf("newPromptManager failed: %v", err)
	}

	loc1, loc2 := testPair()
	prompt, err := pm.render("pair_review", pairPromptData{
		NameA: loc1.Name, AddressA: orNA(loc1.Address),
		LatA: loc1.Latitude, LonA: loc1.Longitude,
		FollowersA: intOrNA(nil), RatingA: floatOrNA(nil),
		NameB: loc2.Name, AddressB: orNA(loc2.Address),
		LatB: loc2.Latitude, LonB: loc2.Longitude,
		FollowersB: intOrNA(nil), RatingB: floatOrNA(nil),
		Similarity:     0.87,
		DistanceMeters: 12.4,
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	for _, want := range []string{loc1.Name, loc2.Name, "0.870", "12.4 meters", "N/A"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt should contain %q, got:\n%s", want, prompt)
		}
	}

	if _, err := pm.render("does_not_exist", nil); err == nil {
		t.Error("Expected error for unknown template")
	}
}

func TestOpinionStore(t *testing.T) {
	store := NewOpinionStore()

	if _, found := store.Get("missing"); found {
		t.Error("Expected miss for unknown entry")
	}

	store.Save(Opinion{EntryID: "b", Verdict: VerdictMerge, Confidence: 0.9})
	store.Save(Opinion{EntryID: "a", Verdict: VerdictUncertain, Confidence: 0.3})

	if store.Count() != 2 {
		t.Errorf("Expected 2 opinions, got %d", store.Count())
	}

	got, found := store.Get("b")
	if !found {
		t.Fatal("Expected to find opinion for entry b")
	}
	if got.Verdict != VerdictMerge {
		t.Errorf("Expected verdict %s, got %s", VerdictMerge, got.Verdict)
	}

	// Saving again overwrites
	store.Save(Opinion{EntryID: "b", Verdict: VerdictKeepSeparate, Confidence: 0.8})
	got, _ = store.Get("b")
	if got.Verdict != VerdictKeepSeparate {
		t.Errorf("Expected overwrite to %s, got %s", VerdictKeepSeparate, got.Verdict)
	}

	listed := store.List()
	if len(listed) != 2 {
		t.Fatalf("Expected 2 listed opinions, got %d", len(listed))
	}
	if listed[0].EntryID != "a" || listed[1].EntryID != "b" {
		t.Errorf("Expected list ordered by entry ID, got %s then %s", listed[0].EntryID, listed[1].EntryID)
	}

	store.Delete("a")
	if store.Count() != 1 {
		t.Errorf("Expected 1 opinion after delete, got %d", store.Count())
	}
}

func BenchmarkPairCacheOperations(b *testing.B) {
	cache := NewPairCache()
	defer cache.Stop()

	opinion := Opinion{EntryID: "entry-1", Verdict: VerdictMerge, Confidence: 0.9}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		key := "benchmark-key"
		cache.Set(key, opinion)
		_, _ = cache.Get(key)
	}
}

func BenchmarkGenerateKey(b *testing.B) {
	cache := NewPairCache()
	defer cache.Stop()

	loc1, loc2 := testPair()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		cache.generateKey(loc1, loc2)
	}
}
