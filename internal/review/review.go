package review

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/pkg/circuit"
	errs "coffee-location-dedup/pkg/errors"
	"coffee-location-dedup/pkg/metrics"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// Verdicts the assistant may return for a flagged pair.
const (
	VerdictMerge        = "merge"
	VerdictKeepSeparate = "keep_separate"
	VerdictUncertain    = "uncertain"
)

// Opinion is a second opinion on a flagged pair. It is advisory only;
// a reviewer still resolves the flag.
type Opinion struct {
	EntryID    string    `json:"entry_id"`
	Verdict    string    `json:"verdict"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// SuggestedAction maps the verdict onto a flag resolution. Uncertain
// verdicts suggest nothing and the pair stays flagged.
func (o Opinion) SuggestedAction() string {
	switch o.Verdict {
	case VerdictMerge:
		return constants.ActionMerged
	case VerdictKeepSeparate:
		return constants.ActionIgnored
	default:
		return ""
	}
}

// CostTracker tracks OpenAI API usage and costs
type CostTracker struct {
	mu               sync.RWMutex
	totalTokens      int
	totalRequests    int
	estimatedCostUSD float64
	startTime        time.Time
}

func (c *CostTracker) AddUsage(promptTokens, completionTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalTokens += promptTokens + completionTokens
	c.totalRequests++

	// gpt-4o-mini pricing (as of 2025): $0.15/1M prompt tokens, $0.60/1M completion tokens
	promptCost := float64(promptTokens) * 0.15 / 1000000
	completionCost := float64(completionTokens) * 0.60 / 1000000
	c.estimatedCostUSD += promptCost + completionCost
}

func (c *CostTracker) GetStats() (totalTokens, totalRequests int, estimatedCostUSD float64, duration time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.totalTokens, c.totalRequests, c.estimatedCostUSD, time.Since(c.startTime)
}

// PairCache caches opinions so re-reviewing an unchanged pair never
// costs a second API call.
type PairCache struct {
	mu            sync.RWMutex
	cache         map[string]CachedOpinion
	maxSize       int
	cleanupTicker *time.Ticker
	stopChan      chan bool
}

type CachedOpinion struct {
	Opinion   Opinion
	Timestamp time.Time
}

func NewPairCache() *PairCache {
	cache := &PairCache{
		cache:    make(map[string]CachedOpinion),
		maxSize:  1000, // Limit cache size to prevent memory leaks
		stopChan: make(chan bool, 1),
	}

	cache.startCleanup()
	return cache
}

func (c *PairCache) startCleanup() {
	c.cleanupTicker = time.NewTicker(30 * time.Minute)

	go func() {
		for {
			select {
			case <-c.cleanupTicker.C:
				c.cleanupExpired()
			case <-c.stopChan:
				c.cleanupTicker.Stop()
				return
			}
		}
	}()
}

// cleanupExpired removes expired entries and enforces the size limit.
func (c *PairCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, cached := range c.cache {
		if now.Sub(cached.Timestamp) > 24*time.Hour {
			delete(c.cache, key)
		}
	}

	if len(c.cache) <= c.maxSize {
		return
	}

	// Evict oldest entries to get back under the limit
	type cacheEntry struct {
		key       string
		timestamp time.Time
	}
	entries := make([]cacheEntry, 0, len(c.cache))
	for key, cached := range c.cache {
		entries = append(entries, cacheEntry{key: key, timestamp: cached.Timestamp})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].timestamp.Before(entries[j].timestamp)
	})
	entriesToRemove := len(c.cache) - c.maxSize
	for i := 0; i < entriesToRemove; i++ {
		delete(c.cache, entries[i].key)
	}
}

// Stop stops the cleanup routine
func (c *PairCache) Stop() {
	select {
	case c.stopChan <- true:
	default:
	}
}

// GetSize returns the current cache size
func (c *PairCache) GetSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *PairCache) Get(key string) (Opinion, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, exists := c.cache[key]
	if !exists {
		metrics.ObserveCache("review", "miss")
		return Opinion{}, false
	}

	// Cache expires after 24 hours
	if time.Since(cached.Timestamp) > 24*time.Hour {
		metrics.ObserveCache("review", "miss")
		return Opinion{}, false
	}

	metrics.ObserveCache("review", "hit")
	return cached.Opinion, true
}

func (c *PairCache) Set(key string, opinion Opinion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[key] = CachedOpinion{
		Opinion:   opinion,
		Timestamp: time.Now(),
	}
	metrics.ObserveCache("review", "set")
}

func (c *PairCache) generateKey(loc1, loc2 models.Location) string {
	// Key on the fields the prompt sees so edited records get re-reviewed
	data := fmt.Sprintf("%d|%s|%s|%.6f|%.6f|%d|%s|%s|%.6f|%.6f",
		loc1.ID, loc1.Name, orNA(loc1.Address), loc1.Latitude, loc1.Longitude,
		loc2.ID, loc2.Name, orNA(loc2.Address), loc2.Latitude, loc2.Longitude)

	hash := md5.Sum([]byte(data))
	return hex.EncodeToString(hash[:])
}

const systemPrompt = `You are a data quality expert for a coffee shop location directory.
Decide whether two nearby records describe the same physical shop or two different shops.
Always respond in the exact JSON format requested. Be concise to minimize tokens.`

// Assistant drafts second opinions on flagged pairs.
type Assistant struct {
	client      *openai.Client
	prompts     *promptManager
	costTracker *CostTracker
	cache       *PairCache
	breaker     *circuit.Breaker
	log         zerolog.Logger
	model       string
}

func NewAssistant(apiKey string, log zerolog.Logger) (*Assistant, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errs.NewValidation("review.NewAssistant", "OpenAI API key is required", nil)
	}
	pm, err := newPromptManager()
	if err != nil {
		return nil, err
	}
	br := circuit.New(circuit.Config{
		Name:                "review",
		OperationTimeout:    constants.ReviewOperationTimeout,
		OpenFor:             constants.ReviewOpenFor,
		MaxConsecFailures:   5,
		WindowSize:          20,
		FailureRate:         0.5,
		SlowCallThreshold:   constants.ReviewSlowCallThreshold,
		SlowCallRate:        0.8,
		HalfOpenMaxInFlight: 1,
	}, log)

	return &Assistant{
		client:      openai.NewClient(apiKey),
		prompts:     pm,
		costTracker: &CostTracker{startTime: time.Now()},
		cache:       NewPairCache(),
		breaker:     br,
		log:         log,
		model:       openai.GPT4oMini,
	}, nil
}

// GetCostStats returns current API usage statistics
func (a *Assistant) GetCostStats() (totalTokens, totalRequests int, estimatedCostUSD float64, duration time.Duration) {
	return a.costTracker.GetStats()
}

// Stop releases the cache cleanup goroutine.
func (a *Assistant) Stop() { a.cache.Stop() }

type pairPromptData struct {
	NameA, AddressA string
	LatA, LonA      float64
	FollowersA      string
	RatingA         string
	NameB, AddressB string
	LatB, LonB      float64
	FollowersB      string
	RatingB         string
	Similarity      float64
	DistanceMeters  float64
}

// ReviewPair asks the model for a verdict on one flagged pair.
func (a *Assistant) ReviewPair(ctx context.Context, entry models.DuplicateLogEntry, loc1, loc2 models.Location) (*Opinion, error) {
	// Check cache first to avoid duplicate API calls
	cacheKey := a.cache.generateKey(loc1, loc2)
	if cached, found := a.cache.Get(cacheKey); found {
		cached.EntryID = entry.ID // a later run may flag the same pair under a new entry
		return &cached, nil
	}

	prompt, err := a.prompts.render("pair_review", pairPromptData{
		NameA: loc1.Name, AddressA: orNA(loc1.Address),
		LatA: loc1.Latitude, LonA: loc1.Longitude,
		FollowersA: intOrNA(loc1.Followers), RatingA: floatOrNA(loc1.Rating),
		NameB: loc2.Name, AddressB: orNA(loc2.Address),
		LatB: loc2.Latitude, LonB: loc2.Longitude,
		FollowersB: intOrNA(loc2.Followers), RatingB: floatOrNA(loc2.Rating),
		Similarity:     entry.SimilarityScore,
		DistanceMeters: entry.DistanceMeters,
	})
	if err != nil {
		return nil, err
	}

	var resp openai.ChatCompletionResponse
	start := time.Now()
	err = a.breaker.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: systemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			Temperature: 0.1,
			MaxTokens:   150, // Limit response size to reduce costs
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		return callErr
	}, nil)
	if err != nil {
		metrics.ObserveExternal("openai", "chat_completion", 502, time.Since(start))
		return nil, errs.NewExternal("review.ReviewPair", "openai", "chat completion failed", err)
	}
	metrics.ObserveExternal("openai", "chat_completion", 200, time.Since(start))

	// Track API usage
	a.costTracker.AddUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return nil, errs.NewExternal("review.ReviewPair", "openai", "completion returned no choices", nil)
	}

	opinion, perr := parseOpinion(resp.Choices[0].Message.Content, entry.ID)
	if perr != nil {
		// Fallback parsing if structured parsing fails
		opinion = parseOpinionFallback(resp.Choices[0].Message.Content, entry.ID)
	}

	a.log.Debug().
		Str("entry_id", entry.ID).
		Str("verdict", opinion.Verdict).
		Float64("confidence", opinion.Confidence).
		Msg("pair reviewed")

	a.cache.Set(cacheKey, *opinion)
	return opinion, nil
}

// ReviewFlagged drafts opinions for a run's flagged entries. Failed
// pairs get an uncertain opinion so the output always lines up with
// the input; the combined error reports the failures.
func (a *Assistant) ReviewFlagged(ctx context.Context, entries []models.DuplicateLogEntry, locations map[int64]models.Location) ([]Opinion, error) {
	opinions := make([]Opinion, len(entries))
	var failures []error

	sem := make(chan struct{}, 5) // Limit to 5 concurrent API calls
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, entry := range entries {
		loc1, ok1 := locations[entry.LocationID1]
		loc2, ok2 := locations[entry.LocationID2]
		if !ok1 || !ok2 {
			opinions[i] = Opinion{
				EntryID:   entry.ID,
				Verdict:   VerdictUncertain,
				Reason:    "pair records unavailable",
				CreatedAt: time.Now().UTC(),
			}
			continue
		}

		wg.Add(1)
		go func(index int, e models.DuplicateLogEntry, l1, l2 models.Location) {
			defer wg.Done()
			sem <- struct{}{}        // Acquire semaphore
			defer func() { <-sem }() // Release semaphore

			op, err := a.ReviewPair(ctx, e, l1, l2)

			mu.Lock()
			if err != nil {
				failures = append(failures, fmt.Errorf("entry %s failed: %w", e.ID, err))
				opinions[index] = Opinion{
					EntryID:   e.ID,
					Verdict:   VerdictUncertain,
					Reason:    fmt.Sprintf("review failed: %v", err),
					CreatedAt: time.Now().UTC(),
				}
			} else {
				opinions[index] = *op
			}
			mu.Unlock()
		}(i, entry, loc1, loc2)
	}

	wg.Wait()

	// Return opinions even if some pairs failed
	var combinedError error
	if len(failures) > 0 {
		combinedError = fmt.Errorf("review completed with %d errors: %v", len(failures), failures)
	}
	return opinions, combinedError
}

func parseOpinion(response, entryID string) (*Opinion, error) {
	var parsed struct {
		Verdict    string  `json:"verdict"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}

	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("JSON parsing failed: %w", err)
	}

	verdict := strings.ToLower(strings.TrimSpace(parsed.Verdict))
	switch verdict {
	case VerdictMerge, VerdictKeepSeparate, VerdictUncertain:
	default:
		return nil, fmt.Errorf("unknown verdict %q", parsed.Verdict)
	}

	// Validate confidence range
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		parsed.Confidence = 0.5
	}

	return &Opinion{
		EntryID:    entryID,
		Verdict:    verdict,
		Confidence: parsed.Confidence,
		Reason:     parsed.Reason,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func parseOpinionFallback(response, entryID string) *Opinion {
	// Extract verdict using regex as fallback
	verdictRegex := regexp.MustCompile(`(?i)"?verdict"?\s*:\s*"?(merge|keep_separate|uncertain)"?`)
	verdict := VerdictUncertain // Default keeps the pair flagged
	if matches := verdictRegex.FindStringSubmatch(response); len(matches) > 1 {
		verdict = strings.ToLower(matches[1])
	}

	confRegex := regexp.MustCompile(`"?confidence"?\s*:\s*([0-9.]+)`)
	confidence := 0.0
	if matches := confRegex.FindStringSubmatch(response); len(matches) > 1 {
		if parsed, err := strconv.ParseFloat(matches[1], 64); err == nil && parsed >= 0 && parsed <= 1 {
			confidence = parsed
		}
	}

	return &Opinion{
		EntryID:    entryID,
		Verdict:    verdict,
		Confidence: confidence,
		Reason:     "Fallback parsing used - manual review recommended",
		CreatedAt:  time.Now().UTC(),
	}
}

func orNA(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return "N/A"
	}
	return *s
}

func intOrNA(n *int) string {
	if n == nil {
		return "N/A"
	}
	return strconv.Itoa(*n)
}

func floatOrNA(f *float64) string {
	if f == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*f, 'f', 1, 64)
}
