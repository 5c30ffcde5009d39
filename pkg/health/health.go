package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     time.Duration              `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

// HealthChecker defines the interface for health check functions
type HealthChecker interface {
	Check(ctx context.Context) ComponentHealth
	Name() string
}

// HealthCheckFunc adapts a plain function to HealthChecker.
type HealthCheckFunc struct {
	name string
	fn   func(ctx context.Context) ComponentHealth
}

func (hcf HealthCheckFunc) Check(ctx context.Context) ComponentHealth { return hcf.fn(ctx) }
func (hcf HealthCheckFunc) Name() string                              { return hcf.name }

func NewHealthCheckFunc(name string, fn func(ctx context.Context) ComponentHealth) HealthChecker {
	return HealthCheckFunc{name: name, fn: fn}
}

// HealthManager runs registered checks and caches the latest results.
type HealthManager struct {
	checkers  map[string]HealthChecker
	results   map[string]ComponentHealth
	startTime time.Time
	version   string
	timeout   time.Duration
	log       zerolog.Logger
	mu        sync.RWMutex
}

func NewHealthManager(version string, timeout time.Duration, log zerolog.Logger) *HealthManager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HealthManager{
		checkers:  make(map[string]HealthChecker),
		results:   make(map[string]ComponentHealth),
		startTime: time.Now(),
		version:   version,
		timeout:   timeout,
		log:       log.With().Str("component", "health").Logger(),
	}
}

// RegisterChecker registers a health checker
func (hm *HealthManager) RegisterChecker(checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	name := checker.Name()
	hm.checkers[name] = checker
	hm.results[name] = ComponentHealth{Name: name, Status: HealthStatusUnknown}

	hm.log.Info().Str("checker", name).Msg("registered health checker")
}

// CheckAll runs all health checks concurrently and returns the aggregate.
func (hm *HealthManager) CheckAll(ctx context.Context) SystemHealth {
	hm.mu.RLock()
	checkers := make([]HealthChecker, 0, len(hm.checkers))
	for _, checker := range hm.checkers {
		checkers = append(checkers, checker)
	}
	hm.mu.RUnlock()

	results := make(chan ComponentHealth, len(checkers))
	var wg sync.WaitGroup
	for _, checker := range checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, hm.timeout)
			defer cancel()
			results <- c.Check(checkCtx)
		}(checker)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	components := make(map[string]ComponentHealth)
	for result := range results {
		components[result.Name] = result
		hm.mu.Lock()
		hm.results[result.Name] = result
		hm.mu.Unlock()
	}

	return SystemHealth{
		Status:     overallStatus(components),
		Timestamp:  time.Now(),
		Version:    hm.version,
		Uptime:     time.Since(hm.startTime),
		Components: components,
	}
}

// GetCachedHealth returns the last known health status without re-checking.
func (hm *HealthManager) GetCachedHealth() SystemHealth {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(hm.results))
	for name, result := range hm.results {
		components[name] = result
	}

	return SystemHealth{
		Status:     overallStatus(components),
		Timestamp:  time.Now(),
		Version:    hm.version,
		Uptime:     time.Since(hm.startTime),
		Components: components,
	}
}

func overallStatus(components map[string]ComponentHealth) HealthStatus {
	if len(components) == 0 {
		return HealthStatusUnknown
	}
	healthy := 0
	for _, c := range components {
		switch c.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusHealthy:
			healthy++
		}
	}
	if healthy == len(components) {
		return HealthStatusHealthy
	}
	return HealthStatusDegraded
}

// Handler serves the aggregate health as JSON, 503 when unhealthy.
func (hm *HealthManager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.CheckAll(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}
}

// LivenessHandler answers as long as the process is serving.
func (hm *HealthManager) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "alive",
			"uptime": time.Since(hm.startTime).String(),
		})
	}
}

// Standard Health Checkers

// DatabaseHealthChecker checks database connectivity
type DatabaseHealthChecker struct {
	db   *sql.DB
	name string
}

func NewDatabaseHealthChecker(db *sql.DB, name string) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{db: db, name: name}
}

func (dhc *DatabaseHealthChecker) Name() string { return dhc.name }

func (dhc *DatabaseHealthChecker) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	result := ComponentHealth{
		Name:        dhc.name,
		LastChecked: time.Now(),
		Metadata:    make(map[string]interface{}),
	}

	if err := dhc.db.PingContext(ctx); err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = err.Error()
		result.Message = "database connection failed"
		result.Duration = time.Since(start)
		return result
	}

	result.Status = HealthStatusHealthy
	result.Message = "database connection successful"

	stats := dhc.db.Stats()
	result.Metadata["open_connections"] = stats.OpenConnections
	result.Metadata["in_use"] = stats.InUse
	result.Metadata["idle"] = stats.Idle
	result.Metadata["wait_count"] = stats.WaitCount

	result.Duration = time.Since(start)
	return result
}

// RedisHealthChecker checks report cache connectivity. The cache is
// optional, so a failure reports degraded rather than unhealthy.
type RedisHealthChecker struct {
	client *redis.Client
	name   string
}

func NewRedisHealthChecker(client *redis.Client, name string) *RedisHealthChecker {
	return &RedisHealthChecker{client: client, name: name}
}

func (rhc *RedisHealthChecker) Name() string { return rhc.name }

func (rhc *RedisHealthChecker) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	result := ComponentHealth{
		Name:        rhc.name,
		LastChecked: time.Now(),
	}

	if err := rhc.client.Ping(ctx).Err(); err != nil {
		result.Status = HealthStatusDegraded
		result.Error = err.Error()
		result.Message = "cache unavailable, falling back to store reads"
	} else {
		result.Status = HealthStatusHealthy
		result.Message = "cache reachable"
	}

	result.Duration = time.Since(start)
	return result
}

// EngineHealthChecker reports on the processing engine via its stats snapshot.
type EngineHealthChecker struct {
	getStats func() interface{}
	running  func() bool
	name     string
}

func NewEngineHealthChecker(name string, running func() bool, getStats func() interface{}) *EngineHealthChecker {
	return &EngineHealthChecker{getStats: getStats, running: running, name: name}
}

func (ehc *EngineHealthChecker) Name() string { return ehc.name }

func (ehc *EngineHealthChecker) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	result := ComponentHealth{
		Name:        ehc.name,
		LastChecked: time.Now(),
		Metadata:    make(map[string]interface{}),
	}

	if ehc.running != nil && !ehc.running() {
		result.Status = HealthStatusUnhealthy
		result.Message = "engine is not running"
		result.Duration = time.Since(start)
		return result
	}

	if ehc.getStats != nil {
		result.Metadata["stats"] = ehc.getStats()
	}
	result.Status = HealthStatusHealthy
	result.Message = "engine is running"
	result.Duration = time.Since(start)
	return result
}
