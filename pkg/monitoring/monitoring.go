package monitoring

import (
	"context"
	"net/http"
	pp "net/http/pprof"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/gorilla/mux"

	"coffee-location-dedup/pkg/metrics"
)

// ResponseWriter wrapper to capture status codes
type statusWriter struct {
	w          http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) Header() http.Header         { return sw.w.Header() }
func (sw *statusWriter) Write(b []byte) (int, error) { return sw.w.Write(b) }
func (sw *statusWriter) WriteHeader(statusCode int) {
	sw.statusCode = statusCode
	sw.w.WriteHeader(statusCode)
}

// Middleware records request count and latency into the prometheus
// collectors, labeled by the mux route template so path parameters do not
// explode cardinality.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{w: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.ObserveHTTP(route, r.Method, sw.statusCode, time.Since(start))
		})
	}
}

// StartRuntimeSampler updates the runtime gauges until ctx is done.
func StartRuntimeSampler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				metrics.Goroutines.Set(float64(runtime.NumGoroutine()))
				metrics.HeapAllocBytes.Set(float64(ms.Alloc))
			}
		}
	}()
}

// RegisterPprof registers all standard pprof handlers on the provided mux under /debug/pprof/.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pp.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pp.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pp.Profile) // CPU profile
	mux.HandleFunc("/debug/pprof/symbol", pp.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pp.Trace)
	// These are served by Index too, but register explicitly
	mux.Handle("/debug/pprof/goroutine", pp.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", pp.Handler("heap"))
	mux.Handle("/debug/pprof/block", pp.Handler("block"))
	mux.Handle("/debug/pprof/mutex", pp.Handler("mutex"))
}

// EnableProfiling toggles runtime profiling rates for block/mutex when enabled.
func EnableProfiling(enabled bool) {
	if enabled {
		// 1 means capture every blocking event; adjust if too heavy
		runtime.SetBlockProfileRate(1)
		// Sample mutex contention roughly 1/5 of events
		runtime.SetMutexProfileFraction(5)
		// Leave CPU profile off by default; it's on-demand via /profile
		_ = pprof.Lookup("block")
		_ = pprof.Lookup("mutex")
	} else {
		runtime.SetBlockProfileRate(0)
		runtime.SetMutexProfileFraction(0)
	}
}
