package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"coffee-location-dedup/pkg/metrics"
)

// Change describes a configuration update event.
// Only a subset of fields may have changed; see Fields for the list of keys.
type Change struct {
	Old    *Config
	New    *Config
	Fields []string
	Err    error
}

// Subscriber channel buffer size; small to apply back-pressure if receivers are slow.
const subBuf = 4

// Watcher reloads configuration from the environment and the optional
// thresholds overlay file. File edits are picked up via fsnotify on the
// file's directory (editors typically replace files by rename, which kills
// a watch placed on the file itself); a slow ticker re-reads the environment
// as a fallback so env-only changes still land.
type Watcher struct {
	mu       sync.RWMutex
	cur      *Config
	closed   bool
	intv     time.Duration
	subs     []chan Change
	cancel   context.CancelFunc
	filePath string
}

func NewWatcher(interval time.Duration) *Watcher {
	w := &Watcher{intv: interval}
	w.cur = Load()
	w.filePath = w.cur.ThresholdsFile
	return w
}

// Current returns the last good configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Subscribe returns a channel to receive Change notifications.
// Caller should drain the channel until it is closed.
func (w *Watcher) Subscribe() <-chan Change {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan Change, subBuf)
	w.subs = append(w.subs, ch)
	return ch
}

// Close stops the watcher and closes subscriber channels.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.cancel != nil {
		w.cancel()
	}
	for _, s := range w.subs {
		close(s)
	}
	w.subs = nil
	w.mu.Unlock()
}

// Start begins watching in a goroutine. It is safe to call once.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return // already started
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.mu.Unlock()

	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	t := time.NewTicker(w.intv)
	defer t.Stop()

	var fileEvents <-chan fsnotify.Event
	var fileErrors <-chan error
	if w.filePath != "" {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn().Err(err).Msg("config file watch unavailable, falling back to polling")
		} else {
			defer fw.Close()
			if err := fw.Add(filepath.Dir(w.filePath)); err != nil {
				log.Warn().Err(err).Str("path", w.filePath).Msg("config file watch failed")
			} else {
				fileEvents = fw.Events
				fileErrors = fw.Errors
			}
		}
	}

	// Debounce timer for bursts of write events from editors.
	var pending *time.Timer
	var pendingC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-fileEvents:
			if filepath.Base(evt.Name) != filepath.Base(w.filePath) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(200 * time.Millisecond)
				pendingC = pending.C
			} else {
				pending.Reset(200 * time.Millisecond)
			}
		case <-pendingC:
			pending = nil
			pendingC = nil
			w.checkOnce()
		case err := <-fileErrors:
			log.Warn().Err(err).Msg("config file watch error")
		case <-t.C:
			w.checkOnce()
		}
	}
}

func (w *Watcher) checkOnce() {
	newCfg := Load()
	if err := newCfg.Validate(); err != nil {
		metrics.ObserveConfigReload(false)
		w.notify(Change{Old: w.Current(), New: newCfg, Err: fmt.Errorf("invalid config: %w", err)})
		return
	}

	old := w.Current()
	fields := diffKeys(old, newCfg)
	if len(fields) == 0 {
		return
	}

	metrics.ObserveConfigReload(true)
	w.mu.Lock()
	w.cur = newCfg
	w.mu.Unlock()
	w.notify(Change{Old: old, New: newCfg, Fields: fields})
}

func (w *Watcher) notify(chg Change) {
	w.mu.RLock()
	subs := append([]chan Change(nil), w.subs...)
	w.mu.RUnlock()
	for _, s := range subs {
		select {
		case s <- chg:
		default:
			// drop if slow; keep system moving
		}
	}
}

func diffKeys(a, b *Config) []string {
	if a == nil || b == nil {
		return []string{"all"}
	}
	var f []string
	appendIf := func(cond bool, name string) {
		if cond {
			f = append(f, name)
		}
	}
	appendIf(a.TextThreshold != b.TextThreshold, "TextThreshold")
	appendIf(a.DistanceThresholdM != b.DistanceThresholdM, "DistanceThresholdM")
	appendIf(a.FlagMargin != b.FlagMargin, "FlagMargin")
	appendIf(a.NameWeight != b.NameWeight || a.AddressWeight != b.AddressWeight, "Weights")
	appendIf(a.CanonicalPolicy != b.CanonicalPolicy, "CanonicalPolicy")
	appendIf(a.WorkerCount != b.WorkerCount, "WorkerCount")
	appendIf(a.ScoreParallelism != b.ScoreParallelism, "ScoreParallelism")
	appendIf(a.CellIndexMinRecords != b.CellIndexMinRecords, "CellIndexMinRecords")
	appendIf(a.LogLevel != b.LogLevel, "LogLevel")
	appendIf(a.MetricsEnabled != b.MetricsEnabled || a.MetricsPath != b.MetricsPath, "Metrics")
	appendIf(a.ProfilingEnabled != b.ProfilingEnabled || a.AdminPort != b.AdminPort, "Profiling")
	// Add others as needed
	return f
}
