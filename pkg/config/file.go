package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	errs "coffee-location-dedup/pkg/errors"
)

// fileOverlay mirrors the tunable subset of Config. Pointer fields so an
// absent key leaves the env-derived value alone.
type fileOverlay struct {
	Matching struct {
		TextThreshold      *float64 `yaml:"text_threshold"`
		DistanceThresholdM *float64 `yaml:"distance_threshold_m"`
		FlagMargin         *float64 `yaml:"flag_margin"`
		NameWeight         *float64 `yaml:"name_weight"`
		AddressWeight      *float64 `yaml:"address_weight"`
		CanonicalPolicy    *string  `yaml:"canonical_policy"`
	} `yaml:"matching"`
	Engine struct {
		Workers             *int `yaml:"workers"`
		ScoreParallelism    *int `yaml:"score_parallelism"`
		CellIndexMinRecords *int `yaml:"cell_index_min_records"`
	} `yaml:"engine"`
}

// ApplyFile overlays matching/engine settings from a yaml file onto c.
// Example file:
//
//	matching:
//	  text_threshold: 0.85
//	  distance_threshold_m: 100
//	engine:
//	  workers: 4
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	var ov fileOverlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return errs.NewValidation("config.ApplyFile", "malformed thresholds file", err)
	}

	m := ov.Matching
	if m.TextThreshold != nil {
		c.TextThreshold = *m.TextThreshold
	}
	if m.DistanceThresholdM != nil {
		c.DistanceThresholdM = *m.DistanceThresholdM
	}
	if m.FlagMargin != nil {
		c.FlagMargin = *m.FlagMargin
	}
	if m.NameWeight != nil {
		c.NameWeight = *m.NameWeight
	}
	if m.AddressWeight != nil {
		c.AddressWeight = *m.AddressWeight
	}
	if m.CanonicalPolicy != nil {
		c.CanonicalPolicy = *m.CanonicalPolicy
	}

	e := ov.Engine
	if e.Workers != nil {
		c.WorkerCount = *e.Workers
	}
	if e.ScoreParallelism != nil {
		c.ScoreParallelism = *e.ScoreParallelism
	}
	if e.CellIndexMinRecords != nil {
		c.CellIndexMinRecords = *e.CellIndexMinRecords
	}
	return nil
}
