package rank

import (
	"fmt"
	"strings"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/models"
)

// Assessment is the completeness evaluation of one record.
// Score counts populated optional fields; Filled names them in a fixed
// order so equal-score records compare identically on re-runs.
type Assessment struct {
	Score  int
	Filled []string
	Reason string
}

// Config allows tuning the calculator without code changes.
type Config struct {
	FieldPoints int
}

// DefaultConfig awards one point per populated field.
func DefaultConfig() Config {
	return Config{FieldPoints: constants.CompletenessFieldPoints}
}

// Calculator scores record completeness consistently.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator { return &Calculator{cfg: cfg} }
func NewDefault() *Calculator              { return NewCalculator(DefaultConfig()) }

// Assess counts the optional fields a record actually carries. Name and
// coordinates are required upstream, so they earn nothing here.
func (c *Calculator) Assess(loc models.Location) Assessment {
	var filled []string

	if loc.Address != nil && strings.TrimSpace(*loc.Address) != "" {
		filled = append(filled, "address")
	}
	if loc.AreaSqm != nil && *loc.AreaSqm > 0 {
		filled = append(filled, "area_sqm")
	}
	if loc.Rating != nil {
		filled = append(filled, "rating")
	}
	if loc.Followers != nil {
		filled = append(filled, "followers")
	}

	score := len(filled) * c.cfg.FieldPoints
	return Assessment{
		Score:  score,
		Filled: filled,
		Reason: c.buildReason(score, filled),
	}
}

func (c *Calculator) buildReason(score int, filled []string) string {
	if len(filled) == 0 {
		return "no optional fields populated"
	}
	return fmt.Sprintf("%d of %d optional fields (%s)",
		len(filled), constants.CompletenessFieldCount, strings.Join(filled, ", "))
}
