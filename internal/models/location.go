package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Location is one coffee-shop record as supplied by the caller. Fields are
// read-only once scoring starts; the engine never mutates its input set.
type Location struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Latitude    float64    `json:"latitude" db:"latitude"`
	Longitude   float64    `json:"longitude" db:"longitude"`
	Address     *string    `json:"address" db:"address"`
	AreaSqm     *float64   `json:"area_sqm" db:"area_sqm"`
	Rating      *float64   `json:"rating" db:"rating"`
	Followers   *int       `json:"followers" db:"followers"`
	PricePerSqm *float64   `json:"price_per_sqm" db:"price_per_sqm"`
	MonthlyRent *float64   `json:"monthly_rent" db:"monthly_rent"`
	CreatedAt   *time.Time `json:"created_at" db:"created_at"`
}

// ComputeHash is the record's identity for idempotent saves: the md5 of
// the lowercased name joined with the raw coordinates. Re-ingesting the
// same listing never creates a second row.
func (l Location) ComputeHash() string {
	lat := strconv.FormatFloat(l.Latitude, 'f', -1, 64)
	lon := strconv.FormatFloat(l.Longitude, 'f', -1, 64)
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%s_%s", strings.ToLower(l.Name), lat, lon)))
	return hex.EncodeToString(sum[:])
}

// StoredLocation is a Location as persisted, with merge bookkeeping columns.
type StoredLocation struct {
	Location
	DataHash    string     `json:"data_hash" db:"data_hash"`
	Active      bool       `json:"active" db:"active"`
	CanonicalID *int64     `json:"canonical_id,omitempty" db:"canonical_id"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// LocationStats contains store-level counts for the stats endpoint.
type LocationStats struct {
	Active  int `json:"active"`
	Merged  int `json:"merged"`
	Flagged int `json:"flagged"`
	Total   int `json:"total"`
}
