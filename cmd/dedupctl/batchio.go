package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"coffee-location-dedup/internal/models"
)

var locationHeader = []string{
	"id", "name", "latitude", "longitude", "address",
	"area_sqm", "rating", "followers", "price_per_sqm", "monthly_rent",
}

// readLocations loads a batch from a .csv or .json file.
func readLocations(path string) ([]models.Location, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return readLocationsJSON(path)
	case ".csv":
		return readLocationsCSV(path)
	}
	return nil, fmt.Errorf("unsupported input format %q (want .csv or .json)", filepath.Ext(path))
}

// writeLocations writes a batch to a .csv or .json file.
func writeLocations(path string, locations []models.Location) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := json.MarshalIndent(locations, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	case ".csv":
		return writeLocationsCSV(path, locations)
	}
	return fmt.Errorf("unsupported output format %q (want .csv or .json)", filepath.Ext(path))
}

func readLocationsJSON(path string) ([]models.Location, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var locations []models.Location
	if err := json.Unmarshal(data, &locations); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return locations, nil
}

func readLocationsCSV(path string) ([]models.Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"id", "name", "latitude", "longitude"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%s: missing required column %q", path, required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var locations []models.Location
	line := 1
	for {
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%s line %d: %w", path, line+1, err)
		}
		line++

		id, err := strconv.ParseInt(field(row, "id"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad id %q", path, line, field(row, "id"))
		}
		lat, err := strconv.ParseFloat(field(row, "latitude"), 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad latitude %q", path, line, field(row, "latitude"))
		}
		lon, err := strconv.ParseFloat(field(row, "longitude"), 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad longitude %q", path, line, field(row, "longitude"))
		}

		loc := models.Location{
			ID:        id,
			Name:      field(row, "name"),
			Latitude:  lat,
			Longitude: lon,
		}
		if s := field(row, "address"); s != "" {
			loc.Address = &s
		}
		loc.AreaSqm = parseFloatPtr(field(row, "area_sqm"))
		loc.Rating = parseFloatPtr(field(row, "rating"))
		loc.Followers = parseIntPtr(field(row, "followers"))
		loc.PricePerSqm = parseFloatPtr(field(row, "price_per_sqm"))
		loc.MonthlyRent = parseFloatPtr(field(row, "monthly_rent"))

		locations = append(locations, loc)
	}
	return locations, nil
}

func writeLocationsCSV(path string, locations []models.Location) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(locationHeader); err != nil {
		return err
	}
	for _, loc := range locations {
		row := []string{
			strconv.FormatInt(loc.ID, 10),
			loc.Name,
			strconv.FormatFloat(loc.Latitude, 'f', -1, 64),
			strconv.FormatFloat(loc.Longitude, 'f', -1, 64),
			strPtr(loc.Address),
			floatPtr(loc.AreaSqm),
			floatPtr(loc.Rating),
			intPtr(loc.Followers),
			floatPtr(loc.PricePerSqm),
			floatPtr(loc.MonthlyRent),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// writeLogEntries writes the duplicate log as CSV.
func writeLogEntries(path string, entries []models.DuplicateLogEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"run_id", "location_id_1", "location_id_2", "similarity_score", "distance_meters", "action_taken"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.RunID,
			strconv.FormatInt(e.LocationID1, 10),
			strconv.FormatInt(e.LocationID2, 10),
			strconv.FormatFloat(e.SimilarityScore, 'f', 4, 64),
			strconv.FormatFloat(e.DistanceMeters, 'f', 2, 64),
			e.ActionTaken,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func parseFloatPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseIntPtr(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func strPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func floatPtr(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func intPtr(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
