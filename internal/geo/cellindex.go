package geo

import (
	"math"

	"coffee-location-dedup/internal/models"
)

// Shortest meridian degree length in meters. Using the minimum keeps cell
// steps at least as wide as the query distance everywhere on the sphere.
const metersPerDegreeLat = 110574.0

type cell struct {
	row int
	col int
}

// CellIndex buckets records into a coarse geographic grid sized from a
// distance threshold. Any two records within that distance land in the same
// or an adjacent cell, so Pairs never misses a qualifying pair; it only
// prunes pairs that cannot match on distance.
type CellIndex struct {
	latStep float64
	lonStep float64
	nCols   int
	cells   map[cell][]int
	count   int
}

// BuildCellIndex indexes records by position. thresholdM below one meter is
// clamped; the grid degenerates gracefully for planet-scale thresholds by
// falling back to all pairs.
func BuildCellIndex(records []models.Location, thresholdM float64) *CellIndex {
	if thresholdM < 1 {
		thresholdM = 1
	}

	maxAbsLat := 0.0
	for _, r := range records {
		if a := math.Abs(r.Latitude); a > maxAbsLat {
			maxAbsLat = a
		}
	}
	cosLat := math.Cos(maxAbsLat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}

	ix := &CellIndex{
		latStep: thresholdM / metersPerDegreeLat,
		lonStep: thresholdM / (metersPerDegreeLat * cosLat),
		cells:   make(map[cell][]int),
		count:   len(records),
	}
	ix.nCols = int(math.Ceil(360 / ix.lonStep))

	for i, r := range records {
		k := ix.cellOf(r.Latitude, r.Longitude)
		ix.cells[k] = append(ix.cells[k], i)
	}
	return ix
}

func (ix *CellIndex) cellOf(lat, lon float64) cell {
	col := int(math.Floor((lon + 180) / ix.lonStep))
	if col >= ix.nCols {
		col = ix.nCols - 1
	}
	return cell{
		row: int(math.Floor((lat + 90) / ix.latStep)),
		col: col,
	}
}

// Pairs returns every candidate index pair (i < j) exactly once: all pairs
// sharing a cell plus all pairs in adjacent cells. Column adjacency wraps at
// the antimeridian.
func (ix *CellIndex) Pairs() [][2]int {
	if ix.nCols < 4 {
		return AllPairs(ix.count)
	}

	var out [][2]int

	// Forward half of the 3x3 neighborhood; visiting only these offsets
	// covers each cell pair once.
	offsets := [4]cell{{0, 1}, {1, -1}, {1, 0}, {1, 1}}

	for k, members := range ix.cells {
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				out = append(out, orderPair(members[a], members[b]))
			}
		}
		for _, off := range offsets {
			nk := cell{row: k.row + off.row, col: wrapCol(k.col+off.col, ix.nCols)}
			neighbors, ok := ix.cells[nk]
			if !ok {
				continue
			}
			for _, a := range members {
				for _, b := range neighbors {
					out = append(out, orderPair(a, b))
				}
			}
		}
	}
	return out
}

// AllPairs returns every index pair (i < j) over n records.
func AllPairs(n int) [][2]int {
	if n < 2 {
		return nil
	}
	out := make([][2]int, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, [2]int{i, j})
		}
	}
	return out
}

func orderPair(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

func wrapCol(c, n int) int {
	if c < 0 {
		return c + n
	}
	if c >= n {
		return c - n
	}
	return c
}
