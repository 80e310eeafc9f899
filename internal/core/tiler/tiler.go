// Package tiler maps regions and coordinates onto the H3 hexagonal grid.
// Cell ids are the stable join key between SEARCH jobs and stored places:
// identical coordinates always land in the identical cell, so overlapping
// coverage requests converge on the same job set.
package tiler

import (
	"fmt"
	"math"

	h3 "github.com/uber/h3-go/v4"
)

const (
	minResolution = 0
	maxResolution = 15

	// Vertex count for the ring used to approximate a circular region.
	circleVertices = 32

	earthRadiusMeters = 6371000.0
)

// CellOf returns the H3 cell containing (lat, lon) at the given resolution.
// Pure: identical inputs always produce the identical cell id.
func CellOf(lat, lon float64, resolution int) (string, error) {
	if err := validateCoords(lat, lon); err != nil {
		return "", err
	}
	if err := validateResolution(resolution); err != nil {
		return "", err
	}
	cell := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, resolution)
	return cell.String(), nil
}

// Cover returns the set of cells at the given resolution whose union covers
// the region. A region smaller than a single cell still yields the cell
// containing its centroid.
func Cover(region Region, resolution int) ([]string, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	if err := validateResolution(resolution); err != nil {
		return nil, err
	}

	ring := region.Polygon
	if region.Center != nil {
		ring = circleRing(*region.Center, region.RadiusMeters)
	}

	loop := make(h3.GeoLoop, len(ring))
	for i, p := range ring {
		loop[i] = h3.LatLng{Lat: p.Lat, Lng: p.Lon}
	}
	cells := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, resolution)

	seen := make(map[string]struct{}, len(cells))
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		id := c.String()
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	if len(out) > 0 {
		return out, nil
	}

	// PolygonToCells keeps cells whose centroid is inside the ring, so a
	// region smaller than one cell comes back empty.
	centroid := ringCentroid(ring)
	id := h3.LatLngToCell(h3.LatLng{Lat: centroid.Lat, Lng: centroid.Lon}, resolution).String()
	return []string{id}, nil
}

// Parent returns the containing cell at the next coarser resolution.
func Parent(cellID string) (string, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return "", err
	}
	res := cell.Resolution()
	if res == minResolution {
		return "", fmt.Errorf("tiler: cell %s is already at resolution 0", cellID)
	}
	return cell.Parent(res - 1).String(), nil
}

// Children returns the cells at the given finer resolution contained in cellID.
func Children(cellID string, resolution int) ([]string, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return nil, err
	}
	if err := validateResolution(resolution); err != nil {
		return nil, err
	}
	if resolution <= cell.Resolution() {
		return nil, fmt.Errorf("tiler: child resolution %d not finer than cell resolution %d", resolution, cell.Resolution())
	}
	children := cell.Children(resolution)
	out := make([]string, len(children))
	for i, c := range children {
		out[i] = c.String()
	}
	return out, nil
}

// Neighbors returns the ring of cells adjacent to cellID, excluding the cell
// itself. Used to widen a search across cell boundaries.
func Neighbors(cellID string) ([]string, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return nil, err
	}
	disk := h3.GridDisk(cell, 1)
	out := make([]string, 0, len(disk)-1)
	for _, c := range disk {
		if c == cell {
			continue
		}
		out = append(out, c.String())
	}
	return out, nil
}

// Resolution reports the resolution level of a cell id.
func Resolution(cellID string) (int, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return 0, err
	}
	return cell.Resolution(), nil
}

// Centroid returns the center coordinate of a cell.
func Centroid(cellID string) (Point, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return Point{}, err
	}
	ll := h3.CellToLatLng(cell)
	return Point{Lat: ll.Lat, Lon: ll.Lng}, nil
}

func parseCell(cellID string) (h3.Cell, error) {
	cell := h3.Cell(h3.IndexFromString(cellID))
	if !cell.IsValid() {
		return 0, fmt.Errorf("tiler: invalid cell id %q", cellID)
	}
	return cell, nil
}

func validateResolution(resolution int) error {
	if resolution < minResolution || resolution > maxResolution {
		return fmt.Errorf("tiler: resolution %d out of range %d..%d", resolution, minResolution, maxResolution)
	}
	return nil
}

// circleRing approximates a circle as a closed ring of vertices. The
// equirectangular offset is accurate well past the radii used for POI
// coverage; polar caps are clamped to valid latitude.
func circleRing(center Point, radiusMeters float64) []Point {
	dLat := (radiusMeters / earthRadiusMeters) * (180 / math.Pi)
	cosLat := math.Cos(center.Lat * math.Pi / 180)
	if cosLat < 1e-9 {
		cosLat = 1e-9
	}
	dLon := dLat / cosLat

	ring := make([]Point, circleVertices)
	for i := range ring {
		theta := 2 * math.Pi * float64(i) / circleVertices
		lat := center.Lat + dLat*math.Sin(theta)
		lon := center.Lon + dLon*math.Cos(theta)
		ring[i] = Point{Lat: clamp(lat, -90, 90), Lon: wrapLon(lon)}
	}
	return ring
}

func ringCentroid(ring []Point) Point {
	var lat, lon float64
	for _, p := range ring {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(ring))
	return Point{Lat: lat / n, Lon: lon / n}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func wrapLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
