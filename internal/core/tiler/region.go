package tiler

import "fmt"

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Region describes a target area to cover: either a closed polygon ring or
// a center point with a radius. Exactly one form must be set.
type Region struct {
	Polygon      []Point `json:"polygon,omitempty" yaml:"polygon,omitempty"`
	Center       *Point  `json:"center,omitempty" yaml:"center,omitempty"`
	RadiusMeters float64 `json:"radius_meters,omitempty" yaml:"radius_meters,omitempty"`
}

func (r Region) Validate() error {
	switch {
	case len(r.Polygon) > 0 && r.Center != nil:
		return fmt.Errorf("region: polygon and center are mutually exclusive")
	case len(r.Polygon) > 0:
		if len(r.Polygon) < 3 {
			return fmt.Errorf("region: polygon needs at least 3 vertices, got %d", len(r.Polygon))
		}
		for _, p := range r.Polygon {
			if err := validateCoords(p.Lat, p.Lon); err != nil {
				return err
			}
		}
		return nil
	case r.Center != nil:
		if err := validateCoords(r.Center.Lat, r.Center.Lon); err != nil {
			return err
		}
		if r.RadiusMeters <= 0 {
			return fmt.Errorf("region: radius must be positive, got %v", r.RadiusMeters)
		}
		return nil
	default:
		return fmt.Errorf("region: either polygon or center+radius is required")
	}
}

func validateCoords(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("region: latitude %v out of range [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("region: longitude %v out of range [-180, 180]", lon)
	}
	return nil
}
