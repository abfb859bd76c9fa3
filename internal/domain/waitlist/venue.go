package waitlist

import (
	"encoding/json"
	"fmt"
)

// Venue is the fixed value object an admin-provided venue payload is
// converted into at the boundary. It is stored denormalized on the cycle.
type Venue struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Capacity  int     `json:"capacity"`
}

// Validate checks the venue fields for plausibility.
func (v Venue) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("venue name must not be empty")
	}
	if v.Capacity <= 0 {
		return fmt.Errorf("venue capacity must be positive, got %d", v.Capacity)
	}
	if v.Latitude < -90 || v.Latitude > 90 {
		return fmt.Errorf("venue latitude out of range: %f", v.Latitude)
	}
	if v.Longitude < -180 || v.Longitude > 180 {
		return fmt.Errorf("venue longitude out of range: %f", v.Longitude)
	}
	return nil
}

// ParseVenue decodes and validates a raw admin venue payload.
func ParseVenue(raw []byte) (Venue, error) {
	var v Venue
	if err := json.Unmarshal(raw, &v); err != nil {
		return Venue{}, fmt.Errorf("invalid venue payload: %w", err)
	}
	if err := v.Validate(); err != nil {
		return Venue{}, err
	}
	return v, nil
}
