package models

import (
	"fmt"
	"strings"
	"time"
)

// Profile holds the attributes captured once at registration.
type Profile struct {
	Name       string `json:"name" db:"name"`
	Age        int    `json:"age" db:"age"`
	BloodGroup string `json:"blood_group" db:"blood_group"`
}

// Validate checks the constraints a profile must satisfy before registration.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if p.Age < 0 {
		return fmt.Errorf("%w: age must be non-negative", ErrInvalidProfile)
	}
	return nil
}

type Patient struct {
	ID        string    `json:"id" db:"id"`
	Profile   Profile   `json:"profile"`
	CreatedAt time.Time `json:"created_at,omitempty" db:"created_at"`
}

// GalleryEntry is one reference encoding as enumerated by the gallery.
type GalleryEntry struct {
	ID       string    `json:"id" db:"id"`
	Encoding []float32 `json:"encoding" db:"encoding"`
}
