// Package matcher classifies a query encoding against the gallery by
// Euclidean distance under a fixed tolerance.
package matcher

import (
	"context"
	"fmt"
	"iter"
	"math"

	"github.com/your-org/medface/internal/models"
)

// DefaultTolerance is the reference distance at or below which two encodings
// are considered the same face. Unit-length ArcFace embeddings spread wider;
// the service configures its own threshold for them.
const DefaultTolerance = 0.5

// Mode selects how ties between several entries within tolerance are resolved.
type Mode string

const (
	// FirstMatch returns the first entry within tolerance in enumeration order.
	FirstMatch Mode = "first"
	// BestMatch scans the whole gallery and returns the closest entry within tolerance.
	BestMatch Mode = "best"
)

// Gallery is the read side of the gallery store used for matching.
type Gallery interface {
	Entries(ctx context.Context) iter.Seq2[models.GalleryEntry, error]
}

type Result struct {
	PatientID string
	Distance  float64
	// Scanned is the number of gallery entries compared.
	Scanned int
}

type Matcher struct {
	Tolerance float64
	Mode      Mode
	// Dimension, when positive, is the required length of query encodings.
	Dimension int
}

func New(tolerance float64, mode Mode, dimension int) *Matcher {
	if mode == "" {
		mode = FirstMatch
	}
	return &Matcher{Tolerance: tolerance, Mode: mode, Dimension: dimension}
}

// Match scans the gallery and returns the identity whose reference encoding is
// within tolerance of query. It returns models.ErrNoMatch when none is.
func (m *Matcher) Match(ctx context.Context, gallery Gallery, query []float32) (Result, error) {
	if len(query) == 0 || (m.Dimension > 0 && len(query) != m.Dimension) {
		return Result{}, fmt.Errorf("%w: query has %d components", models.ErrInvalidEncoding, len(query))
	}

	best := Result{Distance: math.Inf(1)}
	scanned := 0
	for entry, err := range gallery.Entries(ctx) {
		if err != nil {
			return Result{}, fmt.Errorf("scan gallery: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		scanned++

		d := EuclideanDistance(query, entry.Encoding)
		if d > m.Tolerance {
			continue
		}
		if m.Mode != BestMatch {
			return Result{PatientID: entry.ID, Distance: d, Scanned: scanned}, nil
		}
		if d < best.Distance {
			best = Result{PatientID: entry.ID, Distance: d}
		}
	}

	if best.PatientID == "" {
		return Result{Scanned: scanned}, models.ErrNoMatch
	}
	best.Scanned = scanned
	return best, nil
}

// EuclideanDistance returns the L2 distance between a and b, or +Inf when the
// vectors differ in length or are empty.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
