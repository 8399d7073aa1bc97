// Package dataset supplies the short-position data behind the cached API
// endpoints. The admission/caching layer treats these producers as opaque:
// they take a context, return a value or an error, and must respect the
// caller's deadline.
package dataset

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a product code has no reported positions.
var ErrNotFound = errors.New("dataset: not found")

// ShortPosition is one instrument's most recent reported short interest.
type ShortPosition struct {
	ProductCode    string    `json:"productCode"`
	Name           string    `json:"name"`
	Industry       string    `json:"industry"`
	PercentShorted float64   `json:"percentShorted"`
	ReportedDate   time.Time `json:"reportedDate"`
}

// IndustrySlice is one treemap tile: an industry's aggregate short interest.
type IndustrySlice struct {
	Industry       string  `json:"industry"`
	AveragePercent float64 `json:"averagePercent"`
	Instruments    int     `json:"instruments"`
}

// HistoryPoint is one day of an instrument's short-interest series.
type HistoryPoint struct {
	Date           time.Time `json:"date"`
	PercentShorted float64   `json:"percentShorted"`
}

// Detail is the single-instrument view: current position plus history.
type Detail struct {
	ShortPosition
	History []HistoryPoint `json:"history"`
}

// Producers is the stable interface the cache, warmer, and handlers consume.
type Producers interface {
	// TopShorted returns the most-shorted instruments as of the latest
	// reporting date, highest first.
	TopShorted(ctx context.Context, limit int) ([]ShortPosition, error)
	// IndustryTreemap aggregates the latest positions by industry.
	IndustryTreemap(ctx context.Context) ([]IndustrySlice, error)
	// Detail returns one instrument's position and recent history.
	Detail(ctx context.Context, productCode string) (*Detail, error)
}
