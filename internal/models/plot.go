package models

import (
	"time"

	"github.com/google/uuid"
)

// PlotStatus is the lifecycle state of a plot.
type PlotStatus string

const (
	StatusAvailable      PlotStatus = "available"
	StatusLocked         PlotStatus = "locked"
	StatusPendingPayment PlotStatus = "pending_payment"
	StatusSold           PlotStatus = "sold"
)

// allowedTransitions encodes the only legal status moves:
// available -> locked -> pending_payment -> sold, plus release back
// from locked to available.
var allowedTransitions = map[PlotStatus][]PlotStatus{
	StatusAvailable:      {StatusLocked},
	StatusLocked:         {StatusAvailable, StatusPendingPayment},
	StatusPendingPayment: {StatusSold},
	StatusSold:           {},
}

// Valid reports whether s is a known plot status.
func (s PlotStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusLocked, StatusPendingPayment, StatusSold:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition.
func (s PlotStatus) CanTransitionTo(next PlotStatus) bool {
	for _, t := range allowedTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Plot represents a unit of land for sale or lease. Geometry is optional;
// once set it must be a valid simple polygon (repaired during ingestion).
type Plot struct {
	CreatedAt    time.Time  `json:"createdAt"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	PlotNumber   string     `json:"plotNumber,omitempty"`
	UsageType    string     `json:"usageType"`
	Status       PlotStatus `json:"status"`
	Geom         *Polygon   `json:"geometry,omitempty"`
	LocationID   *uuid.UUID `json:"locationId,omitempty"`
	UploadedByID uuid.UUID  `json:"uploadedById"`
	ID           uuid.UUID  `json:"id"`
	AreaSqm      float64    `json:"areaSqm"`
	Price        float64    `json:"price"`
}

// PlotStatistics is the aggregate view computed over the plot table.
type PlotStatistics struct {
	TotalPlots     int     `json:"totalPlots"`
	AvailablePlots int     `json:"availablePlots"`
	SoldPlots      int     `json:"soldPlots"`
	TotalAreaSqm   float64 `json:"totalAreaSqm"`
	AveragePrice   float64 `json:"averagePrice"`
	MinPrice       float64 `json:"minPrice"`
	MaxPrice       float64 `json:"maxPrice"`
}
