package inventory

import (
	"errors"
	"time"
)

// MovementStatus enumerates inventory movement states.
type MovementStatus string

const (
	MovementPlanned   MovementStatus = "planned"
	MovementCommitted MovementStatus = "committed"
	MovementCanceled  MovementStatus = "canceled"
)

// Movement is a signed stock change. Planned movements forecast outbound
// stock for a quote; they are weakly linked to the quote by id only.
type Movement struct {
	ID          int64          `json:"id"`
	Code        string         `json:"code"`
	ItemID      int64          `json:"item_id"`
	Qty         float64        `json:"qty"`
	Status      MovementStatus `json:"status"`
	QuoteID     *int64         `json:"quote_id,omitempty"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Reservation is a committed hold on item quantity, tagged with the quote
// that caused it.
type Reservation struct {
	ID          int64     `json:"id"`
	ItemID      int64     `json:"item_id"`
	Qty         float64   `json:"qty"`
	QuoteID     int64     `json:"quote_id"`
	QuoteNumber string    `json:"quote_number"`
	CreatedAt   time.Time `json:"created_at"`
}

// QuoteRef identifies the quote a stock side effect belongs to.
type QuoteRef struct {
	ID     int64
	Number string
}

// Line is the stock-relevant projection of a document line.
type Line struct {
	ItemID int64
	Qty    float64
}

// AvailabilityQuery asks whether an item quantity is free over a window.
type AvailabilityQuery struct {
	ItemID         int64
	QtyNeeded      float64
	From           time.Time
	To             time.Time
	ExcludeQuoteID *int64
}

// Availability is the result of a stock check.
type Availability struct {
	ItemID      int64   `json:"item_id"`
	OnHand      float64 `json:"on_hand"`
	Reserved    float64 `json:"reserved"`
	Available   float64 `json:"available"`
	IsAvailable bool    `json:"is_available"`
}

var (
	// ErrInvalidQuantity indicates a non-positive or zero quantity.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrItemRequired indicates a missing item reference.
	ErrItemRequired = errors.New("inventory: item required")
)
