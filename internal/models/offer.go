package models

import "github.com/shopspring/decimal"

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCancelled OfferStatus = "cancelled"
)

// Terminal reports whether no further transition may leave the status.
func (s OfferStatus) Terminal() bool {
	return s == OfferAccepted || s == OfferRejected || s == OfferCancelled
}

type Offer struct {
	ID     string          `json:"id"`
	Price  decimal.Decimal `json:"price"`
	Status OfferStatus     `json:"status"`
}
