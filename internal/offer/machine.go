// Package offer enforces the negotiation state machine: which actor may move
// an offer where, and what counts as a valid price. Everything here runs
// locally, before any request leaves the client.
package offer

import (
	"github.com/shopspring/decimal"

	"github.com/fathima-sithara/marketchat/internal/apperr"
	"github.com/fathima-sithara/marketchat/internal/auth"
	"github.com/fathima-sithara/marketchat/internal/models"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
	ActionCancel Action = "cancel"
	ActionAmend  Action = "amend"
)

// ParsePrice accepts a positive decimal with at most two fraction digits.
func ParsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.Newf(apperr.KindValidation, "price %q is not a number", s)
	}
	if !d.IsPositive() {
		return decimal.Zero, apperr.Newf(apperr.KindValidation, "price must be positive, got %s", s)
	}
	if d.Exponent() < -2 {
		return decimal.Zero, apperr.Newf(apperr.KindValidation, "price %s has more than 2 fraction digits", s)
	}
	return d, nil
}

// Next returns the status a pending offer moves to under action.
func Next(action Action) models.OfferStatus {
	switch action {
	case ActionAccept:
		return models.OfferAccepted
	case ActionReject:
		return models.OfferRejected
	case ActionCancel, ActionAmend:
		return models.OfferCancelled
	default:
		return models.OfferPending
	}
}

// Validate checks role permission and the current offer state for action.
// current is the conversation's single pending offer, nil when there is none.
func Validate(action Action, role auth.Role, current *models.Offer) error {
	switch action {
	case ActionCreate:
		if role != auth.RoleBuyer {
			return permission("only the buyer may create an offer")
		}
		if current != nil {
			return apperr.New(apperr.KindValidation, "an offer is already pending")
		}
		return nil
	case ActionAccept, ActionReject:
		if role != auth.RoleSeller {
			return permission("only the seller may respond to an offer")
		}
	case ActionCancel, ActionAmend:
		if role != auth.RoleBuyer {
			return permission("only the buyer may " + string(action) + " an offer")
		}
	default:
		return apperr.Newf(apperr.KindValidation, "unknown offer action %q", action)
	}
	if current == nil {
		return apperr.Wrap(apperr.KindValidation, apperr.ErrNoPendingOffer, string(action))
	}
	if current.Status.Terminal() {
		return apperr.Newf(apperr.KindValidation, "offer %s is already %s", current.ID, current.Status)
	}
	return nil
}

// ValidateReview gates a review submission: buyer only, listing sold, an
// offer reached accepted, and no prior review for the pair.
func ValidateReview(role auth.Role, listing models.ListingRef, rating int, offerAccepted, alreadyReviewed bool) error {
	if role != auth.RoleBuyer {
		return permission("only the buyer may leave a review")
	}
	if rating < 1 || rating > 5 {
		return apperr.Newf(apperr.KindValidation, "rating must be 1..5, got %d", rating)
	}
	if listing.Status != models.ListingSold {
		return apperr.Newf(apperr.KindValidation, "listing %s is not sold", listing.ID)
	}
	if !offerAccepted {
		return apperr.New(apperr.KindValidation, "no accepted offer to review")
	}
	if alreadyReviewed {
		return apperr.New(apperr.KindValidation, "listing already reviewed")
	}
	return nil
}

func permission(msg string) *apperr.Error {
	return &apperr.Error{Kind: apperr.KindValidation, Code: "permission", Msg: msg}
}
