// Package reconcile merges the server-authoritative message stream with
// locally optimistic messages into the single timeline the caller renders.
// Merge is a pure function: it never mutates its inputs and reconciling an
// already-reconciled timeline with no new input returns the same timeline.
package reconcile

import (
	"sort"
	"strings"

	"github.com/fathima-sithara/marketchat/internal/models"
)

// reviewMarker is the free-text fallback used when a review event arrives
// without structured review data.
const reviewMarker = "left a review"

// Merge produces the display timeline: plain messages, one bubble per offer
// reflecting its chronologically-latest status, one review per
// (reviewer, listing) pair, plus any optimistic messages the server has not
// confirmed yet, all ordered by creation time.
func Merge(server, optimistic []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(server))
	for _, m := range server {
		seen[m.ID] = struct{}{}
	}

	var texts []models.Message
	textByID := make(map[string]int)
	offers := make(map[string]models.Message)
	reviews := make(map[string]models.Message)

	bucket := func(m models.Message) {
		switch {
		case m.Kind == models.KindOffer && m.Offer != nil:
			cur, ok := offers[m.Offer.ID]
			if !ok || !m.CreatedAt.Before(cur.CreatedAt) {
				offers[m.Offer.ID] = m
			}
		case m.Kind == models.KindReview:
			key := reviewKey(m)
			cur, ok := reviews[key]
			if !ok || !m.CreatedAt.Before(cur.CreatedAt) {
				reviews[key] = m
			}
		default:
			// An offer event missing its payload degrades to plain text.
			if m.Kind == models.KindOffer {
				m.Kind = models.KindText
				m.Offer = nil
			}
			if i, dup := textByID[m.ID]; dup {
				texts[i] = m
				return
			}
			textByID[m.ID] = len(texts)
			texts = append(texts, m)
		}
	}

	for _, m := range server {
		bucket(m)
	}
	for _, m := range optimistic {
		if _, confirmed := seen[m.ID]; confirmed {
			continue
		}
		bucket(m)
	}

	out := make([]models.Message, 0, len(texts)+len(offers)+len(reviews))
	out = append(out, texts...)
	for _, m := range offers {
		out = append(out, m)
	}
	for _, m := range reviews {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CurrentPending returns a copy of the pending offer in a reconciled
// timeline, or nil. The timeline holds at most one bubble per offer, so at
// most one pending offer exists at any reconciled instant; when several
// distinct offers are somehow pending the latest wins.
func CurrentPending(timeline []models.Message) *models.Offer {
	for i := len(timeline) - 1; i >= 0; i-- {
		m := timeline[i]
		if m.Kind == models.KindOffer && m.Offer != nil && m.Offer.Status == models.OfferPending {
			o := *m.Offer
			return &o
		}
	}
	return nil
}

// HasAccepted reports whether any offer in the reconciled timeline reached
// the accepted state. Used by the review permission gate.
func HasAccepted(timeline []models.Message) bool {
	for _, m := range timeline {
		if m.Kind == models.KindOffer && m.Offer != nil && m.Offer.Status == models.OfferAccepted {
			return true
		}
	}
	return false
}

// HasReviewBy reports whether reviewer already has a review for listing in
// the reconciled timeline.
func HasReviewBy(timeline []models.Message, reviewerID, listingID string) bool {
	want := models.Review{ReviewerID: reviewerID, ListingID: listingID}.Key()
	for _, m := range timeline {
		if m.Kind != models.KindReview {
			continue
		}
		if reviewKey(m) == want {
			return true
		}
		// Fallback-keyed reviews carry no listing id; match on sender.
		if m.Review == nil && m.SenderID == reviewerID {
			return true
		}
	}
	return false
}

func reviewKey(m models.Message) string {
	if m.Review != nil {
		return m.Review.Key()
	}
	if strings.Contains(strings.ToLower(m.Content), reviewMarker) {
		// No structured payload: the best composite key available is who
		// said it in which conversation.
		return m.SenderID + "|" + m.ConversationID
	}
	return m.ID
}
