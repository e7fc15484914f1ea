package models

import (
	"errors"
	"time"
)

type Kind string

const (
	KindText   Kind = "text"
	KindOffer  Kind = "offer_event"
	KindReview Kind = "review_event"
)

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Kind           Kind      `json:"msg_type"`
	CreatedAt      time.Time `json:"created_at"`
	Offer          *Offer    `json:"offer,omitempty"`
	Review         *Review   `json:"review,omitempty"`

	// Optimistic marks a locally created message that the server has not
	// confirmed yet. Never sent over the wire.
	Optimistic bool `json:"-"`
}

// Validate enforces the payload invariant: an offer event carries exactly an
// offer, a review event exactly a review, text carries neither.
func (m *Message) Validate() error {
	switch m.Kind {
	case KindText:
		if m.Offer != nil || m.Review != nil {
			return errors.New("text message must not carry a payload")
		}
	case KindOffer:
		if m.Offer == nil || m.Review != nil {
			return errors.New("offer event must carry exactly an offer payload")
		}
	case KindReview:
		if m.Review == nil || m.Offer != nil {
			return errors.New("review event must carry exactly a review payload")
		}
	default:
		return errors.New("unknown message kind: " + string(m.Kind))
	}
	return nil
}
