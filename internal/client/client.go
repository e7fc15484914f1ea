// Package client implements the marketplace backend contract over HTTP. All
// payload-to-error translation is concentrated in translateAPIError so the
// rest of the codebase only ever sees apperr kinds.
package client

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fathima-sithara/marketchat/internal/models"
)

type OfferAction string

const (
	OfferAccept OfferAction = "accept"
	OfferReject OfferAction = "reject"
	OfferCancel OfferAction = "cancel"
)

type CreateMessage struct {
	ConversationID string           `json:"conversationId"`
	Content        string           `json:"content"`
	IsOffer        bool             `json:"isOffer"`
	Price          *decimal.Decimal `json:"price,omitempty"`
}

type CreateReview struct {
	ReviewedUserID    string `json:"reviewedUserId"`
	ReviewedProductID string `json:"reviewedProductId"`
	Rating            int    `json:"rating"`
	Text              string `json:"text,omitempty"`
}

// Backend is the network collaborator the session drives. Implementations
// must be safe for concurrent use by the refresh goroutine and user actions.
type Backend interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	PostMessage(ctx context.Context, in CreateMessage) (*models.Message, error)
	// OfferAction returns success or failure only; the caller re-fetches
	// messages to observe the resulting state.
	OfferAction(ctx context.Context, offerID string, action OfferAction) error
	PostReview(ctx context.Context, in CreateReview) (*models.Review, error)
	Like(ctx context.Context, slug, id string) error
	Unlike(ctx context.Context, slug, id string) error
}
