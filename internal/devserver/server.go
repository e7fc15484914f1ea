// Package devserver is an in-memory marketplace backend implementing the
// contract the client core expects. It exists for local development and
// integration tests; it is not the production server.
package devserver

import (
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fathima-sithara/marketchat/internal/models"
)

type Server struct {
	app *fiber.App
	log *zap.Logger

	mu       sync.Mutex
	convs    map[string]*models.Conversation
	messages map[string][]models.Message // conversation id -> ordered messages
	offers   map[string]*offerState
	likes    map[string]map[string]bool // listing id -> user id -> liked
	reviews  map[string]models.Review   // review key -> review
}

type offerState struct {
	conversationID string
	offer          models.Offer
}

func New(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		log:      log,
		convs:    make(map[string]*models.Conversation),
		messages: make(map[string][]models.Message),
		offers:   make(map[string]*offerState),
		likes:    make(map[string]map[string]bool),
		reviews:  make(map[string]models.Review),
	}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/conversations/:id", s.getConversation)
	app.Get("/conversations/:id/messages", s.listMessages)
	app.Post("/messages", s.postMessage)
	app.Post("/offers/:id/:action", s.offerAction)
	app.Post("/reviews", s.postReview)
	app.Post("/listings/:slug/:id/like", s.like)
	app.Delete("/listings/:slug/:id/like", s.unlike)
	s.app = app
	return s
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.Info("devserver listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error { return s.app.Shutdown() }

// Seed installs a conversation fixture.
func (s *Server) Seed(conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := conv
	s.convs[conv.ID] = &c
}

// MarkSold flips a seeded listing to sold, enabling reviews.
func (s *Server) MarkSold(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[conversationID]; ok {
		c.Listing.Status = models.ListingSold
	}
}

func (s *Server) getConversation(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[c.Params("id")]
	if !ok {
		return apiError(c, fiber.StatusNotFound, "not_found", "conversation not found")
	}
	return c.JSON(conv)
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[c.Params("id")]; !ok {
		return apiError(c, fiber.StatusNotFound, "not_found", "conversation not found")
	}
	msgs := s.messages[c.Params("id")]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return c.JSON(out)
}

type createMessageReq struct {
	ConversationID string           `json:"conversationId"`
	Content        string           `json:"content"`
	IsOffer        bool             `json:"isOffer"`
	Price          *decimal.Decimal `json:"price"`
}

func (s *Server) postMessage(c *fiber.Ctx) error {
	var req createMessageReq
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "malformed body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[req.ConversationID]; !ok {
		return apiError(c, fiber.StatusNotFound, "not_found", "conversation not found")
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       senderID(c),
		Content:        req.Content,
		Kind:           models.KindText,
		CreatedAt:      time.Now().UTC(),
	}
	if req.IsOffer {
		if req.Price == nil || !req.Price.IsPositive() {
			return apiError(c, fiber.StatusBadRequest, "invalid_price", "offer price must be positive")
		}
		off := models.Offer{ID: uuid.NewString(), Price: *req.Price, Status: models.OfferPending}
		msg.Kind = models.KindOffer
		msg.Offer = &off
		s.offers[off.ID] = &offerState{conversationID: req.ConversationID, offer: off}
	}
	s.messages[req.ConversationID] = append(s.messages[req.ConversationID], msg)
	return c.Status(fiber.StatusCreated).JSON(msg)
}

func (s *Server) offerAction(c *fiber.Ctx) error {
	action := c.Params("action")
	switch action {
	case "accept", "reject", "cancel":
	default:
		return apiError(c, fiber.StatusNotFound, "not_found", "unknown action")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.offers[c.Params("id")]
	if !ok {
		return apiError(c, fiber.StatusNotFound, "not_found", "offer not found")
	}
	if st.offer.Status != models.OfferPending {
		return apiError(c, fiber.StatusConflict, "offer_settled", "offer is already "+string(st.offer.Status))
	}
	switch action {
	case "accept":
		st.offer.Status = models.OfferAccepted
	case "reject":
		st.offer.Status = models.OfferRejected
	case "cancel":
		st.offer.Status = models.OfferCancelled
	}
	off := st.offer
	s.messages[st.conversationID] = append(s.messages[st.conversationID], models.Message{
		ID:             uuid.NewString(),
		ConversationID: st.conversationID,
		SenderID:       senderID(c),
		Content:        string(off.Status),
		Kind:           models.KindOffer,
		CreatedAt:      time.Now().UTC(),
		Offer:          &off,
	})
	return c.SendStatus(fiber.StatusNoContent)
}

type createReviewReq struct {
	ReviewedUserID    string `json:"reviewedUserId"`
	ReviewedProductID string `json:"reviewedProductId"`
	Rating            int    `json:"rating"`
	Text              string `json:"text"`
}

func (s *Server) postReview(c *fiber.Ctx) error {
	var req createReviewReq
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "malformed body")
	}
	if req.Rating < 1 || req.Rating > 5 {
		return apiError(c, fiber.StatusBadRequest, "invalid_rating", "rating must be 1..5")
	}
	rev := models.Review{
		ReviewerID: senderID(c),
		ListingID:  req.ReviewedProductID,
		Rating:     req.Rating,
		Text:       req.Text,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[rev.Key()] = rev
	// Attach the review event to the conversation about this listing.
	for id, conv := range s.convs {
		if conv.Listing.ID == req.ReviewedProductID {
			s.messages[id] = append(s.messages[id], models.Message{
				ID:             uuid.NewString(),
				ConversationID: id,
				SenderID:       rev.ReviewerID,
				Content:        "left a review",
				Kind:           models.KindReview,
				CreatedAt:      time.Now().UTC(),
				Review:         &rev,
			})
			break
		}
	}
	return c.Status(fiber.StatusCreated).JSON(rev)
}

func (s *Server) like(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Params("id")
	if s.likes[id] == nil {
		s.likes[id] = make(map[string]bool)
	}
	s.likes[id][senderID(c)] = true
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) unlike(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Params("id")
	user := senderID(c)
	if !s.likes[id][user] {
		return apiError(c, fiber.StatusBadRequest, "not_liked", "item is not liked")
	}
	delete(s.likes[id], user)
	return c.SendStatus(fiber.StatusNoContent)
}

// senderID reads the caller identity from the bearer token's subject when
// present, else from the X-User-Id header. Good enough for a dev backend.
func senderID(c *fiber.Ctx) string {
	if v := c.Get("X-User-Id"); v != "" {
		return v
	}
	tok := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
	if tok != "" && !strings.Contains(tok, ".") {
		// Dev tokens are plain user ids.
		return tok
	}
	return "anonymous"
}

func apiError(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(fiber.Map{"code": code, "error": msg})
}
