package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/marketchat/internal/apperr"
	"github.com/fathima-sithara/marketchat/internal/auth"
	"github.com/fathima-sithara/marketchat/internal/cache"
	"github.com/fathima-sithara/marketchat/internal/client"
	"github.com/fathima-sithara/marketchat/internal/models"
	"github.com/fathima-sithara/marketchat/internal/retry"
)

// fakeBackend is an in-memory collaborator that counts mutation calls and
// can be told to fail specific operations.
type fakeBackend struct {
	mu     sync.Mutex
	conv   models.Conversation
	msgs   []models.Message
	offers map[string]*models.Offer

	postMessageCalls int
	offerActionCalls int
	unlikeCalls      int

	failPostMessage error
	failOfferAction error
	failUnlike      error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		conv: models.Conversation{
			ID: "c1",
			Listing: models.ListingRef{
				ID: "l1", Slug: "vintage-camera", Title: "Vintage Camera", Status: "active",
			},
			Buyer:  models.Participant{ID: "buyer-1"},
			Seller: models.Participant{ID: "seller-1"},
		},
		offers: make(map[string]*models.Offer),
	}
}

func (f *fakeBackend) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.conv
	return &c, nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Message, len(f.msgs))
	copy(out, f.msgs)
	return out, nil
}

func (f *fakeBackend) PostMessage(ctx context.Context, in client.CreateMessage) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postMessageCalls++
	if f.failPostMessage != nil {
		return nil, f.failPostMessage
	}
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		SenderID:       "caller",
		Content:        in.Content,
		Kind:           models.KindText,
		CreatedAt:      time.Now().UTC(),
	}
	if in.IsOffer {
		off := models.Offer{ID: uuid.NewString(), Price: *in.Price, Status: models.OfferPending}
		msg.Kind = models.KindOffer
		msg.Offer = &off
		f.offers[off.ID] = &off
	}
	f.msgs = append(f.msgs, msg)
	return &msg, nil
}

func (f *fakeBackend) OfferAction(ctx context.Context, offerID string, action client.OfferAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offerActionCalls++
	if f.failOfferAction != nil {
		return f.failOfferAction
	}
	off, ok := f.offers[offerID]
	if !ok {
		return apperr.New(apperr.KindFatal, "offer not found")
	}
	switch action {
	case client.OfferAccept:
		off.Status = models.OfferAccepted
	case client.OfferReject:
		off.Status = models.OfferRejected
	case client.OfferCancel:
		off.Status = models.OfferCancelled
	}
	moved := *off
	f.msgs = append(f.msgs, models.Message{
		ID:             uuid.NewString(),
		ConversationID: f.conv.ID,
		SenderID:       "caller",
		Content:        string(moved.Status),
		Kind:           models.KindOffer,
		CreatedAt:      time.Now().UTC(),
		Offer:          &moved,
	})
	return nil
}

func (f *fakeBackend) PostReview(ctx context.Context, in client.CreateReview) (*models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rev := models.Review{ReviewerID: "buyer-1", ListingID: in.ReviewedProductID, Rating: in.Rating, Text: in.Text}
	f.msgs = append(f.msgs, models.Message{
		ID:             uuid.NewString(),
		ConversationID: f.conv.ID,
		SenderID:       rev.ReviewerID,
		Content:        "left a review",
		Kind:           models.KindReview,
		CreatedAt:      time.Now().UTC(),
		Review:         &rev,
	})
	return &rev, nil
}

func (f *fakeBackend) Like(ctx context.Context, slug, id string) error { return nil }

func (f *fakeBackend) Unlike(ctx context.Context, slug, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlikeCalls++
	return f.failUnlike
}

func (f *fakeBackend) mutationCalls() (post, action int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.postMessageCalls, f.offerActionCalls
}

func testConfig() Config {
	return Config{
		RefreshInterval: time.Hour, // keep the background loop out of the way
		Retry:           retry.Options{MaxRetries: 2, Delay: time.Millisecond},
	}
}

func openAs(t *testing.T, backend client.Backend, userID string) *Session {
	t.Helper()
	s, err := Open(context.Background(), "c1", backend,
		&auth.Context{UserID: userID, Token: userID},
		cache.New(nil, "", 0), zap.NewNop(), testConfig())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func offerMessages(timeline []models.Message, offerID string) []models.Message {
	var out []models.Message
	for _, m := range timeline {
		if m.Kind == models.KindOffer && m.Offer != nil && m.Offer.ID == offerID {
			out = append(out, m)
		}
	}
	return out
}

func TestOpenRejectsNonParticipant(t *testing.T) {
	_, err := Open(context.Background(), "c1", newFakeBackend(),
		&auth.Context{UserID: "stranger"}, cache.New(nil, "", 0), zap.NewNop(), testConfig())
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestSendTextReplacesOptimisticWithCanonical(t *testing.T) {
	backend := newFakeBackend()
	s := openAs(t, backend, "buyer-1")

	require.NoError(t, s.SendText(context.Background(), "is this available?"))
	timeline := s.Timeline()
	require.Len(t, timeline, 1)
	assert.False(t, timeline[0].Optimistic)
	assert.False(t, strings.HasPrefix(timeline[0].ID, "tmp-"))
	assert.Equal(t, "is this available?", timeline[0].Content)
}

func TestSendTextRejectsEmpty(t *testing.T) {
	backend := newFakeBackend()
	s := openAs(t, backend, "buyer-1")

	err := s.SendText(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	post, _ := backend.mutationCalls()
	assert.Zero(t, post)
}

func TestSellerCannotCreateOffer(t *testing.T) {
	backend := newFakeBackend()
	s := openAs(t, backend, "seller-1")

	err := s.CreateOffer(context.Background(), "50.00")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	post, action := backend.mutationCalls()
	assert.Zero(t, post)
	assert.Zero(t, action)
}

func TestInvalidPriceRejectedLocally(t *testing.T) {
	backend := newFakeBackend()
	s := openAs(t, backend, "buyer-1")

	for _, price := range []string{"-5", "0", "10.999", "cheap"} {
		err := s.CreateOffer(context.Background(), price)
		require.Error(t, err, price)
		assert.True(t, apperr.IsValidation(err), price)
	}
	post, _ := backend.mutationCalls()
	assert.Zero(t, post)
}

func TestCreateOfferSetsPendingPointer(t *testing.T) {
	backend := newFakeBackend()
	s := openAs(t, backend, "buyer-1")

	require.NoError(t, s.CreateOffer(context.Background(), "50.00"))
	p := s.PendingOffer()
	require.NotNil(t, p)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("50.00")))

	// A second offer while one is pending is rejected locally.
	err := s.CreateOffer(context.Background(), "60.00")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestOfferAcceptEndToEnd(t *testing.T) {
	backend := newFakeBackend()
	ctx := context.Background()

	buyer := openAs(t, backend, "buyer-1")
	require.NoError(t, buyer.CreateOffer(ctx, "50.00"))
	pending := buyer.PendingOffer()
	require.NotNil(t, pending)

	bubbles := offerMessages(buyer.Timeline(), pending.ID)
	require.Len(t, bubbles, 1)
	assert.Equal(t, models.OfferPending, bubbles[0].Offer.Status)

	seller := openAs(t, backend, "seller-1")
	require.NotNil(t, seller.PendingOffer())
	require.NoError(t, seller.RespondToOffer(ctx, true))

	require.NoError(t, seller.Refresh(ctx))
	bubbles = offerMessages(seller.Timeline(), pending.ID)
	require.Len(t, bubbles, 1)
	assert.Equal(t, models.OfferAccepted, bubbles[0].Offer.Status)
	assert.Nil(t, seller.PendingOffer())

	require.NoError(t, buyer.Refresh(ctx))
	bubbles = offerMessages(buyer.Timeline(), pending.ID)
	require.Len(t, bubbles, 1)
	assert.Equal(t, models.OfferAccepted, bubbles[0].Offer.Status)
	assert.Nil(t, buyer.PendingOffer())
}

func TestBuyerCannotRespondSellerCannotCancel(t *testing.T) {
	backend := newFakeBackend()
	ctx := context.Background()
	buyer := openAs(t, backend, "buyer-1")
	require.NoError(t, buyer.CreateOffer(ctx, "50.00"))
	seller := openAs(t, backend, "seller-1")

	_, before := backend.mutationCalls()
	assert.Error(t, buyer.RespondToOffer(ctx, true))
	assert.Error(t, seller.CancelOffer(ctx))
	_, after := backend.mutationCalls()
	assert.Equal(t, before, after)
}

func TestAmendReplacesPendingOffer(t *testing.T) {
	backend := newFakeBackend()
	ctx := context.Background()
	buyer := openAs(t, backend, "buyer-1")
	require.NoError(t, buyer.CreateOffer(ctx, "50.00"))
	old := buyer.PendingOffer()
	require.NotNil(t, old)

	require.NoError(t, buyer.AmendOffer(ctx, "45.00"))
	p := buyer.PendingOffer()
	require.NotNil(t, p)
	assert.NotEqual(t, old.ID, p.ID)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("45.00")))

	require.NoError(t, buyer.Refresh(ctx))
	bubbles := offerMessages(buyer.Timeline(), old.ID)
	require.Len(t, bubbles, 1)
	assert.Equal(t, models.OfferCancelled, bubbles[0].Offer.Status)
}

func TestAmendKeepsOriginalWhenCancelFails(t *testing.T) {
	backend := newFakeBackend()
	ctx := context.Background()
	buyer := openAs(t, backend, "buyer-1")
	require.NoError(t, buyer.CreateOffer(ctx, "50.00"))
	old := buyer.PendingOffer()
	require.NotNil(t, old)

	backend.mu.Lock()
	backend.failOfferAction = apperr.New(apperr.KindTransient, "backend down")
	postBefore := backend.postMessageCalls
	backend.mu.Unlock()

	err := buyer.AmendOffer(ctx, "45.00")
	require.Error(t, err)

	p := buyer.PendingOffer()
	require.NotNil(t, p)
	assert.Equal(t, old.ID, p.ID)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("50.00")))

	backend.mu.Lock()
	assert.Equal(t, postBefore, backend.postMessageCalls, "no new offer may be created")
	backend.mu.Unlock()
}

func TestExhaustedFailureRevertsOptimistic(t *testing.T) {
	backend := newFakeBackend()
	backend.failPostMessage = apperr.New(apperr.KindTransient, "backend down")
	s := openAs(t, backend, "buyer-1")

	err := s.SendText(context.Background(), "hello?")
	require.Error(t, err)
	assert.Empty(t, s.Timeline())

	post, _ := backend.mutationCalls()
	assert.Equal(t, 3, post, "maxRetries+1 attempts")
}

func TestConflictKeepsOptimisticState(t *testing.T) {
	backend := newFakeBackend()
	backend.failPostMessage = &apperr.Error{Kind: apperr.KindConflict, Msg: "already sent"}
	s := openAs(t, backend, "buyer-1")

	require.NoError(t, s.SendText(context.Background(), "hello"))
	timeline := s.Timeline()
	require.Len(t, timeline, 1)
	assert.True(t, timeline[0].Optimistic)
}

func TestUnlikeAlreadyUnlikedResolvesAsSuccess(t *testing.T) {
	backend := newFakeBackend()
	backend.failUnlike = &apperr.Error{Kind: apperr.KindConflict, Code: "not_liked", Msg: "item is not liked"}
	s := openAs(t, backend, "buyer-1")

	assert.NoError(t, s.UnlikeListing(context.Background()))
}

func TestSubmitReviewGates(t *testing.T) {
	backend := newFakeBackend()
	ctx := context.Background()
	buyer := openAs(t, backend, "buyer-1")
	require.NoError(t, buyer.CreateOffer(ctx, "50.00"))
	pending := buyer.PendingOffer()
	require.NotNil(t, pending)

	// Listing not sold, offer not accepted: rejected locally.
	err := buyer.SubmitReview(ctx, 5, "great")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	seller := openAs(t, backend, "seller-1")
	require.NoError(t, seller.RespondToOffer(ctx, true))
	backend.mu.Lock()
	backend.conv.Listing.Status = models.ListingSold
	backend.mu.Unlock()

	// The session re-reads conversation state only at Open; reopen as the
	// buyer would after the sale.
	buyer2 := openAs(t, backend, "buyer-1")
	require.NoError(t, buyer2.SubmitReview(ctx, 5, "great"))
	require.NoError(t, buyer2.Refresh(ctx))

	reviews := 0
	for _, m := range buyer2.Timeline() {
		if m.Kind == models.KindReview {
			reviews++
			assert.False(t, m.Optimistic)
		}
	}
	assert.Equal(t, 1, reviews)

	// Second review for the same listing is rejected.
	err = buyer2.SubmitReview(ctx, 4, "again")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	// The seller may never review.
	err = seller.SubmitReview(ctx, 5, "nice buyer")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestClosedSessionRejectsMutations(t *testing.T) {
	backend := newFakeBackend()
	s, err := Open(context.Background(), "c1", backend,
		&auth.Context{UserID: "buyer-1"}, cache.New(nil, "", 0), zap.NewNop(), testConfig())
	require.NoError(t, err)
	s.Close()

	err = s.SendText(context.Background(), "too late")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrSessionClosed)

	// Close is idempotent.
	s.Close()
}

func TestRefreshPicksUpOtherParticipant(t *testing.T) {
	backend := newFakeBackend()
	ctx := context.Background()
	buyer := openAs(t, backend, "buyer-1")
	seller := openAs(t, backend, "seller-1")

	require.NoError(t, buyer.SendText(ctx, "hi"))
	assert.Empty(t, seller.Timeline())

	require.NoError(t, seller.Refresh(ctx))
	timeline := seller.Timeline()
	require.Len(t, timeline, 1)
	assert.Equal(t, "hi", timeline[0].Content)
}
