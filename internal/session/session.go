// Package session owns one open conversation: the authoritative message
// list, the derived display timeline, the single pending-offer pointer, and
// the periodic refresh loop. All mutations serialize through the session's
// mutex; the reconciler itself is pure.
package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/marketchat/internal/apperr"
	"github.com/fathima-sithara/marketchat/internal/auth"
	"github.com/fathima-sithara/marketchat/internal/cache"
	"github.com/fathima-sithara/marketchat/internal/client"
	"github.com/fathima-sithara/marketchat/internal/metrics"
	"github.com/fathima-sithara/marketchat/internal/models"
	"github.com/fathima-sithara/marketchat/internal/offer"
	"github.com/fathima-sithara/marketchat/internal/reconcile"
	"github.com/fathima-sithara/marketchat/internal/retry"
)

type Config struct {
	RefreshInterval time.Duration
	Retry           retry.Options
}

func DefaultConfig() Config {
	return Config{
		RefreshInterval: 10 * time.Second,
		Retry:           retry.DefaultOptions(),
	}
}

type Session struct {
	backend client.Backend
	auth    *auth.Context
	snaps   *cache.Snapshots
	log     *zap.Logger
	cfg     Config

	mu         sync.Mutex
	conv       *models.Conversation
	role       auth.Role
	server     []models.Message // last confirmed snapshot plus confirmed mutation results
	optimistic []models.Message
	timeline   []models.Message
	pending    *models.Offer

	closed atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

// Open fetches the conversation, seeds the timeline from the snapshot cache,
// performs the first refresh, and starts the periodic refresh loop. The
// caller must Close the session when the conversation screen goes away.
func Open(ctx context.Context, conversationID string, backend client.Backend, authCtx *auth.Context, snaps *cache.Snapshots, log *zap.Logger, cfg Config) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 10 * time.Second
	}
	if cfg.Retry == (retry.Options{}) {
		cfg.Retry = retry.DefaultOptions()
	}

	conv, err := backend.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	role := authCtx.Role(conv)
	if role == auth.RoleNone {
		return nil, apperr.New(apperr.KindValidation, "caller is not a participant of this conversation")
	}

	s := &Session{
		backend: backend,
		auth:    authCtx,
		snaps:   snaps,
		log:     log.With(zap.String("conversation_id", conv.ID)),
		cfg:     cfg,
		conv:    conv,
		role:    role,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if cached, err := snaps.Get(ctx, conv.ID); err == nil && len(cached) > 0 {
		s.mu.Lock()
		s.server = cached
		s.reconcileLocked(ctx)
		s.mu.Unlock()
	}

	// First refresh is best effort: a failure leaves the cached timeline in
	// place and the loop retries on the next tick.
	if err := s.Refresh(ctx); err != nil {
		s.log.Warn("initial refresh failed", zap.Error(err))
	}

	go s.loop()
	return s, nil
}

// Close stops the refresh loop. In-flight requests are not cancelled; their
// responses are discarded via the liveness flag.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	close(s.stop)
	<-s.done
}

// Conversation returns the conversation metadata the session was opened on.
func (s *Session) Conversation() models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.conv
}

// Timeline returns a copy of the current reconciled timeline.
func (s *Session) Timeline() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.timeline))
	copy(out, s.timeline)
	return out
}

// PendingOffer returns a copy of the single pending offer, or nil.
func (s *Session) PendingOffer() *models.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	o := *s.pending
	return &o
}

func (s *Session) loop() {
	defer close(s.done)
	t := time.NewTicker(s.cfg.RefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RefreshInterval)
			if err := s.Refresh(ctx); err != nil {
				s.log.Warn("refresh failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Refresh pulls the latest server snapshot and reconciles. It is the only
// path by which the other participant's actions become visible. A refresh
// that lands while a user mutation is in flight may transiently show the
// pre-mutation server state until the mutation's own reconcile re-asserts
// the optimistic message; this matches the polling model and is accepted.
func (s *Session) Refresh(ctx context.Context) error {
	msgs, err := s.backend.ListMessages(ctx, s.conversationID())
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("error").Inc()
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		// Response landed after disposal; drop it.
		return nil
	}
	s.server = msgs
	s.pruneOptimisticLocked()
	s.reconcileLocked(ctx)
	metrics.RefreshTotal.WithLabelValues("ok").Inc()
	return nil
}

func (s *Session) conversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.ID
}

// reconcileLocked recomputes the display timeline and the pending-offer
// pointer. Caller holds s.mu.
func (s *Session) reconcileLocked(ctx context.Context) {
	s.timeline = reconcile.Merge(s.server, s.optimistic)
	s.pending = reconcile.CurrentPending(s.timeline)
	metrics.ReconcileTotal.Inc()
	if err := s.snaps.Put(ctx, s.conv.ID, s.timeline); err != nil {
		s.log.Debug("snapshot write failed", zap.Error(err))
	}
}

// pruneOptimisticLocked drops optimistic entries the server snapshot now
// covers: offer events whose offer reached the same (or a later, terminal)
// status, review events whose (reviewer, listing) pair is present, and any
// message whose id the server returned. Caller holds s.mu.
func (s *Session) pruneOptimisticLocked() {
	serverIDs := make(map[string]struct{}, len(s.server))
	offerStatus := make(map[string]models.OfferStatus)
	reviewKeys := make(map[string]struct{})
	for _, m := range s.server {
		serverIDs[m.ID] = struct{}{}
		if m.Kind == models.KindOffer && m.Offer != nil {
			cur, ok := offerStatus[m.Offer.ID]
			if !ok || cur == models.OfferPending {
				offerStatus[m.Offer.ID] = m.Offer.Status
			}
		}
		if m.Kind == models.KindReview && m.Review != nil {
			reviewKeys[m.Review.Key()] = struct{}{}
		}
	}

	kept := s.optimistic[:0]
	for _, m := range s.optimistic {
		if _, ok := serverIDs[m.ID]; ok {
			continue
		}
		if m.Kind == models.KindOffer && m.Offer != nil {
			if st, ok := offerStatus[m.Offer.ID]; ok && (st == m.Offer.Status || st.Terminal()) {
				continue
			}
		}
		if m.Kind == models.KindReview && m.Review != nil {
			if _, ok := reviewKeys[m.Review.Key()]; ok {
				continue
			}
		}
		kept = append(kept, m)
	}
	s.optimistic = kept
}

// SendText posts a plain message with optimistic echo.
func (s *Session) SendText(ctx context.Context, content string) error {
	if s.closed.Load() {
		return apperr.Wrap(apperr.KindValidation, apperr.ErrSessionClosed, "send text")
	}
	if strings.TrimSpace(content) == "" {
		return apperr.New(apperr.KindValidation, "message content is empty")
	}
	tmp := s.newOptimistic(models.KindText, content, nil, nil)
	return s.mutate(ctx, tmp, func(ctx context.Context) (*models.Message, error) {
		return s.backend.PostMessage(ctx, client.CreateMessage{
			ConversationID: tmp.ConversationID,
			Content:        content,
		})
	})
}

// CreateOffer proposes a price. Buyer only; rejected locally when an offer
// is already pending or the price is invalid.
func (s *Session) CreateOffer(ctx context.Context, price string) error {
	if s.closed.Load() {
		return apperr.Wrap(apperr.KindValidation, apperr.ErrSessionClosed, "create offer")
	}
	p, err := offer.ParsePrice(price)
	if err != nil {
		return err
	}
	s.mu.Lock()
	role, pending := s.role, s.pending
	s.mu.Unlock()
	if err := offer.Validate(offer.ActionCreate, role, pending); err != nil {
		return err
	}

	tmp := s.newOptimistic(models.KindOffer, "Offered $"+p.StringFixed(2), &models.Offer{
		ID:     "tmp-" + uuid.NewString(),
		Price:  p,
		Status: models.OfferPending,
	}, nil)
	return s.mutate(ctx, tmp, func(ctx context.Context) (*models.Message, error) {
		return s.backend.PostMessage(ctx, client.CreateMessage{
			ConversationID: tmp.ConversationID,
			Content:        tmp.Content,
			IsOffer:        true,
			Price:          &p,
		})
	})
}

// RespondToOffer accepts or rejects the pending offer. Seller only.
func (s *Session) RespondToOffer(ctx context.Context, accept bool) error {
	action := offer.ActionReject
	apiAction := client.OfferReject
	if accept {
		action = offer.ActionAccept
		apiAction = client.OfferAccept
	}
	return s.offerTransition(ctx, action, apiAction)
}

// CancelOffer withdraws the pending offer. Buyer only.
func (s *Session) CancelOffer(ctx context.Context) error {
	return s.offerTransition(ctx, offer.ActionCancel, client.OfferCancel)
}

func (s *Session) offerTransition(ctx context.Context, action offer.Action, apiAction client.OfferAction) error {
	if s.closed.Load() {
		return apperr.Wrap(apperr.KindValidation, apperr.ErrSessionClosed, string(action))
	}
	s.mu.Lock()
	role, pending := s.role, s.pending
	s.mu.Unlock()
	if err := offer.Validate(action, role, pending); err != nil {
		return err
	}

	moved := *pending
	moved.Status = offer.Next(action)
	tmp := s.newOptimistic(models.KindOffer, string(moved.Status), &moved, nil)
	return s.mutate(ctx, tmp, func(ctx context.Context) (*models.Message, error) {
		// Action endpoints return no body; the optimistic event stands in
		// until a refresh brings the server's own event for this offer.
		return nil, s.backend.OfferAction(ctx, pending.ID, apiAction)
	})
}

// AmendOffer replaces the pending offer with a new price: cancel, confirmed
// by the server, then create. If the cancel fails the old offer remains
// pending and no create is attempted. A failure after the confirmed cancel
// leaves the conversation with no pending offer; the session surfaces the
// error and does not compensate.
func (s *Session) AmendOffer(ctx context.Context, newPrice string) error {
	if s.closed.Load() {
		return apperr.Wrap(apperr.KindValidation, apperr.ErrSessionClosed, "amend offer")
	}
	if _, err := offer.ParsePrice(newPrice); err != nil {
		return err
	}
	s.mu.Lock()
	role, pending := s.role, s.pending
	s.mu.Unlock()
	if err := offer.Validate(offer.ActionAmend, role, pending); err != nil {
		return err
	}

	cancelled := *pending
	cancelled.Status = models.OfferCancelled
	tmp := s.newOptimistic(models.KindOffer, string(models.OfferCancelled), &cancelled, nil)
	if err := s.mutate(ctx, tmp, func(ctx context.Context) (*models.Message, error) {
		return nil, s.backend.OfferAction(ctx, pending.ID, client.OfferCancel)
	}); err != nil {
		return apperr.Wrap(apperr.KindOf(err), err, "amend: cancel step failed, original offer kept")
	}
	return s.CreateOffer(ctx, newPrice)
}

// SubmitReview posts a post-sale review. Buyer only, listing sold, an offer
// accepted, one review per (reviewer, listing).
func (s *Session) SubmitReview(ctx context.Context, rating int, text string) error {
	if s.closed.Load() {
		return apperr.Wrap(apperr.KindValidation, apperr.ErrSessionClosed, "submit review")
	}
	s.mu.Lock()
	role := s.role
	conv := *s.conv
	accepted := reconcile.HasAccepted(s.timeline)
	already := reconcile.HasReviewBy(s.timeline, s.auth.UserID, conv.Listing.ID)
	s.mu.Unlock()
	if err := offer.ValidateReview(role, conv.Listing, rating, accepted, already); err != nil {
		return err
	}

	rev := &models.Review{
		ReviewerID: s.auth.UserID,
		ListingID:  conv.Listing.ID,
		Rating:     rating,
		Text:       text,
	}
	tmp := s.newOptimistic(models.KindReview, "left a review", nil, rev)
	return s.mutate(ctx, tmp, func(ctx context.Context) (*models.Message, error) {
		// The review endpoint returns the review, not a message; the
		// optimistic event stands in until a refresh supersedes it.
		_, err := s.backend.PostReview(ctx, client.CreateReview{
			ReviewedUserID:    conv.Seller.ID,
			ReviewedProductID: conv.Listing.ID,
			Rating:            rating,
			Text:              text,
		})
		return nil, err
	})
}

// LikeListing likes the conversation's listing.
func (s *Session) LikeListing(ctx context.Context) error {
	return s.likeOp(ctx, true)
}

// UnlikeListing unlikes the conversation's listing. A backend answer saying
// the listing is not liked already matches the desired end state and is
// treated as success.
func (s *Session) UnlikeListing(ctx context.Context) error {
	return s.likeOp(ctx, false)
}

func (s *Session) likeOp(ctx context.Context, like bool) error {
	if s.closed.Load() {
		return apperr.Wrap(apperr.KindValidation, apperr.ErrSessionClosed, "like")
	}
	listing := s.Conversation().Listing
	err := retry.Do(ctx, func() error {
		if like {
			return s.backend.Like(ctx, listing.Slug, listing.ID)
		}
		return s.backend.Unlike(ctx, listing.Slug, listing.ID)
	}, s.cfg.Retry)
	if err != nil && apperr.IsConflict(err) {
		s.log.Debug("like state already settled", zap.Error(err))
		return nil
	}
	return err
}

// newOptimistic builds a temporary local message for immediate display.
func (s *Session) newOptimistic(kind models.Kind, content string, off *models.Offer, rev *models.Review) models.Message {
	s.mu.Lock()
	convID := s.conv.ID
	s.mu.Unlock()
	return models.Message{
		ID:             "tmp-" + uuid.NewString(),
		ConversationID: convID,
		SenderID:       s.auth.UserID,
		Content:        content,
		Kind:           kind,
		CreatedAt:      time.Now().UTC(),
		Offer:          off,
		Review:         rev,
		Optimistic:     true,
	}
}

// mutate runs the three-phase pattern: optimistic append + reconcile, the
// retried network call, then replace-or-revert + reconcile. A conflict from
// the backend keeps the optimistic state: the remote side is already where
// the caller wanted it.
func (s *Session) mutate(ctx context.Context, tmp models.Message, call func(context.Context) (*models.Message, error)) error {
	s.mu.Lock()
	s.optimistic = append(s.optimistic, tmp)
	s.reconcileLocked(ctx)
	s.mu.Unlock()

	canonical, err := retry.DoValue(ctx, func() (*models.Message, error) {
		return call(ctx)
	}, s.cfg.Retry)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		// Session was disposed while the call was in flight.
		return apperr.Wrap(apperr.KindValidation, apperr.ErrSessionClosed, "mutation resolved after close")
	}
	if err != nil {
		if apperr.IsConflict(err) {
			// Desired end state already holds; keep the optimistic message.
			s.reconcileLocked(ctx)
			return nil
		}
		s.removeOptimisticLocked(tmp.ID)
		metrics.OptimisticReverts.Inc()
		s.reconcileLocked(ctx)
		return err
	}
	if canonical != nil {
		s.removeOptimisticLocked(tmp.ID)
		s.server = append(s.server, *canonical)
	}
	s.reconcileLocked(ctx)
	return nil
}

func (s *Session) removeOptimisticLocked(id string) {
	kept := s.optimistic[:0]
	for _, m := range s.optimistic {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	s.optimistic = kept
}
