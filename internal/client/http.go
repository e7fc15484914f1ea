package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/marketchat/internal/apperr"
	"github.com/fathima-sithara/marketchat/internal/auth"
	"github.com/fathima-sithara/marketchat/internal/models"
)

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond int
	RateBurst     int
}

type HTTP struct {
	base string
	http *http.Client
	auth *auth.Context
	brk  *gobreaker.CircuitBreaker
	lim  *rate.Limiter
	log  *zap.Logger
}

func NewHTTP(cfg Config, authCtx *auth.Context, log *zap.Logger) *HTTP {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 20
	}
	brk := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "marketplace-backend",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	return &HTTP{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{Timeout: cfg.Timeout},
		auth: authCtx,
		brk:  brk,
		lim:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		log:  log,
	}
}

func (c *HTTP) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations/"+id, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *HTTP) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := c.do(ctx, http.MethodGet, "/conversations/"+conversationID+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *HTTP) PostMessage(ctx context.Context, in CreateMessage) (*models.Message, error) {
	var msg models.Message
	if err := c.do(ctx, http.MethodPost, "/messages", in, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *HTTP) OfferAction(ctx context.Context, offerID string, action OfferAction) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/offers/%s/%s", offerID, action), nil, nil)
}

func (c *HTTP) PostReview(ctx context.Context, in CreateReview) (*models.Review, error) {
	var rev models.Review
	if err := c.do(ctx, http.MethodPost, "/reviews", in, &rev); err != nil {
		return nil, err
	}
	return &rev, nil
}

func (c *HTTP) Like(ctx context.Context, slug, id string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/listings/%s/%s/like", slug, id), nil, nil)
}

func (c *HTTP) Unlike(ctx context.Context, slug, id string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/listings/%s/%s/like", slug, id), nil, nil)
}

func (c *HTTP) do(ctx context.Context, method, path string, body, out any) error {
	if c.auth != nil && c.auth.TokenExpired(time.Now()) {
		return apperr.New(apperr.KindAuth, "session token expired")
	}
	if err := c.lim.Wait(ctx); err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "rate limiter")
	}

	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.KindFatal, err, "encode request")
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return apperr.Wrap(apperr.KindFatal, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != nil && c.auth.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.auth.Token)
	}

	res, err := c.brk.Execute(func() (any, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, err, method+" "+path)
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 400 {
			return nil, c.translateAPIError(resp.StatusCode, raw)
		}
		return raw, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			c.log.Warn("backend circuit open", zap.String("path", path))
			return apperr.Wrap(apperr.KindTransient, err, "circuit open")
		}
		return err
	}
	if out == nil {
		return nil
	}
	raw := res.([]byte)
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(apperr.KindFatal, err, "decode response")
	}
	return nil
}

// apiError is the backend's error envelope. Code is the structured
// discriminator; Message is kept for the legacy substring fallback.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

// notLikedMarker is the stopgap for backends that return no structured code
// on DELETE of an already-unliked listing. Kept in exactly one place.
const notLikedMarker = "not liked"

// translateAPIError is the single point where backend failures become
// apperr kinds.
func (c *HTTP) translateAPIError(status int, raw []byte) error {
	var e apiError
	_ = json.Unmarshal(raw, &e)

	switch {
	case e.Code == "not_liked" || e.Code == "already_unliked":
		return &apperr.Error{Kind: apperr.KindConflict, Code: e.Code, Msg: e.Message}
	case e.Code == "" && strings.Contains(strings.ToLower(e.Message), notLikedMarker):
		return &apperr.Error{Kind: apperr.KindConflict, Msg: e.Message}
	case status == http.StatusUnauthorized:
		return &apperr.Error{Kind: apperr.KindAuth, Code: e.Code, Msg: nonEmpty(e.Message, "unauthorized")}
	case status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return &apperr.Error{Kind: apperr.KindTransient, Code: e.Code, Msg: nonEmpty(e.Message, fmt.Sprintf("backend returned %d", status))}
	default:
		return &apperr.Error{Kind: apperr.KindFatal, Code: e.Code, Msg: nonEmpty(e.Message, fmt.Sprintf("backend returned %d", status))}
	}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
