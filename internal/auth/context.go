package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/marketchat/internal/models"
)

type Role string

const (
	RoleNone   Role = ""
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Context carries the caller's identity and bearer token. It is passed
// explicitly into the session and the backend client; there is no ambient
// token holder.
type Context struct {
	UserID string
	Token  string
}

// Role derives the caller's side of the conversation.
func (a *Context) Role(conv *models.Conversation) Role {
	switch a.UserID {
	case conv.Buyer.ID:
		return RoleBuyer
	case conv.Seller.ID:
		return RoleSeller
	}
	return RoleNone
}

// TokenExpired checks the token's exp claim locally, without verifying the
// signature, so an expired session is caught before a round trip. A token
// that cannot be parsed or carries no exp is left for the backend to judge.
func (a *Context) TokenExpired(now time.Time) bool {
	if a.Token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(a.Token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.After(exp.Time)
}
