package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token purposes. A link code cannot be used as a session and vice versa.
const (
	PurposeSession      = "session"
	PurposeTelegramLink = "telegram-link"
	PurposeForm         = "form"
)

const linkCodeTTL = 15 * time.Minute

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the user id in the subject.
type Claims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 tokens.
type Tokens struct {
	secret     []byte
	sessionTTL time.Duration
	now        func() time.Time
}

func NewTokens(secret string, sessionTTL time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), sessionTTL: sessionTTL, now: time.Now}
}

// IssueSession returns a session token for userID.
func (t *Tokens) IssueSession(userID uint) (string, error) {
	return t.issue(userID, PurposeSession, t.sessionTTL, "")
}

// IssueLinkCode returns a short-lived code that links a Telegram chat to
// userID, plus the code's id. The caller stores the id so the code can be
// redeemed only once.
func (t *Tokens) IssueLinkCode(userID uint) (code, id string, err error) {
	id = uuid.NewString()
	code, err = t.issue(userID, PurposeTelegramLink, linkCodeTTL, id)
	return code, id, err
}

// IssueFormToken returns a token that page forms echo back for userID.
func (t *Tokens) IssueFormToken(userID uint) (string, error) {
	return t.issue(userID, PurposeForm, t.sessionTTL, "")
}

// ParseSession returns the user id of a valid session token.
func (t *Tokens) ParseSession(token string) (uint, error) {
	userID, _, err := t.parse(token, PurposeSession)
	return userID, err
}

// ParseLinkCode returns the user id and code id of a valid link code.
func (t *Tokens) ParseLinkCode(code string) (userID uint, id string, err error) {
	userID, id, err = t.parse(code, PurposeTelegramLink)
	if err == nil && id == "" {
		return 0, "", ErrInvalidToken
	}
	return userID, id, err
}

// ParseFormToken returns the user id of a valid form token.
func (t *Tokens) ParseFormToken(token string) (uint, error) {
	userID, _, err := t.parse(token, PurposeForm)
	return userID, err
}

func (t *Tokens) issue(userID uint, purpose string, ttl time.Duration, id string) (string, error) {
	now := t.now()
	claims := Claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (t *Tokens) parse(raw, purpose string) (uint, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return 0, "", ErrInvalidToken
	}
	if claims.Purpose != purpose {
		return 0, "", ErrInvalidToken
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, "", ErrInvalidToken
	}
	return uint(id), claims.ID, nil
}
