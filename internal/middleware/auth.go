package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// GuestHeader identifies a guest that holds no session cookie
const GuestHeader = "X-Guest-User-Id"

const (
	identityKey = "identity"
	sessionTTL  = 30 * 24 * time.Hour
)

// Claims is the signed content of the session cookie. Subject is the user id.
type Claims struct {
	Guest bool `json:"guest"`
	jwt.RegisteredClaims
}

// Identity is the caller of a request
type Identity struct {
	User       *models.UserIdentity
	FromCookie bool
}

// UserLookup resolves the user behind a session or guest header
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.UserIdentity, error)
}

// Sessions issues and verifies session cookies
type Sessions struct {
	secret []byte
	cookie string
	secure bool
	users  UserLookup
	logger *zap.Logger
}

// NewSessions creates the cookie session manager
func NewSessions(secret, cookieName string, secure bool, users UserLookup, logger *zap.Logger) *Sessions {
	if cookieName == "" {
		cookieName = "session"
	}
	return &Sessions{
		secret: []byte(secret),
		cookie: cookieName,
		secure: secure,
		users:  users,
		logger: logger,
	}
}

// Issue signs a session for user and sets it as an HTTP-only cookie
func (s *Sessions) Issue(c *gin.Context, user *models.UserIdentity) error {
	now := time.Now()
	claims := &Claims{
		Guest: user.IsGuest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookie, token, int(sessionTTL.Seconds()), "/", "", s.secure, true)
	return nil
}

// Clear removes the session cookie
func (s *Sessions) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookie, "", -1, "/", "", s.secure, true)
}

// Parse verifies a session token
func (s *Sessions) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// Identify attaches the caller to the context when the session cookie or
// the guest header names a known user. It never aborts.
func (s *Sessions) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := s.fromCookie(c); user != nil {
			c.Set(identityKey, Identity{User: user, FromCookie: true})
			c.Next()
			return
		}

		guestID := strings.TrimSpace(c.GetHeader(GuestHeader))
		if guestID != "" {
			user, err := s.users.GetUser(c.Request.Context(), guestID)
			switch {
			case err != nil:
				s.logger.Debug("Unknown guest header", zap.String("guest_id", guestID), zap.Error(err))
			case !user.IsGuest:
				s.logger.Warn("Guest header names a registered user", zap.String("user_id", guestID))
			default:
				c.Set(identityKey, Identity{User: user})
			}
		}
		c.Next()
	}
}

func (s *Sessions) fromCookie(c *gin.Context) *models.UserIdentity {
	tokenString, err := c.Cookie(s.cookie)
	if err != nil || tokenString == "" {
		return nil
	}
	claims, err := s.Parse(tokenString)
	if err != nil {
		if !errors.Is(err, jwt.ErrTokenExpired) {
			s.logger.Debug("Invalid session cookie", zap.Error(err))
		}
		return nil
	}
	user, err := s.users.GetUser(c.Request.Context(), claims.Subject)
	if err != nil {
		s.logger.Debug("Session names unknown user", zap.String("user_id", claims.Subject), zap.Error(err))
		return nil
	}
	return user
}

// RequireIdentity rejects requests that Identify could not attribute
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := FromContext(c); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// FromContext returns the identified caller
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok && id.User != nil
}
