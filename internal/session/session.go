// Package session keeps the requester's face id in a signed, expiring
// cookie. The face id is never written anywhere else.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/your-org/gallery/internal/config"
)

var ErrInvalidSession = errors.New("invalid session")

const issuer = "gallery"

// Claims is the cookie payload.
type Claims struct {
	FaceID string `json:"fid"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret []byte
	cookie string
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewManager(cfg config.SessionConfig) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("session secret is empty")
	}
	return &Manager{
		secret: []byte(cfg.Secret),
		cookie: cfg.CookieName,
		ttl:    cfg.TTL,
		secure: cfg.Secure,
		now:    time.Now,
	}, nil
}

// Sign returns a token carrying faceID and its expiry.
func (m *Manager) Sign(faceID string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		FaceID: faceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, exp, nil
}

// Parse validates a token and returns its claims.
func (m *Manager) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if claims.FaceID == "" {
		return nil, fmt.Errorf("%w: no face id", ErrInvalidSession)
	}
	return claims, nil
}

// Issue sets the session cookie for faceID.
func (m *Manager) Issue(c *gin.Context, faceID string) (time.Time, error) {
	token, exp, err := m.Sign(faceID)
	if err != nil {
		return time.Time{}, err
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     m.cookie,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return exp, nil
}

// FaceID returns the face id of the request's session, or "" when there is
// no valid session.
func (m *Manager) FaceID(c *gin.Context) string {
	raw, err := c.Cookie(m.cookie)
	if err != nil || raw == "" {
		return ""
	}
	claims, err := m.Parse(raw)
	if err != nil {
		return ""
	}
	return claims.FaceID
}

// Clear expires the session cookie.
func (m *Manager) Clear(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     m.cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
