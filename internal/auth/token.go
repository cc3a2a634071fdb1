// Package auth issues and validates the bearer tokens that scope a client to
// one navigation session, or a reporter to the incident it reported.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSessionTokenExpiry is how long session tokens are valid. Sessions
// idle out earlier on the server; the token only bounds replay.
const DefaultSessionTokenExpiry = 4 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token has expired")
)

// SessionClaims are the claims of a navigation session token.
type SessionClaims struct {
	jwt.RegisteredClaims

	// SessionID is the navigation session the bearer may act on.
	SessionID string `json:"sid"`

	// ClientID identifies the device that created the session.
	ClientID string `json:"cid,omitempty"`

	// IncidentID is the incident the bearer may resolve.
	IncidentID string `json:"iid,omitempty"`
}

// TokenConfig holds configuration for the token service.
type TokenConfig struct {
	// SigningKey is the HS256 secret.
	SigningKey string

	// Issuer is the issuer claim (e.g., "https://api.airnav.example").
	Issuer string

	// Audience is the audience claim (e.g., "airnav-navigation").
	Audience string

	// Expiry is the token lifetime (default: DefaultSessionTokenExpiry).
	Expiry time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// TokenService signs and validates session tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
	expiry     time.Duration
	now        func() time.Time
}

// NewTokenService creates a TokenService.
func NewTokenService(cfg TokenConfig) *TokenService {
	if cfg.Expiry == 0 {
		cfg.Expiry = DefaultSessionTokenExpiry
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		expiry:     cfg.Expiry,
		now:        cfg.Now,
	}
}

// Issue creates a token for sessionID.
func (s *TokenService) Issue(sessionID, clientID string) (string, time.Time, error) {
	return s.sign(SessionClaims{SessionID: sessionID, ClientID: clientID}, clientID)
}

// IssueIncident creates the token that lets a reporter resolve incidentID.
func (s *TokenService) IssueIncident(incidentID string) (string, time.Time, error) {
	return s.sign(SessionClaims{IncidentID: incidentID}, "")
}

func (s *TokenService) sign(claims SessionClaims, subject string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.expiry)

	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses token and returns its claims.
func (s *TokenService) Validate(token string) (*SessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid || (claims.SessionID == "" && claims.IncidentID == "") {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
