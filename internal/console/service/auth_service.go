package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/kinetra/agentplane/internal/infra/auth"
)

// TokenResponse is the login payload handed back to the operator UI.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AuthService exchanges the deployment access key for short-lived
// operator tokens. There is no user database: operators share one key
// and self-identify for the audit trail, which is the accepted model
// for this internal tool.
type AuthService struct {
	accessKey []byte
	tokens    *auth.Tokens
	ttl       time.Duration
}

func NewAuthService(accessKey string, tokens *auth.Tokens, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AuthService{accessKey: []byte(accessKey), tokens: tokens, ttl: ttl}
}

var ErrInvalidCredentials = errors.New("invalid credentials")

func (s *AuthService) GenerateToken(ctx context.Context, accessKey, userID, role string) (*TokenResponse, error) {
	if userID == "" {
		return nil, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(accessKey), s.accessKey) != 1 {
		return nil, ErrInvalidCredentials
	}
	if role == "" {
		role = "operator"
	}

	signed, err := s.tokens.Issue(userID, role)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
	}, nil
}
