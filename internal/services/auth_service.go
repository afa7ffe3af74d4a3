package services

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// TokenSigner issues a bearer token for the admin role.
type TokenSigner func(subject string, ttl time.Duration) (string, error)

// AuthService checks the single shared admin passphrase. Only its bcrypt
// hash is kept in memory.
type AuthService struct {
	passHash  []byte
	signToken TokenSigner
	tokenTTL  time.Duration
}

type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewAuthService hashes passphrase. An empty passphrase disables login.
func NewAuthService(passphrase string, signer TokenSigner) (*AuthService, error) {
	s := &AuthService{signToken: signer, tokenTTL: 30 * 24 * time.Hour}
	if strings.TrimSpace(passphrase) == "" {
		return s, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	s.passHash = hash
	return s, nil
}

func (s *AuthService) Enabled() bool { return len(s.passHash) > 0 }

func (s *AuthService) Login(passphrase string) (*AuthResult, error) {
	if !s.Enabled() {
		return nil, NewUnauthorizedError("admin login disabled")
	}
	if strings.TrimSpace(passphrase) == "" {
		return nil, NewInvalidError("password required")
	}
	if err := bcrypt.CompareHashAndPassword(s.passHash, []byte(passphrase)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken("admin", s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, ExpiresAt: time.Now().UTC().Add(s.tokenTTL)}, nil
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}
