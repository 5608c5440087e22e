package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kidfun/internal/core"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTokenExpiration is the default lifetime of a parent token.
	DefaultTokenExpiration = 24 * time.Hour

	// BcryptCost is the cost factor for bcrypt password hashing.
	BcryptCost = 12

	issuer = "kidfun"
)

// ErrInvalidToken is returned when a bearer token is missing, expired or forged.
var ErrInvalidToken = fmt.Errorf("%w: invalid token", core.ErrUnauthorized)

// AccountLookup finds parent accounts by email
type AccountLookup interface {
	GetAccountByEmail(ctx context.Context, email string) (*core.Account, error)
}

// Claims represents the JWT claims for a parent. The account ID is also the
// family channel key.
type Claims struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// Service handles parent authentication
type Service struct {
	accounts        AccountLookup
	jwtSecret       []byte
	tokenExpiration time.Duration
	clock           core.Clock
}

// NewService creates a new authentication service
func NewService(accounts AccountLookup, jwtSecret string, tokenExpiration time.Duration) *Service {
	if tokenExpiration == 0 {
		tokenExpiration = DefaultTokenExpiration
	}

	return &Service{
		accounts:        accounts,
		jwtSecret:       []byte(jwtSecret),
		tokenExpiration: tokenExpiration,
		clock:           core.RealClock{},
	}
}

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password cannot be empty", core.ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword verifies a password against a hash.
func VerifyPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// Login checks credentials and issues a token
func (s *Service) Login(ctx context.Context, email, password string) (*core.Account, string, error) {
	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, "", core.ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("get account: %w", err)
	}

	if err := VerifyPassword(password, account.PasswordHash); err != nil {
		return nil, "", core.ErrInvalidCredentials
	}

	token, err := s.GenerateToken(account)
	if err != nil {
		return nil, "", err
	}

	return account, token, nil
}

// GenerateToken issues a signed HS256 token for an account
func (s *Service) GenerateToken(account *core.Account) (string, error) {
	now := s.clock.Now()
	claims := &Claims{
		AccountID: account.ID,
		Email:     account.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   account.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signedToken, nil
}

// ValidateToken validates a token and returns its claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AccountID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
