package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"fixnearby-server/logging"
	"fixnearby-server/models"
	"fixnearby-server/types"
)

// JWTSettings configures token lifetimes
type JWTSettings struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// JWTService handles JWT token operations
type JWTService struct {
	store Store
	cfg   JWTSettings
}

// NewJWTService creates a new JWT service
func NewJWTService(store Store, cfg JWTSettings) *JWTService {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &JWTService{store: store, cfg: cfg}
}

// TokenPair represents a pair of access and refresh tokens
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// ClientMeta identifies the device a refresh token was issued to
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// ErrInvalidToken is returned for bad, expired or revoked tokens
var ErrInvalidToken = errors.New("invalid or expired token")

// GenerateTokenPair generates both access and refresh tokens for a session
func (js *JWTService) GenerateTokenPair(ctx context.Context, s models.Session, meta ClientMeta) (*TokenPair, error) {
	if s.IsAnonymous() {
		return nil, ErrForbidden
	}

	accessToken, err := js.generateAccessToken(s)
	if err != nil {
		return nil, err
	}

	refreshToken, err := js.generateRefreshToken(ctx, s, meta)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(js.cfg.AccessTTL / time.Second),
		TokenType:    "Bearer",
	}, nil
}

func (js *JWTService) generateAccessToken(s models.Session) (string, error) {
	now := time.Now()
	claims := &types.Claims{
		SubjectID: s.SubjectID(),
		Role:      s.Role(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(js.cfg.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "fixnearby-server",
			Subject:   string(s.Role()) + ":" + strconv.FormatUint(uint64(s.SubjectID()), 10),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(js.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func (js *JWTService) generateRefreshToken(ctx context.Context, s models.Session, meta ClientMeta) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	tokenString := hex.EncodeToString(tokenBytes)

	rt := &models.RefreshToken{
		Token:     tokenString,
		SubjectID: s.SubjectID(),
		Role:      s.Role(),
		ExpiresAt: time.Now().Add(js.cfg.RefreshTTL),
		UserAgent: truncate(meta.UserAgent, 500),
		IPAddress: truncate(meta.IPAddress, 45),
	}
	if err := js.store.CreateRefreshToken(ctx, rt); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return tokenString, nil
}

// ValidateAccessToken parses an access token into the session it was issued for
func (js *JWTService) ValidateAccessToken(tokenString string) (models.Session, error) {
	token, err := jwt.ParseWithClaims(tokenString, &types.Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(js.cfg.Secret), nil
	})
	if err != nil {
		return models.Anonymous(), fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*types.Claims)
	if !ok || !token.Valid {
		return models.Anonymous(), ErrInvalidToken
	}

	s := claims.Session()
	if s.IsAnonymous() {
		return s, ErrInvalidToken
	}
	return s, nil
}

// RefreshAccessToken issues a new access token for a valid refresh token
func (js *JWTService) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	rt, err := js.store.GetRefreshToken(ctx, refreshToken)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !rt.IsValid() {
		return nil, ErrInvalidToken
	}

	s := rt.Session()
	if s.IsAnonymous() {
		return nil, ErrInvalidToken
	}
	accessToken, err := js.generateAccessToken(s)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(js.cfg.AccessTTL / time.Second),
		TokenType:    "Bearer",
	}, nil
}

// RevokeRefreshToken revokes a refresh token
func (js *JWTService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	if err := js.store.RevokeRefreshToken(ctx, refreshToken); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// CleanupExpiredTokens removes expired refresh tokens
func (js *JWTService) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	n, err := js.store.DeleteExpiredRefreshTokens(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	logging.Ctx(ctx).Info().Int64("deleted", n).Msg("Expired refresh tokens cleaned up")
	return n, nil
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	return string(bytes), err
}

// CheckPasswordHash compares a password with its hash
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
