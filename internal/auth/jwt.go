package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"shortlink/internal/config"
	"shortlink/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims JWT claims структура. Токены выпускает внешний сервис аккаунтов.
type Claims struct {
	AccountID int64  `json:"account_id"`
	Tier      string `json:"tier"`
	jwt.RegisteredClaims
}

// Principal is the verified account behind a request.
type Principal struct {
	AccountID int64
	Tier      domain.Tier
}

// JWTService проверяет bearer токены
type JWTService struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTService(cfg *config.Auth) *JWTService {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &JWTService{
		secret: []byte(cfg.JWTSecret),
		parser: jwt.NewParser(opts...),
	}
}

// ValidateToken проверяет и парсит токен
func (s *JWTService) ValidateToken(tokenString string) (*Principal, error) {
	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.AccountID <= 0 {
		return nil, fmt.Errorf("%w: missing account_id", ErrInvalidToken)
	}
	tier, err := domain.ParseTier(claims.Tier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &Principal{AccountID: claims.AccountID, Tier: tier}, nil
}

// ExtractTokenFromBearer извлекает токен из Bearer заголовка
func ExtractTokenFromBearer(authHeader string) string {
	const bearerPrefix = "Bearer "
	if len(authHeader) > len(bearerPrefix) && authHeader[:len(bearerPrefix)] == bearerPrefix {
		return authHeader[len(bearerPrefix):]
	}
	return ""
}
