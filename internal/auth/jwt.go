package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// Allows reports whether a holder of r may act as required.
func (r Role) Allows(required Role) bool {
	return r == required || r == RoleAdmin
}

type JWTClaims struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`

	jwt.RegisteredClaims
}

type JWTService struct {
	secretKey  []byte
	expiration time.Duration
	now        func() time.Time
}

func NewJWTService(secretKey string, expiration time.Duration) *JWTService {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &JWTService{
		secretKey:  []byte(secretKey),
		expiration: expiration,
		now:        time.Now,
	}
}

func (s *JWTService) GenerateToken(username string, role Role) (string, error) {
	now := s.now()
	claims := &JWTClaims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "camdesk",
			Subject:   username,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(s.secretKey)
}

func (s *JWTService) VerifyToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer("camdesk"))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
