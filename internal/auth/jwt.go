package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrWrongTable = errors.New("token issued for another table")

// Claims of a join token. A device holding one may open a connection to
// the table it names.
type Claims struct {
	TableID string `json:"tid"`
	jwt.RegisteredClaims
}

// Service signs and checks join tokens for one table.
type Service struct {
	secret  []byte
	tableID string
}

func NewService(secret []byte, tableID string) *Service {
	return &Service{secret: secret, tableID: tableID}
}

func (s *Service) TableID() string { return s.tableID }

// Sign issues a join token. ttl <= 0 issues a token without expiry, which
// is what a printed QR code needs.
func (s *Service) Sign(ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TableID: s.tableID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

func (s *Service) Verify(token string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.TableID != s.tableID {
		return nil, ErrWrongTable
	}
	return claims, nil
}
