package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrExpiredCredential is returned for a well-formed token past its expiry.
	ErrExpiredCredential = errors.New("token expired")
	// ErrMalformedCredential is returned for tokens with a bad signature,
	// structure or claims.
	ErrMalformedCredential = errors.New("invalid token")
)

const DefaultTokenTTL = 24 * time.Hour

// TokenCodec issues and verifies signed bearer credentials.
type TokenCodec interface {
	Issue(userId int) (string, error)
	Verify(token string) (int, error)
}

type claims struct {
	UserId int `json:"id"`
	jwt.RegisteredClaims
}

type JWTCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewJWTCodec(signingKey []byte, ttl time.Duration) *JWTCodec {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &JWTCodec{
		key: signingKey,
		ttl: ttl,
		now: time.Now,
	}
}

func (c *JWTCodec) Issue(userId int) (string, error) {
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserId: userId,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(userId),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	})

	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

func (c *JWTCodec) Verify(tokenString string) (int, error) {
	var cl claims
	token, err := jwt.ParseWithClaims(tokenString, &cl, func(t *jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrExpiredCredential
		}
		return 0, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	if !token.Valid || cl.UserId <= 0 {
		return 0, ErrMalformedCredential
	}

	return cl.UserId, nil
}
