// Package token handles session token issuance, validation and server-side
// storage. Login tokens expire and are reaped by a background sweeper;
// permanent tokens (service credentials) are never swept.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Service issues and validates HS256 session tokens carrying the user uuid as
// subject.
type Service struct {
	Secret     []byte
	Expiration time.Duration
}

// Issue signs a new token for the user and returns it with its expiry.
func (s *Service) Issue(userID uuid.UUID) (string, time.Time, error) {
	expires := time.Now().Add(s.Expiration)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := tok.SignedString(s.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Validate parses and verifies a token, returning the user uuid it was issued
// to.
func (s *Service) Validate(value string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.Secret, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(claims.Subject)
}
