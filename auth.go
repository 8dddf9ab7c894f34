package hive

import (
	"errors"
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// connect credentials for the realtime channel
// the token is issued elsewhere. This package only verifies it.

var ErrMissingToken = errors.New("missing token")
var ErrInvalidToken = errors.New("invalid token")

type ChannelAuth struct {
	// hs256 signed jwt with the user id in the `sub` claim
	Token string
}

func (self *ChannelAuth) UserId() (Id, error) {
	return ParseChannelTokenUnverified(self.Token)
}

// verifies the signature and expiry, then extracts the user id
func ParseChannelToken(token string, secret []byte) (Id, error) {
	if token == "" {
		return Id{}, ErrMissingToken
	}

	parsed, err := gojwt.Parse(
		token,
		func(t *gojwt.Token) (any, error) {
			return secret, nil
		},
		gojwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return Id{}, ErrInvalidToken
	}

	return userIdFromClaims(parsed.Claims)
}

// extracts the user id without verifying the signature
// use only for local bookkeeping, e.g. tagging log lines before the server verifies
func ParseChannelTokenUnverified(token string) (Id, error) {
	if token == "" {
		return Id{}, ErrMissingToken
	}

	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return Id{}, ErrInvalidToken
	}

	return userIdFromClaims(parsed.Claims)
}

func userIdFromClaims(claims gojwt.Claims) (Id, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Id{}, ErrInvalidToken
	}
	userId, err := ParseId(sub)
	if err != nil {
		return Id{}, ErrInvalidToken
	}
	return userId, nil
}

// creates a signed channel token. Used by tests and hivectl
func NewChannelToken(userId Id, secret []byte) (string, error) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub": userId.String(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign channel token: %w", err)
	}
	return signed, nil
}
