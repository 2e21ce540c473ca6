// Package auth binds HTTP requests to a ledger account through HS256 bearer tokens.
package auth

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
)

// Authenticator issues and validates account tokens.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// New creates an Authenticator. secret must not be empty.
func New(secret, issuer, audience string) (*Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &Authenticator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}, nil
}

// Issue signs a token whose subject is account.
func (a *Authenticator) Issue(account common.Address, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub": account.Hex(),
		"iss": a.issuer,
		"aud": a.audience,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate verifies tokenString and returns the account it names.
func (a *Authenticator) Validate(tokenString string) (common.Address, error) {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}

	parsed, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, keyFunc,
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to verify JWT: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return common.Address{}, fmt.Errorf("invalid JWT claims")
	}

	// Verify issuer
	if iss, ok := claims["iss"].(string); !ok || iss != a.issuer {
		return common.Address{}, fmt.Errorf("invalid issuer")
	}

	// Verify audience
	if aud, ok := claims["aud"].(string); !ok || aud != a.audience {
		return common.Address{}, fmt.Errorf("invalid audience")
	}

	sub, ok := claims["sub"].(string)
	if !ok || !common.IsHexAddress(sub) {
		return common.Address{}, fmt.Errorf("subject is not an account address")
	}
	return common.HexToAddress(sub), nil
}
