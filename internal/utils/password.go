package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinCost is the cheapest accepted bcrypt cost; tests use it to stay fast.
const MinCost = bcrypt.MinCost

var ErrEmptyPassword = errors.New("password must not be empty")

// HashPassword returns a bcrypt hash using cost, clamped to bcrypt's valid range.
func HashPassword(plain string, cost int) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}
	switch {
	case cost < bcrypt.MinCost:
		cost = bcrypt.DefaultCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword compares a bcrypt hash with a plain password in constant time.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
