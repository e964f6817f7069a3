// Package auth provides credential hashing and JWT issuance for the REST
// register/login flow and per-room passcode checks.
package auth

import "golang.org/x/crypto/bcrypt"

const DefaultCost = bcrypt.DefaultCost

func HashPassword(plain string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(plain), DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// VerifyPassword reports whether plain matches hash. An empty hash (room
// has no passcode) never matches, regardless of plain.
func VerifyPassword(plain, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
